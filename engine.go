// Package omniacore is a dialogue data acquisition engine: it decides, for
// each field a conversation must collect, how to extract a validated value
// from free-form user input, retries with bounded escalations, and feeds
// tester verdicts back into pattern refinement.
//
// The package is a library. A conversation runtime constructs one Engine at
// startup, builds a dialogue machine per task-tree node, and routes user
// utterances through it. There is no network surface of its own; all
// external collaborators (LLM, NER service, address backend) are reached
// through the provider clients configured here.
package omniacore

import (
	"context"
	"fmt"

	"omniacore/internal/config"
	"omniacore/internal/contract"
	"omniacore/internal/dialogue"
	"omniacore/internal/extract"
	"omniacore/internal/logging"
	"omniacore/internal/provider"
	"omniacore/internal/refine"
	"omniacore/internal/registry"
	"omniacore/internal/tasktree"
	"omniacore/internal/types"
)

// Engine owns the wired acquisition stack: contract set, extractor registry,
// engine orchestrator, and the refinement loop. Safe for concurrent use; the
// dialogue machines it creates are not, and belong to one conversation each.
type Engine struct {
	cfg       *config.Config
	contracts map[types.Kind]*contract.SemanticContract

	store    *registry.SQLiteStore
	registry *registry.Registry
	watcher  *registry.Watcher

	orchestrator *extract.Orchestrator
	feedback     *refine.FeedbackStore
	refiner      *refine.Loop
}

// EngineOption overrides a collaborator, mainly for embedding and tests.
type EngineOption func(*collaborators)

type collaborators struct {
	llm     provider.LLMClient
	ner     provider.NERClient
	address provider.AddressParser
}

// WithLLMClient substitutes the chat-completion provider.
func WithLLMClient(c provider.LLMClient) EngineOption {
	return func(o *collaborators) { o.llm = c }
}

// WithNERClient substitutes the entity model service client.
func WithNERClient(c provider.NERClient) EngineOption {
	return func(o *collaborators) { o.ner = c }
}

// WithAddressParser substitutes the address-parsing backend client.
func WithAddressParser(p provider.AddressParser) EngineOption {
	return func(o *collaborators) { o.address = p }
}

// New builds an Engine from the config. Providers without credentials or
// endpoints are left unconfigured: their engines report no match and the
// deterministic engines carry the load. contractsDir may be empty.
func New(ctx context.Context, cfg *config.Config, contractsDir string, opts ...EngineOption) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	var collab collaborators
	for _, opt := range opts {
		opt(&collab)
	}
	if collab.llm == nil && cfg.LLM.APIKey != "" {
		c, err := provider.NewGeminiClient(ctx, cfg.LLM)
		if err != nil {
			return nil, fmt.Errorf("failed to build LLM client: %w", err)
		}
		collab.llm = c
	}
	if collab.ner == nil && cfg.NER.BaseURL != "" {
		c, err := provider.NewHTTPNERClient(cfg.NER)
		if err != nil {
			return nil, fmt.Errorf("failed to build NER client: %w", err)
		}
		collab.ner = c
	}
	if collab.address == nil && cfg.AddressParser.BaseURL != "" {
		c, err := provider.NewHTTPAddressParser(cfg.AddressParser)
		if err != nil {
			return nil, fmt.Errorf("failed to build address parser client: %w", err)
		}
		collab.address = c
	}

	contracts := make(map[types.Kind]*contract.SemanticContract)
	if contractsDir != "" {
		loaded, err := contract.LoadDir(contractsDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load contracts: %w", err)
		}
		contracts = loaded
	}

	store, err := registry.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	reg, err := registry.New(store, cfg.Registry.CacheSize,
		registry.WithFallbackLocale(cfg.Registry.FallbackLocale))
	if err != nil {
		store.Close()
		return nil, err
	}

	var orchestratorOpts []extract.Option
	if collab.address != nil {
		orchestratorOpts = append(orchestratorOpts, extract.WithAddressParser(collab.address))
	}

	e := &Engine{
		cfg:          cfg,
		contracts:    contracts,
		store:        store,
		registry:     reg,
		orchestrator: extract.NewOrchestrator(reg, contracts, collab.ner, collab.llm, orchestratorOpts...),
		feedback:     refine.NewFeedbackStore(store.DB()),
	}
	e.refiner = refine.NewLoop(collab.llm, store, e.feedback,
		cfg.Refine.MaxExamples, cfg.Refine.BatteryParallelism)

	if dir := cfg.Registry.WatchDir; dir != "" {
		w, err := registry.NewWatcher(dir, reg)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to create registry watcher: %w", err)
		}
		if err := w.Start(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to start registry watcher: %w", err)
		}
		e.watcher = w
	}

	logging.Boot("acquisition engine ready (%d contracts, store %s)", len(contracts), cfg.Store.Path)
	return e, nil
}

// Machine builds a dialogue state machine for one task-tree node. The node
// is validated first; the returned machine belongs to a single conversation.
func (e *Engine) Machine(node *tasktree.Node, locale string) (*dialogue.Machine, error) {
	if err := node.Validate(); err != nil {
		return nil, err
	}
	return dialogue.NewMachine(node, e.orchestrator, locale)
}

// Extract interprets one utterance for (kind, locale) outside any dialogue,
// e.g. for extractor testing in an authoring tool.
func (e *Engine) Extract(ctx context.Context, kind types.Kind, locale, text string) types.ExtractionResult {
	return e.orchestrator.Run(ctx, kind, locale, text)
}

// Contract returns the loaded semantic contract for a kind.
func (e *Engine) Contract(kind types.Kind) (*contract.SemanticContract, bool) {
	c, ok := e.contracts[kind]
	return c, ok
}

// Registry exposes extractor resolution and reload.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Store exposes the extractor/binding store for authoring flows.
func (e *Engine) Store() *registry.SQLiteStore { return e.store }

// Feedback exposes the tester-verdict store.
func (e *Engine) Feedback() *refine.FeedbackStore { return e.feedback }

// Refiner exposes the pattern refinement loop.
func (e *Engine) Refiner() *refine.Loop { return e.refiner }

// Close releases the watcher and the store.
func (e *Engine) Close() error {
	if e.watcher != nil {
		if err := e.watcher.Stop(); err != nil {
			logging.Get(logging.CategoryBoot).Warnf("watcher stop failed: %v", err)
		}
	}
	return e.store.Close()
}
