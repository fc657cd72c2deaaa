package extract

import (
	"context"
	"strings"
	"time"

	"omniacore/internal/contract"
	"omniacore/internal/logging"
	"omniacore/internal/provider"
	"omniacore/internal/registry"
	"omniacore/internal/types"
)

// Resolver is the slice of the registry the orchestrator needs.
type Resolver interface {
	Resolve(ctx context.Context, kind types.Kind, locale string) (*registry.Extractor, error)
}

// Orchestrator runs the applicable engines in priority order against one
// utterance and selects the winning result. There is no weighted voting
// across engines: ordering is the entire merge policy, and the first engine
// to return OK wins. Engines never run concurrently for the same request;
// the ordering is a correctness mechanism, not a performance one.
type Orchestrator struct {
	resolver  Resolver
	contracts map[types.Kind]*contract.SemanticContract
	engines   map[types.EngineKind]Engine
	addresses provider.AddressParser
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithAddressParser enables address-field enrichment from the parsing
// backend. The backend only fills keys the winning engine left absent; it
// never overrides an extracted value.
func WithAddressParser(p provider.AddressParser) Option {
	return func(o *Orchestrator) { o.addresses = p }
}

// NewOrchestrator wires the four engines over the given collaborators.
// nerClient and llmClient may be nil; the corresponding engines then always
// report no match and the deterministic engines carry the load.
func NewOrchestrator(resolver Resolver, contracts map[types.Kind]*contract.SemanticContract,
	nerClient provider.NERClient, llmClient provider.LLMClient, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		resolver:  resolver,
		contracts: contracts,
		engines: map[types.EngineKind]Engine{
			types.EngineRegex: NewRegexEngine(),
			types.EngineRule:  NewRuleEngine(),
			types.EngineNER:   NewNEREngine(nerClient),
			types.EngineLLM:   NewLLMEngine(llmClient),
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run resolves the extractor for (kind, locale) and interprets the
// utterance. This is the sole integration point the dialogue state machine
// calls when a step needs to understand new user input. No persistence side
// effects happen here.
func (o *Orchestrator) Run(ctx context.Context, kind types.Kind, locale, text string) types.ExtractionResult {
	timer := logging.StartTimer(logging.CategoryExtract, "orchestrator.run")
	defer timer.StopWithThreshold(2 * time.Second)

	if strings.TrimSpace(text) == "" {
		return types.Failure(types.ErrorNoMatch)
	}

	ext, err := o.resolver.Resolve(ctx, kind, locale)
	if err != nil {
		// Quiet by design: no extractor bound means "ask the user again",
		// not an incident.
		logging.ExtractDebug("no extractor for %s/%s: %v", kind, locale, err)
		return types.Failure(types.ErrorExtractorNotFound)
	}

	c, ok := o.contracts[kind]
	if !ok {
		logging.ExtractDebug("no semantic contract for kind %s", kind)
		return types.Failure(types.ErrorExtractorNotFound)
	}

	normalized := Normalize(text, ext.PreNormalizeRules)

	var last types.ExtractionResult
	last = types.Failure(types.ErrorNoMatch)
	for _, engineKind := range trialOrder(ext.Engine) {
		engine, ok := o.engines[engineKind]
		if !ok {
			continue
		}
		if ctx.Err() != nil {
			return types.Failure(types.ErrorEngineUnavailable)
		}

		result := engine.Extract(ctx, normalized, c)
		if result.OK {
			result = o.enrichAddress(ctx, kind, result, normalized)
			result = o.applySanitizers(ext, result, normalized)
			logging.Extract("extracted %s/%s via %s: %s", kind, locale, engineKind, result)
			return result
		}
		// NoMatch and EngineUnavailable recover locally by falling through
		// to the next engine; anything else still falls through, and only
		// total exhaustion surfaces to the state machine.
		logging.ExtractDebug("engine %s failed (%s), trying next", engineKind, result.Err)
		last = result
	}
	return last
}

// trialOrder is the fixed engine priority, entered at the extractor's
// declared primary engine. An extractor configured for NER skips the
// deterministic engines it was explicitly steered away from, but the
// ordering among the remaining engines never changes.
func trialOrder(primary types.EngineKind) []types.EngineKind {
	for i, k := range types.EnginePriority {
		if k == primary {
			return types.EnginePriority[i:]
		}
	}
	return types.EnginePriority
}

// enrichAddress consults the address-parsing backend for canonical keys the
// engine left absent. Backend failures are logged and ignored; the engine
// result stands on its own.
func (o *Orchestrator) enrichAddress(ctx context.Context, kind types.Kind, result types.ExtractionResult, fullText string) types.ExtractionResult {
	if o.addresses == nil || kind != types.KindAddress {
		return result
	}
	parsed, err := o.addresses.Parse(ctx, fullText)
	if err != nil {
		logging.ExtractDebug("address backend unavailable: %v", err)
		return result
	}
	for key, value := range parsed {
		if value == "" || !types.IsCanonicalKey(types.KindAddress, key) {
			continue
		}
		if _, ok := result.Fields[key]; !ok {
			result.Fields[key] = value
		}
	}
	return result
}

func (o *Orchestrator) applySanitizers(ext *registry.Extractor, result types.ExtractionResult, fullText string) types.ExtractionResult {
	for _, rule := range ext.PostSanitizeRules {
		s, ok := Sanitizers(rule)
		if !ok {
			logging.Get(logging.CategoryExtract).Warnf("extractor %s names unknown sanitizer %q", ext.ID, rule)
			continue
		}
		result.Fields = s.Sanitize(result.Fields, fullText)
	}
	if len(result.Fields) == 0 {
		return types.Failure(types.ErrorNoMatch)
	}
	return result
}
