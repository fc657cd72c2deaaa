package refine

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"omniacore/internal/contract"
	"omniacore/internal/extract"
	"omniacore/internal/logging"
	"omniacore/internal/provider"
	"omniacore/internal/registry"
	"omniacore/internal/types"
)

// Loop drives pattern regeneration. A regenerated candidate replaces the
// draft version only; Publish gates it behind every stored test case.
// Regenerated patterns are guilty until proven against the full regression
// set.
type Loop struct {
	llm         provider.LLMClient
	store       registry.Store
	feedback    *FeedbackStore
	engine      *extract.RegexEngine
	maxExamples int
	parallelism int
}

// NewLoop wires the refinement loop.
func NewLoop(llm provider.LLMClient, store registry.Store, feedback *FeedbackStore, maxExamples, parallelism int) *Loop {
	if maxExamples <= 0 {
		maxExamples = 20
	}
	if parallelism <= 0 {
		parallelism = 4
	}
	return &Loop{
		llm:         llm,
		store:       store,
		feedback:    feedback,
		engine:      extract.NewRegexEngine(),
		maxExamples: maxExamples,
		parallelism: parallelism,
	}
}

// Draft is a regenerated but unpublished extractor version.
type Draft struct {
	Extractor *registry.Extractor
	Contract  *contract.SemanticContract
	Pattern   string
}

// CaseResult is one test case's verdict against a draft.
type CaseResult struct {
	Phrase string
	Pass   bool
	Detail string
}

// Regenerate builds a contract-aware prompt from the extractor's current
// patterns and the accumulated feedback, asks the provider for a candidate
// pattern, and returns a draft version. The draft is not published and not
// active.
func (l *Loop) Regenerate(ctx context.Context, ext *registry.Extractor, c *contract.SemanticContract) (*Draft, error) {
	if l.llm == nil {
		return nil, fmt.Errorf("no LLM provider configured: %w", types.ErrEngineUnavailable)
	}
	if ext.Engine != types.EngineRegex {
		return nil, fmt.Errorf("extractor %s uses engine %s; only regex patterns are regenerated", ext.ID, ext.Engine)
	}

	feedback, err := l.feedback.List(ext.ID)
	if err != nil {
		return nil, err
	}
	if len(feedback) == 0 {
		return nil, fmt.Errorf("extractor %s has no accumulated feedback: %w", ext.ID, types.ErrNoMatch)
	}

	prompt := buildPrompt(ext, c, feedback, l.maxExamples)
	reply, err := l.llm.CompleteWithSystem(ctx, regenerationSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("pattern regeneration failed: %w", err)
	}

	pattern, err := extractPattern(reply)
	if err != nil {
		return nil, err
	}

	draftContract := *c
	draftContract.Patterns = append([]string{pattern}, c.Patterns...)
	if err := draftContract.Validate(); err != nil {
		return nil, fmt.Errorf("regenerated pattern rejected: %w", err)
	}

	draft := &registry.Extractor{
		ID:                uuid.NewString(),
		Kind:              ext.Kind,
		Locale:            ext.Locale,
		Version:           ext.Version + 1,
		Engine:            ext.Engine,
		PreNormalizeRules: ext.PreNormalizeRules,
		PostSanitizeRules: ext.PostSanitizeRules,
		Options:           ext.Options,
		TestCases:         ext.TestCases,
		Active:            false,
	}
	logging.Refine("regenerated pattern for %s/%s: %s", ext.Kind, ext.Locale, pattern)
	return &Draft{Extractor: draft, Contract: &draftContract, Pattern: pattern}, nil
}

// Evaluate runs every stored test case against the draft. Cases are
// independent and evaluated concurrently up to the configured parallelism.
func (l *Loop) Evaluate(ctx context.Context, d *Draft) ([]CaseResult, bool) {
	cases := d.Extractor.TestCases
	results := make([]CaseResult, len(cases))

	var mu sync.Mutex
	allPass := true
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.parallelism)
	for i, tc := range cases {
		i, tc := i, tc
		g.Go(func() error {
			res := l.engine.Extract(gctx, tc.Phrase, d.Contract)
			cr := judge(tc, res)
			mu.Lock()
			results[i] = cr
			if !cr.Pass {
				allPass = false
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results, allPass
}

// Publish evaluates the draft against the full regression set and, only on
// a clean pass, publishes it as the new active version.
func (l *Loop) Publish(ctx context.Context, d *Draft) error {
	results, ok := l.Evaluate(ctx, d)
	if !ok {
		failed := 0
		for _, r := range results {
			if !r.Pass {
				failed++
				logging.Refine("draft %s failed case %q: %s", d.Extractor.ID, r.Phrase, r.Detail)
			}
		}
		return fmt.Errorf("draft failed %d of %d regression cases: %w", failed, len(results), types.ErrSchemaInvalid)
	}
	if err := l.store.Publish(d.Extractor); err != nil {
		return err
	}
	logging.Refine("draft %s published as v%d", d.Extractor.ID, d.Extractor.Version)
	return nil
}

func judge(tc registry.TestCase, res types.ExtractionResult) CaseResult {
	cr := CaseResult{Phrase: tc.Phrase}
	switch tc.Expect {
	case types.ExpectNoMatch:
		if res.OK {
			cr.Detail = fmt.Sprintf("expected no match, got %s", res)
			return cr
		}
	default:
		if !res.OK {
			cr.Detail = fmt.Sprintf("expected match, got %s", res.Err)
			return cr
		}
		for key, want := range tc.Fields {
			got, ok := res.Field(key)
			if !ok || got != want {
				cr.Detail = fmt.Sprintf("field %s: want %q, got %q", key, want, got)
				return cr
			}
		}
	}
	cr.Pass = true
	return cr
}

// =============================================================================
// PROMPT BUILDING
// =============================================================================

const regenerationSystemPrompt = `You repair regular expressions used to extract structured data from user utterances.
Reply with a single Go (RE2) regular expression on one line, nothing else.
Use named capture groups matching the listed canonical keys. No lookarounds, no backreferences.`

func buildPrompt(ext *registry.Extractor, c *contract.SemanticContract, feedback []types.TestFeedback, maxExamples int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Data kind: %s (locale %s)\n", ext.Kind, ext.Locale)
	fmt.Fprintf(&b, "Canonical keys: %s\n", strings.Join(c.ExpectedKeys(), ", "))
	b.WriteString("Current patterns, in priority order:\n")
	for _, p := range c.Patterns {
		fmt.Fprintf(&b, "  %s\n", p)
	}

	if len(feedback) > maxExamples {
		// Recent verdicts carry the tester's latest intent.
		feedback = feedback[len(feedback)-maxExamples:]
	}
	b.WriteString("Tester verdicts the new pattern must satisfy:\n")
	for _, fb := range feedback {
		verdict := "MUST MATCH"
		if fb.Expected == types.ExpectNoMatch {
			verdict = "MUST NOT MATCH"
		}
		fmt.Fprintf(&b, "  [%s] %q", verdict, fb.Value)
		if fb.Note != "" {
			fmt.Fprintf(&b, "  (tester note: %s)", fb.Note)
		}
		b.WriteString("\n")
	}
	b.WriteString("Produce one regular expression that satisfies every verdict.")
	return b.String()
}

var codeFenceRe = regexp.MustCompile("(?s)```(?:regex|re|text)?\\s*(.*?)```")

// extractPattern pulls the candidate regex out of the model reply and
// verifies it compiles. Anything else is a schema violation.
func extractPattern(reply string) (string, error) {
	s := strings.TrimSpace(reply)
	if m := codeFenceRe.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}
	// First non-empty line only; models pad with prose despite instructions.
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if _, err := regexp.Compile(line); err != nil {
			return "", fmt.Errorf("regenerated pattern does not compile: %v: %w", err, types.ErrSchemaInvalid)
		}
		return line, nil
	}
	return "", fmt.Errorf("empty regeneration reply: %w", types.ErrSchemaInvalid)
}
