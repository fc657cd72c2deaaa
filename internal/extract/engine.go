// Package extract implements the multi-engine extraction pipeline: four
// engines (regex, rule, NER, LLM) behind a common interface, the address
// sanitizer, and the orchestrator that runs engines in fixed priority order
// against a semantic contract.
package extract

import (
	"context"

	"omniacore/internal/contract"
	"omniacore/internal/types"
)

// Engine turns a free-text utterance into typed field values according to a
// semantic contract. An engine returns zero-or-one candidate field set; a
// run that finds nothing reports OK=false with ErrorNoMatch rather than an
// error value, so the orchestrator can fall through to the next engine.
type Engine interface {
	Kind() types.EngineKind
	Extract(ctx context.Context, text string, c *contract.SemanticContract) types.ExtractionResult
}

// Fixed confidence levels. Deterministic engines sit above the NER cap so an
// external model never outranks them when both agree.
const (
	ConfidenceRegex = 0.9
	ConfidenceRule  = 0.8
	ConfidenceLLM   = 0.7

	// NERConfidenceCap bounds the confidence copied from the external
	// model's score.
	NERConfidenceCap = 0.8
)
