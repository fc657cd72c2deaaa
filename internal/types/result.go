package types

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// EXTRACTION RESULT
// =============================================================================

// ExtractionResult is what an engine (and the orchestrator) hands back for
// one utterance. Fields maps canonical keys to string values. Confidence is
// in [0,1]. When OK is false, Err names the failure class.
type ExtractionResult struct {
	OK         bool              `json:"ok"`
	Fields     map[string]string `json:"fields,omitempty"`
	Confidence float64           `json:"confidence"`
	Err        ErrorKind         `json:"error,omitempty"`
	Engine     EngineKind        `json:"engine,omitempty"` // engine that produced the result
}

// Failure builds a non-OK result for the given error kind.
func Failure(kind ErrorKind) ExtractionResult {
	return ExtractionResult{OK: false, Err: kind}
}

// Success builds an OK result with the given fields and confidence.
func Success(engine EngineKind, fields map[string]string, confidence float64) ExtractionResult {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return ExtractionResult{OK: true, Fields: fields, Confidence: confidence, Engine: engine}
}

// Field returns the value for a canonical key and whether it is present
// and non-empty.
func (r ExtractionResult) Field(key string) (string, bool) {
	v, ok := r.Fields[key]
	return v, ok && v != ""
}

// String renders a compact log form: ok/err, engine, sorted fields.
func (r ExtractionResult) String() string {
	if !r.OK {
		return fmt.Sprintf("extraction{err=%s}", r.Err)
	}
	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+r.Fields[k])
	}
	return fmt.Sprintf("extraction{engine=%s conf=%.2f %s}", r.Engine, r.Confidence, strings.Join(parts, " "))
}

// =============================================================================
// ERROR KINDS
// =============================================================================

// ErrorKind classifies failures across the engine. NoMatch and
// EngineUnavailable are recovered locally by the orchestrator (next engine in
// priority order); EscalationsExhausted is the one condition the state
// machine reports upward as a structured outcome.
type ErrorKind string

const (
	ErrorNone                 ErrorKind = ""
	ErrorExtractorNotFound    ErrorKind = "extractor_not_found"
	ErrorEngineUnavailable    ErrorKind = "engine_unavailable"
	ErrorNoMatch              ErrorKind = "no_match"
	ErrorSchemaInvalid        ErrorKind = "schema_invalid"
	ErrorEscalationsExhausted ErrorKind = "escalations_exhausted"
)

// Sentinel errors matching the error kinds, for errors.Is checks across
// package boundaries.
var (
	ErrExtractorNotFound    = errors.New("extractor not found")
	ErrEngineUnavailable    = errors.New("engine unavailable")
	ErrNoMatch              = errors.New("no match")
	ErrSchemaInvalid        = errors.New("schema invalid")
	ErrEscalationsExhausted = errors.New("escalations exhausted")
)

// KindOf maps an error to its ErrorKind. Unknown errors classify as
// EngineUnavailable since they come from collaborator calls.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorNone
	case errors.Is(err, ErrExtractorNotFound):
		return ErrorExtractorNotFound
	case errors.Is(err, ErrNoMatch):
		return ErrorNoMatch
	case errors.Is(err, ErrSchemaInvalid):
		return ErrorSchemaInvalid
	case errors.Is(err, ErrEscalationsExhausted):
		return ErrorEscalationsExhausted
	default:
		return ErrorEngineUnavailable
	}
}

// =============================================================================
// TEST FEEDBACK
// =============================================================================

// ExpectedOutcome is a tester's verdict on a phrase.
type ExpectedOutcome string

const (
	ExpectMatch   ExpectedOutcome = "match"
	ExpectNoMatch ExpectedOutcome = "no_match"
)

// TestFeedback is one accumulated tester verdict for an extractor phrase.
// Feedback is keyed by the normalized phrase text so re-running the same
// phrase updates the record instead of duplicating it.
type TestFeedback struct {
	Value    string          `json:"value" yaml:"value"`
	Expected ExpectedOutcome `json:"expected" yaml:"expected"`
	Note     string          `json:"note,omitempty" yaml:"note,omitempty"`
}

// NormalizePhrase is the canonical feedback key: trimmed, lowercased,
// inner whitespace collapsed.
func NormalizePhrase(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
