// Package registry resolves, per (kind, locale), which extraction
// configuration applies. Extractor records are versioned and immutable once
// published: a correction publishes a new version and flips the active flag,
// never mutates in place. Resolution results are cached; cache entries are
// invalidated only by an explicit reload, never by TTL, because extractor
// definitions change rarely and stale data beats unavailability.
package registry

import (
	"omniacore/internal/types"
)

// ScopeGlobal is the only binding scope this core consults; authoring-side
// scopes (per-project, per-node) are resolved upstream.
const ScopeGlobal = "global"

// TargetAny is the wildcard target id for global bindings.
const TargetAny = "*"

// TestCase is one regression phrase stored with an extractor. Regenerated
// patterns must pass every stored case before they can be published.
type TestCase struct {
	Phrase string                `json:"phrase" yaml:"phrase"`
	Expect types.ExpectedOutcome `json:"expect" yaml:"expect"`
	// Fields optionally pins the exact values a matching phrase must yield.
	Fields map[string]string `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Extractor is a versioned, immutable-once-published extraction
// configuration.
type Extractor struct {
	ID      string           `json:"id"`
	Kind    types.Kind       `json:"kind"`
	Locale  string           `json:"locale"`
	Version int              `json:"version"`
	Engine  types.EngineKind `json:"engine"`

	// PreNormalizeRules run on the raw utterance before engine dispatch.
	PreNormalizeRules []string `json:"pre_normalize_rules,omitempty"`

	// PostSanitizeRules name the sanitizers applied to a successful result.
	PostSanitizeRules []string `json:"post_sanitize_rules,omitempty"`

	// Options carries engine-specific tuning (free-form).
	Options map[string]string `json:"options,omitempty"`

	// TestCases is the regression set gating pattern regeneration.
	TestCases []TestCase `json:"test_cases,omitempty"`

	Active bool `json:"active"`
}

// Binding maps a lookup key to an extractor id.
type Binding struct {
	Scope       string     `json:"scope"`
	TargetID    string     `json:"target_id"`
	Kind        types.Kind `json:"kind"`
	Locale      string     `json:"locale"`
	ExtractorID string     `json:"extractor_id"`
}

// Store is the persistence surface the registry needs: key-value style
// lookup plus versioned writes. The storage engine itself is a collaborator.
type Store interface {
	// GetExtractor returns an extractor by id.
	GetExtractor(id string) (*Extractor, error)

	// ActiveExtractor returns the active extractor bound to (kind, locale)
	// under the global scope, or types.ErrExtractorNotFound.
	ActiveExtractor(kind types.Kind, locale string) (*Extractor, error)

	// PutExtractor inserts a new extractor record. Records are never
	// updated in place except for the active flag flip in Publish.
	PutExtractor(e *Extractor) error

	// Publish inserts a new version of an existing extractor and flips
	// active from the old version to the new one atomically.
	Publish(e *Extractor) error

	// PutBinding upserts a binding.
	PutBinding(b *Binding) error
}
