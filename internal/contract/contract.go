// Package contract defines the semantic contract: the declarative
// description of how a composite datum decomposes into canonical sub-fields
// and which extraction directives (patterns, validators, entity types, LLM
// prompt) apply to it.
package contract

import (
	"fmt"
	"regexp"
	"sort"

	"omniacore/internal/types"
)

// SubDatum describes one sub-task's place in a composite kind.
type SubDatum struct {
	// CanonicalKey is the fixed, kind-specific name the extracted value is
	// normalized to (e.g. "day"). Must come from the kind's vocabulary;
	// "generic" is a known-bad authoring state and never validates.
	CanonicalKey string `yaml:"canonical_key" json:"canonicalKey"`

	// Label is the human-facing name shown by the authoring tool.
	Label string `yaml:"label" json:"label"`

	// Type is the primitive type of the sub-value ("int", "string", ...).
	Type string `yaml:"type" json:"type"`
}

// SemanticContract declares a kind's decomposition and extraction directives.
// Contracts are immutable once loaded; engines only read them.
type SemanticContract struct {
	Kind types.Kind `yaml:"kind" json:"kind"`

	// SubDataMapping maps each composite sub-task id to its canonical slot.
	// Empty for atomic kinds.
	SubDataMapping map[string]SubDatum `yaml:"sub_data_mapping,omitempty" json:"subDataMapping,omitempty"`

	// Patterns is the ordered regex pattern list for the regex engine.
	// First match wins. Named capture groups map to canonical keys; unnamed
	// groups map by position over the kind's vocabulary order.
	Patterns []string `yaml:"patterns,omitempty" json:"patterns,omitempty"`

	// Validators names the rule-engine validators to apply, in order.
	Validators []string `yaml:"validators,omitempty" json:"validators,omitempty"`

	// EntityTypes maps an external NER entity-type name to a canonical key.
	EntityTypes map[string]string `yaml:"entity_types,omitempty" json:"entityTypes,omitempty"`

	// LLMSystemPrompt is prepended when the LLM engine is consulted. When
	// empty a prompt is synthesized from the contract shape.
	LLMSystemPrompt string `yaml:"llm_system_prompt,omitempty" json:"llmSystemPrompt,omitempty"`

	// RequireConfirmation forces a Confirmation step after successful
	// extraction for this kind.
	RequireConfirmation bool `yaml:"require_confirmation,omitempty" json:"requireConfirmation,omitempty"`
}

// Validate checks the contract against the kind's canonical-key vocabulary.
// A contract with a "generic" canonical key, a duplicate key, a key outside
// the vocabulary, or missing required keys is rejected here rather than
// surfacing as silent misextraction at runtime.
func (c *SemanticContract) Validate() error {
	if !c.Kind.IsValid() {
		return fmt.Errorf("contract kind %q: %w", c.Kind, types.ErrSchemaInvalid)
	}

	for i, p := range c.Patterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("contract %s pattern %d does not compile: %w", c.Kind, i, err)
		}
	}

	// A composite kind without a mapping is the degenerate-atomic form: one
	// utterance carries the whole datum and the patterns' named groups
	// produce canonical keys directly. Key completeness applies to mappings,
	// not to their absence; tasktree validation checks that a declared
	// mapping covers every sub-task.
	if len(c.SubDataMapping) == 0 {
		return nil
	}

	seen := make(map[string]string, len(c.SubDataMapping))
	for subID, sub := range c.SubDataMapping {
		if sub.CanonicalKey == types.CanonicalKeyGeneric {
			return fmt.Errorf("sub-task %q has canonical key %q: %w", subID, types.CanonicalKeyGeneric, types.ErrSchemaInvalid)
		}
		if !types.IsCanonicalKey(c.Kind, sub.CanonicalKey) {
			return fmt.Errorf("sub-task %q: canonical key %q not in %s vocabulary: %w", subID, sub.CanonicalKey, c.Kind, types.ErrSchemaInvalid)
		}
		if prev, dup := seen[sub.CanonicalKey]; dup {
			return fmt.Errorf("canonical key %q claimed by both %q and %q: %w", sub.CanonicalKey, prev, subID, types.ErrSchemaInvalid)
		}
		seen[sub.CanonicalKey] = subID
	}

	for _, required := range types.RequiredCanonicalKeys(c.Kind) {
		if _, ok := seen[required]; !ok {
			return fmt.Errorf("contract %s missing required canonical key %q: %w", c.Kind, required, types.ErrSchemaInvalid)
		}
	}
	return nil
}

// CanonicalKeyFor returns the canonical key bound to a sub-task id.
func (c *SemanticContract) CanonicalKeyFor(subTaskID string) (string, bool) {
	sub, ok := c.SubDataMapping[subTaskID]
	if !ok {
		return "", false
	}
	return sub.CanonicalKey, true
}

// ExpectedKeys returns the canonical keys this contract can produce, in
// vocabulary order so prompts and position-mapped captures are stable.
func (c *SemanticContract) ExpectedKeys() []string {
	if len(c.SubDataMapping) == 0 {
		return types.CanonicalKeys(c.Kind)
	}
	present := make(map[string]bool, len(c.SubDataMapping))
	for _, sub := range c.SubDataMapping {
		present[sub.CanonicalKey] = true
	}
	var keys []string
	for _, k := range types.CanonicalKeys(c.Kind) {
		if present[k] {
			keys = append(keys, k)
		}
	}
	// Vocabulary-less kinds keep whatever the mapping declares.
	if keys == nil {
		for k := range present {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}
	return keys
}
