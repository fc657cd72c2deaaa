// Package types holds the shared vocabulary of the acquisition engine:
// the closed Kind and EngineKind enums, canonical sub-field keys, the
// ExtractionResult exchanged between engines and the dialogue layer, and
// the error kinds every component reports through.
package types

import (
	"strings"
)

// =============================================================================
// KIND
// =============================================================================

// Kind is the semantic type of a datum to acquire.
// The set is closed; inputs that do not parse map to KindUnknown instead of
// falling through silently.
type Kind string

const (
	KindDate    Kind = "date"
	KindEmail   Kind = "email"
	KindPhone   Kind = "phone"
	KindAddress Kind = "address"
	KindName    Kind = "name"
	KindNumber  Kind = "number"
	KindText    Kind = "text"
	KindUnknown Kind = "unknown"
)

// allKinds is the parse table for ParseKind.
var allKinds = map[string]Kind{
	"date":    KindDate,
	"email":   KindEmail,
	"phone":   KindPhone,
	"address": KindAddress,
	"name":    KindName,
	"number":  KindNumber,
	"text":    KindText,
}

// ParseKind maps a raw kind string to a Kind, returning KindUnknown for
// anything outside the closed set.
func ParseKind(s string) Kind {
	if k, ok := allKinds[strings.ToLower(strings.TrimSpace(s))]; ok {
		return k
	}
	return KindUnknown
}

// String returns the kind's wire name.
func (k Kind) String() string { return string(k) }

// IsValid reports whether the kind is a member of the closed set.
// KindUnknown is not valid.
func (k Kind) IsValid() bool {
	_, ok := allKinds[string(k)]
	return ok
}

// =============================================================================
// ENGINE KIND
// =============================================================================

// EngineKind identifies one of the four extraction engines.
// Dispatch is an exhaustive switch over this type, never a raw string compare.
type EngineKind string

const (
	EngineRegex EngineKind = "regex"
	EngineRule  EngineKind = "rule"
	EngineNER   EngineKind = "ner"
	EngineLLM   EngineKind = "llm"
)

// EnginePriority is the fixed, kind-independent trial order. Deterministic
// engines run first because they are auditable and free of external latency;
// the LLM is consulted only when everything else has failed.
var EnginePriority = []EngineKind{EngineRegex, EngineRule, EngineNER, EngineLLM}

// ParseEngineKind maps a raw engine name to an EngineKind.
func ParseEngineKind(s string) (EngineKind, bool) {
	switch EngineKind(strings.ToLower(strings.TrimSpace(s))) {
	case EngineRegex:
		return EngineRegex, true
	case EngineRule:
		return EngineRule, true
	case EngineNER:
		return EngineNER, true
	case EngineLLM:
		return EngineLLM, true
	}
	return "", false
}

// =============================================================================
// CANONICAL KEYS
// =============================================================================

// CanonicalKeyGeneric is the degenerate key produced by incomplete contract
// authoring. It must never reach production use; contract validation rejects it.
const CanonicalKeyGeneric = "generic"

// canonicalVocabulary lists the fixed canonical-key vocabulary per composite
// kind. Atomic kinds carry a single key naming the value itself.
var canonicalVocabulary = map[Kind][]string{
	KindDate:    {"day", "month", "year"},
	KindAddress: {"street", "number", "city", "postal_code", "state", "country"},
	KindName:    {"first_name", "last_name"},
	KindPhone:   {"number"},
	KindEmail:   {"email"},
	KindNumber:  {"value"},
	KindText:    {"text"},
}

// CanonicalKeys returns the allowed canonical keys for a kind, or nil when
// the kind has no fixed vocabulary.
func CanonicalKeys(k Kind) []string {
	keys := canonicalVocabulary[k]
	out := make([]string, len(keys))
	copy(out, keys)
	return out
}

// IsCanonicalKey reports whether key belongs to the kind's vocabulary.
func IsCanonicalKey(k Kind, key string) bool {
	for _, c := range canonicalVocabulary[k] {
		if c == key {
			return true
		}
	}
	return false
}

// RequiredCanonicalKeys returns the keys a complete contract for the kind
// must cover. For date this is the full {day, month, year} triple; address
// only requires the street line, the rest being repairable by the sanitizer.
func RequiredCanonicalKeys(k Kind) []string {
	switch k {
	case KindDate:
		return []string{"day", "month", "year"}
	case KindAddress:
		return []string{"street"}
	default:
		return CanonicalKeys(k)
	}
}
