package extract

import (
	"context"
	"regexp"
	"strconv"
	"sync"

	"omniacore/internal/contract"
	"omniacore/internal/logging"
	"omniacore/internal/types"
)

// RegexEngine tries each pattern in the contract's ordered pattern list;
// the first match wins. Named capture groups map to canonical keys by group
// name; unnamed groups map by position over the contract's expected keys.
type RegexEngine struct {
	mu       sync.RWMutex
	compiled map[string]*regexp.Regexp
}

// NewRegexEngine creates a regex engine with an empty pattern cache.
func NewRegexEngine() *RegexEngine {
	return &RegexEngine{compiled: make(map[string]*regexp.Regexp)}
}

// Kind returns EngineRegex.
func (e *RegexEngine) Kind() types.EngineKind { return types.EngineRegex }

// Extract runs the contract's patterns in order against the text.
func (e *RegexEngine) Extract(ctx context.Context, text string, c *contract.SemanticContract) types.ExtractionResult {
	if c == nil || len(c.Patterns) == 0 {
		return types.Failure(types.ErrorNoMatch)
	}

	for _, pattern := range c.Patterns {
		if ctx.Err() != nil {
			return types.Failure(types.ErrorEngineUnavailable)
		}
		re, err := e.compile(pattern)
		if err != nil {
			// Validation rejects uncompilable patterns at load time; a bad
			// pattern arriving here is an authoring bug, not a crash.
			logging.Get(logging.CategoryExtract).Warnf("skipping uncompilable pattern %q: %v", pattern, err)
			continue
		}

		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}

		fields := groupsToFields(re, m, c)
		if len(fields) == 0 {
			continue
		}
		logging.ExtractDebug("regex engine matched pattern %q: %d fields", pattern, len(fields))
		return types.Success(types.EngineRegex, fields, ConfidenceRegex)
	}
	return types.Failure(types.ErrorNoMatch)
}

func (e *RegexEngine) compile(pattern string) (*regexp.Regexp, error) {
	e.mu.RLock()
	re, ok := e.compiled[pattern]
	e.mu.RUnlock()
	if ok {
		return re, nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.compiled[pattern] = re
	e.mu.Unlock()
	return re, nil
}

// groupsToFields maps capture groups to canonical keys. Named groups win;
// unnamed groups fill the contract's expected keys in order. Numeric values
// are coerced with explicit base-10 parsing, never locale-dependent rules.
func groupsToFields(re *regexp.Regexp, match []string, c *contract.SemanticContract) map[string]string {
	fields := make(map[string]string)
	names := re.SubexpNames()
	expected := c.ExpectedKeys()

	positional := 0
	for i := 1; i < len(match); i++ {
		if match[i] == "" {
			continue
		}
		key := ""
		if i < len(names) && names[i] != "" {
			key = names[i]
		} else {
			if positional >= len(expected) {
				continue
			}
			key = expected[positional]
			positional++
		}
		fields[key] = coerceNumeric(c.Kind, key, match[i])
	}
	return fields
}

// numericKeys lists canonical keys whose values are decimal integers.
var numericKeys = map[string]bool{
	"day":   true,
	"month": true,
	"year":  true,
	"value": true,
}

// coerceNumeric normalizes integer-valued keys through base-10 parsing so
// "07" and "7" agree downstream. Non-numeric keys pass through untouched.
func coerceNumeric(kind types.Kind, key, value string) string {
	if !numericKeys[key] {
		return value
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return value
	}
	return strconv.FormatInt(n, 10)
}
