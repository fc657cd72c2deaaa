package extract

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"omniacore/internal/contract"
	"omniacore/internal/logging"
	"omniacore/internal/types"
)

// Validator is one hand-written rule: a coarse regex pre-match whose named
// groups feed a decidable check. Used for fields too irregular for a single
// regex but still decidable without an external model.
type Validator struct {
	Name  string
	Pre   *regexp.Regexp
	Check func(fields map[string]string) bool
	// Post reshapes the matched fields before they are returned (optional).
	Post func(fields map[string]string) map[string]string
}

// builtinValidators is the registry of known validators, addressed by name
// from a contract's validator list.
var builtinValidators = map[string]*Validator{
	"date_dmy": {
		Name: "date_dmy",
		Pre:  regexp.MustCompile(`(?P<day>\d{1,2})[./-](?P<month>\d{1,2})[./-](?P<year>\d{2,4})`),
		Check: func(f map[string]string) bool {
			day, _ := strconv.Atoi(f["day"])
			month, _ := strconv.Atoi(f["month"])
			year, _ := strconv.Atoi(f["year"])
			return day >= 1 && day <= 31 && month >= 1 && month <= 12 && year > 0
		},
		Post: func(f map[string]string) map[string]string {
			// Two-digit years pivot at 50: 61 -> 1961, 07 -> 2007.
			year, _ := strconv.Atoi(f["year"])
			if year < 100 {
				if year >= 50 {
					year += 1900
				} else {
					year += 2000
				}
				f["year"] = strconv.Itoa(year)
			}
			return f
		},
	},
	"postal_code_5": {
		Name: "postal_code_5",
		Pre:  regexp.MustCompile(`\b(?P<postal_code>\d{5})\b`),
		Check: func(f map[string]string) bool {
			return len(f["postal_code"]) == 5
		},
	},
	"phone": {
		Name: "phone",
		Pre:  regexp.MustCompile(`(?P<number>\+?\d[\d ./-]{7,18}\d)`),
		Check: func(f map[string]string) bool {
			digits := countDigits(f["number"])
			return digits >= 8 && digits <= 15
		},
		Post: func(f map[string]string) map[string]string {
			f["number"] = NormalizePhone(f["number"])
			return f
		},
	},
	"email": {
		Name: "email",
		Pre:  regexp.MustCompile(`(?P<email>[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,})`),
		Check: func(f map[string]string) bool {
			return strings.Count(f["email"], "@") == 1
		},
	},
	"integer": {
		Name: "integer",
		Pre:  regexp.MustCompile(`(?P<value>-?\d+)`),
		Check: func(f map[string]string) bool {
			_, err := strconv.ParseInt(f["value"], 10, 64)
			return err == nil
		},
	},
}

// defaultValidatorsByKind applies when a contract names no validators.
var defaultValidatorsByKind = map[types.Kind][]string{
	types.KindDate:   {"date_dmy"},
	types.KindPhone:  {"phone"},
	types.KindEmail:  {"email"},
	types.KindNumber: {"integer"},
}

// LookupValidator returns a builtin validator by name.
func LookupValidator(name string) (*Validator, bool) {
	v, ok := builtinValidators[name]
	return v, ok
}

// RuleEngine applies hand-written validators after a coarse regex pre-match.
// Confidence is fixed at 0.8 on pass.
type RuleEngine struct{}

// NewRuleEngine creates a rule engine.
func NewRuleEngine() *RuleEngine { return &RuleEngine{} }

// Kind returns EngineRule.
func (e *RuleEngine) Kind() types.EngineKind { return types.EngineRule }

// Extract tries each validator named by the contract (or the kind's
// defaults) in order; the first validator whose pre-match and check both
// pass wins.
func (e *RuleEngine) Extract(ctx context.Context, text string, c *contract.SemanticContract) types.ExtractionResult {
	if c == nil {
		return types.Failure(types.ErrorNoMatch)
	}
	names := c.Validators
	if len(names) == 0 {
		names = defaultValidatorsByKind[c.Kind]
	}
	if len(names) == 0 {
		return types.Failure(types.ErrorNoMatch)
	}

	for _, name := range names {
		if ctx.Err() != nil {
			return types.Failure(types.ErrorEngineUnavailable)
		}
		v, ok := builtinValidators[name]
		if !ok {
			logging.Get(logging.CategoryExtract).Warnf("contract %s names unknown validator %q", c.Kind, name)
			continue
		}

		m := v.Pre.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		fields := make(map[string]string)
		for i, group := range v.Pre.SubexpNames() {
			if i == 0 || group == "" || m[i] == "" {
				continue
			}
			fields[group] = coerceNumeric(c.Kind, group, m[i])
		}
		if !v.Check(fields) {
			continue
		}
		if v.Post != nil {
			fields = v.Post(fields)
		}
		logging.ExtractDebug("rule engine validator %q passed: %d fields", name, len(fields))
		return types.Success(types.EngineRule, fields, ConfidenceRule)
	}
	return types.Failure(types.ErrorNoMatch)
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}
