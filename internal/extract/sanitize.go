package extract

import (
	"regexp"
	"strings"

	"omniacore/internal/logging"
)

// Sanitizer post-processes a candidate field set for a given kind using
// deterministic heuristic rules. Sanitizers never invent values they cannot
// derive from the candidate or the original utterance: absent fields remain
// absent, and the caller decides whether a confirmation step is required.
//
// Every sanitizer must be idempotent: re-running it on its own output must
// not change the result.
type Sanitizer interface {
	Name() string
	Sanitize(fields map[string]string, fullText string) map[string]string
}

// Sanitizers returns the builtin sanitizer for a post-sanitize rule name.
func Sanitizers(name string) (Sanitizer, bool) {
	switch name {
	case "address":
		return addressSanitizer{}, true
	case "phone":
		return phoneSanitizer{}, true
	}
	return nil, false
}

// =============================================================================
// ADDRESS SANITIZER
// =============================================================================

// Street-type tokens and prepositions for Italian-style address lines.
const (
	streetTypeAlt  = `via|viale|corso|piazza|piazzale|vicolo|largo|strada|contrada|lungomare`
	prepositionAlt = `a|ad|in|di|da|presso`
	nameToken      = `[A-ZÀ-Þ][a-zà-ÿ']*`
)

var (
	// Step 1: preposition + place name preceding a street-type token,
	// inside the street field itself.
	cityInStreetRe = regexp.MustCompile(`(?:^|\s)(?:` + prepositionAlt + `)\s+(` + nameToken + `(?:\s+` + nameToken + `)*)\s*,?\s+(?:in\s+)?(?i:` + streetTypeAlt + `)\b`)

	// Step 2: looser preposition pattern over the full utterance.
	cityInTextRe = regexp.MustCompile(`(?:^|\s)(?:` + prepositionAlt + `)\s+(` + nameToken + `(?:\s+` + nameToken + `)*)`)

	// Step 3: trailing house number, optionally suffixed with one letter.
	trailingNumberRe = regexp.MustCompile(`[\s,]+(\d+\s?[A-Za-z]?)\s*$`)

	// Steps 4/6: bare 5-digit postal token.
	postalTokenRe = regexp.MustCompile(`\b(\d{5})\b`)

	// Step 5: street-type token followed by a name.
	streetInTextRe = regexp.MustCompile(`(?i)\b(` + streetTypeAlt + `)\s+([A-Za-zÀ-ÿ']+(?:\s+` + nameToken + `)*)`)

	// Stray postal-code marker ("cap", "cap 15011", "c.a.p.").
	strayCapRe = regexp.MustCompile(`(?i)^c\.?a\.?p\.?\s*\d*$`)

	// Step 7: leading prepositions on the street line.
	leadingPrepositionRe = regexp.MustCompile(`(?i)^(?:` + prepositionAlt + `)\s+`)
)

// countryNames normalizes localized country spellings to English.
// Unlisted countries are title-cased as-is.
var countryNames = map[string]string{
	"italia":      "Italy",
	"italy":       "Italy",
	"francia":     "France",
	"france":      "France",
	"germania":    "Germany",
	"germany":     "Germany",
	"spagna":      "Spain",
	"spain":       "Spain",
	"svizzera":    "Switzerland",
	"switzerland": "Switzerland",
	"regno unito": "United Kingdom",
	"uk":          "United Kingdom",
}

type addressSanitizer struct{}

func (addressSanitizer) Name() string { return "address" }

// Sanitize repairs mis-segmented address fields a single regex or rule pass
// cannot separate cleanly. The steps run in a fixed order, each conditional
// on the previous field still being unset or obviously wrong.
func (addressSanitizer) Sanitize(fields map[string]string, fullText string) map[string]string {
	out := copyFields(fields)

	// 1. City embedded in the street line, before the street-type token.
	if out["city"] == "" {
		if m := cityInStreetRe.FindStringSubmatchIndex(out["street"]); m != nil {
			city := out["street"][m[2]:m[3]]
			out["city"] = titleCase(city)
			// Strip the preposition + city segment, keep the street tail.
			out["street"] = strings.TrimSpace(out["street"][:m[0]] + " " + out["street"][m[3]:])
			out["street"] = strings.TrimSpace(strings.TrimPrefix(out["street"], ","))
		}
	}

	// 2. City anywhere in the full utterance, looser preposition pattern.
	if out["city"] == "" {
		for _, m := range cityInTextRe.FindAllStringSubmatch(fullText, -1) {
			candidate := m[1]
			if isStreetTypeWord(firstWord(candidate)) {
				continue
			}
			out["city"] = titleCase(candidate)
			break
		}
	}

	// 3. House number trailing the street line. A postal-shaped token is
	// left in place for the postal steps below.
	stripTrailingHouseNumber(out)

	// 4. Postal code embedded in the street line. Stripping it can expose a
	// house number that was hiding behind it, so the trailing-number strip
	// runs once more.
	if out["postal_code"] == "" {
		if m := postalTokenRe.FindStringSubmatchIndex(out["street"]); m != nil {
			out["postal_code"] = out["street"][m[2]:m[3]]
			out["street"] = strings.TrimSpace(out["street"][:m[0]] + " " + out["street"][m[1]:])
			stripTrailingHouseNumber(out)
		}
	}

	// 5. Street missing or swallowed by a stray postal-code marker:
	// re-derive it from the full utterance.
	if out["street"] == "" || strayCapRe.MatchString(out["street"]) {
		if m := streetInTextRe.FindStringSubmatch(fullText); m != nil {
			street := m[1] + " " + m[2]
			// Do not drag a trailing house number into the street name.
			if nm := trailingNumberRe.FindStringSubmatchIndex(street); nm != nil {
				street = strings.TrimSpace(street[:nm[0]])
			}
			out["street"] = street
		} else {
			out["street"] = ""
		}
	}

	// 6. Postal code anywhere in the full utterance.
	if out["postal_code"] == "" {
		if m := postalTokenRe.FindStringSubmatch(fullText); m != nil {
			out["postal_code"] = m[1]
		}
	}

	// Country from a known-name scan of the utterance; the gazetteer keeps
	// this a derivation, not a guess.
	if out["country"] == "" {
		lower := strings.ToLower(fullText)
		for name, canonical := range countryNames {
			if containsWord(lower, name) {
				out["country"] = canonical
				break
			}
		}
	}

	// 7. Final normalization: leading prepositions off the street, a
	// duplicated city prefix removed, everything title-cased.
	for {
		stripped := leadingPrepositionRe.ReplaceAllString(out["street"], "")
		if stripped == out["street"] {
			break
		}
		out["street"] = strings.TrimSpace(stripped)
	}
	if city := out["city"]; city != "" {
		lowerStreet := strings.ToLower(out["street"])
		lowerCity := strings.ToLower(city)
		if strings.HasPrefix(lowerStreet, lowerCity+" ") {
			out["street"] = strings.TrimSpace(out["street"][len(city):])
		}
	}
	out["street"] = titleCase(out["street"])
	out["city"] = titleCase(out["city"])
	out["state"] = titleCase(out["state"])
	if c := out["country"]; c != "" {
		if canonical, ok := countryNames[strings.ToLower(c)]; ok {
			out["country"] = canonical
		} else {
			out["country"] = titleCase(c)
		}
	}

	dropEmpty(out)
	logging.ExtractDebug("address sanitizer: %d fields after repair", len(out))
	return out
}

// stripTrailingHouseNumber moves a trailing house number off the street line
// into the number field. Postal-shaped tokens stay put for the postal steps.
func stripTrailingHouseNumber(out map[string]string) {
	if out["number"] != "" {
		return
	}
	m := trailingNumberRe.FindStringSubmatchIndex(out["street"])
	if m == nil {
		return
	}
	candidate := strings.ReplaceAll(strings.TrimSpace(out["street"][m[2]:m[3]]), " ", "")
	if postalTokenRe.MatchString(candidate) {
		return
	}
	out["number"] = candidate
	out["street"] = strings.TrimSpace(out["street"][:m[0]])
}

// =============================================================================
// PHONE SANITIZER
// =============================================================================

type phoneSanitizer struct{}

func (phoneSanitizer) Name() string { return "phone" }

// Sanitize collapses separator characters out of the phone number. A
// leading + survives; everything else non-numeric is dropped.
func (phoneSanitizer) Sanitize(fields map[string]string, fullText string) map[string]string {
	out := copyFields(fields)
	if n := out["number"]; n != "" {
		out["number"] = NormalizePhone(n)
	}
	dropEmpty(out)
	return out
}

// NormalizePhone strips spaces, dots and dashes from a phone number,
// keeping a leading + when present.
func NormalizePhone(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for i, r := range s {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// =============================================================================
// HELPERS
// =============================================================================

func copyFields(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func dropEmpty(fields map[string]string) {
	for k, v := range fields {
		if strings.TrimSpace(v) == "" {
			delete(fields, k)
		}
	}
}

// titleCase upper-cases the first letter of each word and lower-cases the
// rest. Deterministic and idempotent, unlike locale-aware casing.
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		if len(runes) > 0 {
			runes[0] = []rune(strings.ToUpper(string(runes[0])))[0]
		}
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

func firstWord(s string) string {
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return s[:i]
	}
	return s
}

func isStreetTypeWord(w string) bool {
	w = strings.ToLower(w)
	for _, t := range strings.Split(streetTypeAlt, "|") {
		if w == t {
			return true
		}
	}
	return false
}

func containsWord(haystack, word string) bool {
	idx := 0
	for {
		i := strings.Index(haystack[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isLetter(haystack[start-1])
		afterOK := end == len(haystack) || !isLetter(haystack[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
