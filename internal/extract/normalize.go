package extract

import (
	"strings"
)

// Pre-normalization rules run on the raw utterance before engine dispatch.
// Rule names are stored on the extractor record; unknown names are ignored
// so an old engine can read a newer extractor without failing.

var accentFolder = strings.NewReplacer(
	"à", "a", "á", "a", "â", "a", "ä", "a",
	"è", "e", "é", "e", "ê", "e", "ë", "e",
	"ì", "i", "í", "i", "î", "i", "ï", "i",
	"ò", "o", "ó", "o", "ô", "o", "ö", "o",
	"ù", "u", "ú", "u", "û", "u", "ü", "u",
	"À", "A", "Á", "A", "È", "E", "É", "E",
	"Ì", "I", "Í", "I", "Ò", "O", "Ó", "O",
	"Ù", "U", "Ú", "U",
)

// Normalize applies the named pre-normalization rules in order.
func Normalize(text string, rules []string) string {
	for _, rule := range rules {
		switch rule {
		case "trim":
			text = strings.TrimSpace(text)
		case "collapse_whitespace":
			text = strings.Join(strings.Fields(text), " ")
		case "lowercase":
			text = strings.ToLower(text)
		case "fold_accents":
			text = accentFolder.Replace(text)
		}
	}
	return text
}
