// Package normalizers provides field normalization functions for matching keys
package normalizers

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalizer is a function that normalizes a string value
type Normalizer func(string) string

// registry holds all registered normalizers
var registry = make(map[string]Normalizer)

func init() {
	// Register built-in normalizers
	Register("lowercase", Lowercase)
	Register("uppercase", Uppercase)
	Register("trim", Trim)
	Register("remove_whitespace", RemoveWhitespace)
	Register("collapse_whitespace", CollapseWhitespace)
	Register("remove_punctuation", RemovePunctuation)
	Register("fold_diacritics", FoldDiacritics)
	Register("nname", NormalizeName)
	Register("digits_only", DigitsOnly)
	Register("alphanumeric", Alphanumeric)
	Register("nlang", NormalizeLanguageCode)
}

// Register adds a normalizer to the registry
func Register(name string, fn Normalizer) {
	registry[name] = fn
}

// Get retrieves a normalizer by name
func Get(name string) (Normalizer, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Apply applies a named normalizer to a value
func Apply(value, normalizer string) string {
	fn, ok := registry[normalizer]
	if !ok {
		return value
	}
	return fn(value)
}

// ApplyChain applies multiple normalizers in sequence
func ApplyChain(value string, normalizers ...string) string {
	result := value
	for _, name := range normalizers {
		result = Apply(result, name)
	}
	return result
}

// Built-in normalizers

// Lowercase converts string to lowercase
func Lowercase(s string) string {
	return strings.ToLower(s)
}

// Uppercase converts string to uppercase
func Uppercase(s string) string {
	return strings.ToUpper(s)
}

// Trim removes leading and trailing whitespace
func Trim(s string) string {
	return strings.TrimSpace(s)
}

// RemoveWhitespace removes all whitespace characters
func RemoveWhitespace(s string) string {
	var result strings.Builder
	for _, r := range s {
		if !unicode.IsSpace(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

var spaceRe = regexp.MustCompile(`\s+`)

// CollapseWhitespace folds runs of whitespace into a single space and trims
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// RemovePunctuation removes all punctuation characters
func RemovePunctuation(s string) string {
	var result strings.Builder
	for _, r := range s {
		if !unicode.IsPunct(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// FoldDiacritics strips combining marks so that accented and unaccented
// spellings compare equal ("Hawaiʻi" and "Hawaii" share a matching key).
// The okina and similar modifier letters are dropped as well.
func FoldDiacritics(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		folded = s
	}
	var result strings.Builder
	for _, r := range folded {
		// Lm covers ʻokina, macron-less glottal markers, and apostrophe-like
		// modifier letters common in Pacific place names
		if unicode.In(r, unicode.Lm) || r == '\'' || r == '’' || r == 'ʻ' {
			continue
		}
		result.WriteRune(r)
	}
	return result.String()
}

// NormalizeName builds the canonical matching key for titles and place
// names: lowercase, diacritic-folded, punctuation removed, whitespace
// collapsed. "Big Island" and "big  island" normalize identically.
func NormalizeName(s string) string {
	s = strings.ToLower(s)
	s = FoldDiacritics(s)

	var result strings.Builder
	prevSpace := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
			prevSpace = false
		} else if unicode.IsSpace(r) || unicode.IsPunct(r) {
			if !prevSpace {
				result.WriteRune(' ')
				prevSpace = true
			}
		}
	}

	return strings.TrimSpace(result.String())
}

// DigitsOnly keeps only digit characters
func DigitsOnly(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// Alphanumeric keeps only alphanumeric characters
func Alphanumeric(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// NormalizeLanguageCode normalizes a controlled-vocabulary language code:
// trimmed, lowercased, region subtags dropped ("EN-us" -> "en")
func NormalizeLanguageCode(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if i := strings.IndexAny(s, "-_"); i > 0 {
		s = s[:i]
	}
	return s
}
