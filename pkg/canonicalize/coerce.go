package canonicalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pasifika-atlas/reef/pkg/models"
)

// Budget parsing grammar, fixed and documented:
//
//	budget     = [currency] amount [multiplier] | amount [multiplier] [currency]
//	currency   = "$" | "US$" | 3-letter ISO code (USD, NZD, FJD, EUR, ...)
//	amount     = digits with optional "," or " " thousands separators and
//	             optional "." decimal point
//	multiplier = "k" (1e3) | "m" | "mm" (1e6)
//
// Bare "$" maps to USD. Anything outside the grammar is a coercion failure:
// the value stays null and a note is recorded, never silently zeroed.
var budgetRe = regexp.MustCompile(`^\s*(?:(\$|US\$|[A-Za-z]{3})\s*)?([0-9][0-9,\. ]*)\s*([kKmM]|[mM][mM])?\s*(?:([A-Za-z]{3}))?\s*$`)

// currencySymbols maps recognized symbols to ISO codes.
var currencySymbols = map[string]string{
	"$":   "USD",
	"US$": "USD",
	"€":   "EUR",
}

// ParseBudget parses a free-text budget string into an amount and currency
// code.
func ParseBudget(s string) (amount float64, currency string, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, "", fmt.Errorf("empty budget string")
	}
	// normalize the euro symbol before the ASCII-only regexp
	if strings.HasPrefix(s, "€") {
		s = "EUR " + strings.TrimPrefix(s, "€")
	}

	m := budgetRe.FindStringSubmatch(s)
	if m == nil {
		return 0, "", fmt.Errorf("budget %q does not match parsing grammar", s)
	}

	prefix, number, multiplier, suffix := m[1], m[2], m[3], m[4]

	currency = "USD"
	switch {
	case prefix != "":
		if iso, ok := currencySymbols[prefix]; ok {
			currency = iso
		} else {
			currency = strings.ToUpper(prefix)
		}
	case suffix != "":
		currency = strings.ToUpper(suffix)
	}

	number = strings.ReplaceAll(number, ",", "")
	number = strings.ReplaceAll(number, " ", "")
	amount, parseErr := strconv.ParseFloat(number, 64)
	if parseErr != nil {
		return 0, "", fmt.Errorf("budget amount %q is not numeric", number)
	}

	switch strings.ToLower(multiplier) {
	case "k":
		amount *= 1e3
	case "m", "mm":
		amount *= 1e6
	}

	return amount, currency, nil
}

var yearRe = regexp.MustCompile(`\b(1[89]\d{2}|20\d{2}|2100)\b`)

// ParseYear extracts a release year from a date or free-text string:
// "2014", "2014-06-01", "June 2014" all yield 2014.
func ParseYear(s string) (int, error) {
	m := yearRe.FindString(strings.TrimSpace(s))
	if m == "" {
		return 0, fmt.Errorf("no plausible year in %q", s)
	}
	year, err := strconv.Atoi(m)
	if err != nil {
		return 0, err
	}
	return year, nil
}

// ParseTriState maps free-text yes/no answers onto the tri-state flag.
// Unrecognized or empty input is Unknown, never an error.
func ParseTriState(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "true", "1":
		return models.TriStateYes
	case "no", "n", "false", "0":
		return models.TriStateNo
	default:
		return models.TriStateUnknown
	}
}

// ParseProductionStatus maps source status vocabulary onto the production
// status enum.
func ParseProductionStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "released", "complete", "completed", "distributed", "out":
		return models.StatusReleased
	case "in production", "in-production", "production", "post-production",
		"post production", "filming", "development", "in development", "editing":
		return models.StatusInProduction
	default:
		return models.StatusUnknown
	}
}

// ParseStreaming parses a streaming-availability cell into platform ->
// availability note. Entries are ";"-separated; an optional ":" splits
// platform from note ("Netflix: US only; Vimeo").
func ParseStreaming(s string) map[string]string {
	out := map[string]string{}
	for _, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if i := strings.Index(entry, ":"); i > 0 {
			out[strings.TrimSpace(entry[:i])] = strings.TrimSpace(entry[i+1:])
		} else {
			out[entry] = ""
		}
	}
	return out
}

// SplitList splits a multi-valued cell on the separators the spreadsheet
// sources use.
func SplitList(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ';' || r == ',' || r == '|'
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseFloat parses a numeric cell.
func ParseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(s, ",", "")), 64)
	if err != nil {
		return 0, fmt.Errorf("value %q is not numeric", s)
	}
	return v, nil
}
