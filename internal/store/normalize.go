package store

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	spaceRun     = regexp.MustCompile(`\s+`)
)

// Abbreviations folded so "123 Main Street" and "123 main st." dedupe.
var addressWords = map[string]string{
	"street":    "st",
	"avenue":    "ave",
	"boulevard": "blvd",
	"road":      "rd",
	"drive":     "dr",
	"lane":      "ln",
	"suite":     "ste",
	"highway":   "hwy",
	"parkway":   "pkwy",
	"court":     "ct",
	"place":     "pl",
	"north":     "n",
	"south":     "s",
	"east":      "e",
	"west":      "w",
}

// NormalizeAddress lower-cases, strips punctuation, collapses whitespace and
// folds common street abbreviations.
func NormalizeAddress(addr string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return unicode.ToLower(r)
		default:
			return ' '
		}
	}, addr)
	words := strings.Fields(cleaned)
	for i, w := range words {
		if short, ok := addressWords[w]; ok {
			words[i] = short
		}
	}
	return strings.Join(words, " ")
}

// NormalizeName trims and collapses internal whitespace.
func NormalizeName(name string) string {
	return spaceRun.ReplaceAllString(strings.TrimSpace(name), " ")
}

// NormalizeEmail lower-cases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmailFormat reports whether email looks like a deliverable address.
func ValidEmailFormat(email string) bool {
	return emailPattern.MatchString(email)
}
