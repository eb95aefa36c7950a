package extract

import (
	"regexp"
	"strings"
	"unicode"
)

// NormalizeText collapses runs of whitespace to single spaces and trims.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Dedupe removes exact duplicates, keeping first occurrences in order.
func Dedupe(in []string) []string {
	if len(in) == 0 {
		return in
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

	// phoneRe finds digit runs with common separators; phoneDigits filters
	// them by length afterwards.
	phoneRe = regexp.MustCompile(`\+?\(?\d[\d\s().\-]{6,}\d`)

	dateRe = regexp.MustCompile(`^\d{4}[-./]\d{1,2}[-./]\d{1,2}$`)
)

const (
	minPhoneDigits = 8
	maxPhoneDigits = 15
)

// Emails returns the distinct addresses found in text.
func Emails(text string) []string {
	matches := emailRe.FindAllString(text, -1)
	for i, m := range matches {
		matches[i] = strings.ToLower(strings.TrimRight(m, "."))
	}
	return Dedupe(matches)
}

// Phones returns the distinct phone-like numbers found in text, normalized
// to digits with an optional leading "+".
func Phones(text string) []string {
	var out []string
	for _, m := range phoneRe.FindAllString(text, -1) {
		if p, ok := normalizePhone(m); ok {
			out = append(out, p)
		}
	}
	return Dedupe(out)
}

func normalizePhone(m string) (string, bool) {
	if dateRe.MatchString(strings.TrimSpace(m)) {
		return "", false
	}
	var b strings.Builder
	if strings.HasPrefix(strings.TrimSpace(m), "+") {
		b.WriteByte('+')
	}
	digits := 0
	for _, r := range m {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
			digits++
		}
	}
	if digits < minPhoneDigits || digits > maxPhoneDigits {
		return "", false
	}
	return b.String(), true
}
