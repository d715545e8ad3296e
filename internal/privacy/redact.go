// Package privacy masks credentials and card numbers that customers paste
// into helpdesk comments before the text is persisted.
package privacy

import (
	"regexp"
	"strings"
)

// Marker replaces every redacted value.
const Marker = "[REDACTED]"

// keyedPatterns match "name: value" or "name=value"; only the value is masked.
var keyedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(api[_-]?key|apikey|access[_-]?token|auth[_-]?token|secret[_-]?key|client[_-]?secret)\s*[:=]\s*['"]?[A-Za-z0-9_\-./+]{16,}['"]?`),
	regexp.MustCompile(`(?i)\b(password|passwd|pwd|passcode)\s*[:=]\s*\S{6,}`),
}

// tokenPatterns match standalone secrets.
var tokenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?(-----END [A-Z ]*PRIVATE KEY-----|$)`),
	regexp.MustCompile(`eyJ[A-Za-z0-9_-]{8,}\.eyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]+`),
	regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9_\-.=]{20,}`),
	regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{20,}`),
	regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}`),
	regexp.MustCompile(`\bxox[abpr]-[A-Za-z0-9-]{10,}`),
	regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
}

// cardCandidate matches 13 to 19 digits, optionally grouped by spaces or dashes.
var cardCandidate = regexp.MustCompile(`\b\d(?:[ -]?\d){12,18}\b`)

// ContainsSecrets reports whether Redact would change text.
func ContainsSecrets(text string) bool {
	return Redact(text) != text
}

// Redact masks credentials and Luhn-valid card numbers in text.
func Redact(text string) string {
	if text == "" {
		return text
	}
	out := text
	for _, p := range keyedPatterns {
		out = p.ReplaceAllStringFunc(out, func(match string) string {
			if idx := strings.IndexAny(match, ":="); idx != -1 {
				rest := match[idx+1:]
				gap := rest[:len(rest)-len(strings.TrimLeft(rest, " \t"))]
				return match[:idx+1] + gap + Marker
			}
			return Marker
		})
	}
	for _, p := range tokenPatterns {
		out = p.ReplaceAllString(out, Marker)
	}
	return cardCandidate.ReplaceAllStringFunc(out, func(match string) string {
		digits := strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, match)
		if !luhn(digits) {
			return match
		}
		return Marker
	})
}

func luhn(digits string) bool {
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
