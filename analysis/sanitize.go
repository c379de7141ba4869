// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

package analysis

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// piiPattern is one redaction rule: a regexp, an optional validator that
// weeds out look-alikes, and the placeholder that replaces a confirmed
// match.
type piiPattern struct {
	kind        string
	placeholder string
	re          *regexp.Regexp
	validate    func(match string) bool
	confidence  float64
}

// Sanitizer strips identifying substrings before text leaves the
// process. Patterns run in a fixed order so composite values (a card
// number that also looks like a phone number) are claimed by the most
// specific rule first; placeholders contain no digits, so later rules
// never re-match earlier replacements.
type Sanitizer struct {
	patterns      []piiPattern
	minConfidence float64
}

// NewSanitizer builds a sanitizer with the full pattern table.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		patterns:      defaultPatterns(),
		minConfidence: 0.5,
	}
}

// SanitizeResult carries the redacted text and how many matches each
// pattern replaced. Counts are safe to log and export; the matched
// values themselves never are.
type SanitizeResult struct {
	Text   string
	Counts map[string]int
}

// Total returns the number of replacements across all patterns.
func (r SanitizeResult) Total() int {
	total := 0
	for _, n := range r.Counts {
		total += n
	}
	return total
}

// Sanitize replaces every validated match with its placeholder token.
func (s *Sanitizer) Sanitize(text string) SanitizeResult {
	counts := make(map[string]int)
	out := text

	for _, p := range s.patterns {
		if p.confidence < s.minConfidence {
			continue
		}
		pattern := p
		out = pattern.re.ReplaceAllStringFunc(out, func(match string) string {
			if pattern.validate != nil && !pattern.validate(match) {
				return match
			}
			counts[pattern.kind]++
			promSanitizerMatches.WithLabelValues(pattern.kind).Inc()
			return pattern.placeholder
		})
	}

	return SanitizeResult{Text: out, Counts: counts}
}

// defaultPatterns returns the redaction rules in replacement order.
func defaultPatterns() []piiPattern {
	return []piiPattern{
		// URLs with embedded credentials, before the email rule claims
		// the user:pass@host part.
		{
			kind:        "credential_url",
			placeholder: "[URL]",
			re:          regexp.MustCompile(`https?://[^\s/:@]+:[^\s@]+@\S+`),
			confidence:  0.95,
		},
		{
			kind:        "email",
			placeholder: "[EMAIL]",
			re:          regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`),
			confidence:  0.9,
		},
		{
			kind:        "iban",
			placeholder: "[IBAN]",
			re:          regexp.MustCompile(`\b[A-Z]{2}[0-9]{2}[A-Z0-9]{11,30}\b`),
			validate:    ibanValid,
			confidence:  0.9,
		},
		// Major card networks plus the generic 4x4 grouping, gated on the
		// Luhn check.
		{
			kind:        "credit_card",
			placeholder: "[CARD]",
			re:          regexp.MustCompile(`\b(?:4[0-9]{12}(?:[0-9]{3})?|5[1-5][0-9]{14}|3[47][0-9]{13}|6(?:011|5[0-9]{2})[0-9]{12})\b|\b\d{4}[- ]?\d{4}[- ]?\d{4}[- ]?\d{4}\b`),
			validate:    cardValid,
			confidence:  0.85,
		},
		{
			kind:        "ssn",
			placeholder: "[SSN]",
			re:          regexp.MustCompile(`\b\d{3}[- ]?\d{2}[- ]?\d{4}\b`),
			validate:    ssnValid,
			confidence:  0.7,
		},
		{
			kind:        "phone",
			placeholder: "[PHONE]",
			re:          regexp.MustCompile(`\b(?:\+?\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`),
			validate:    phoneValid,
			confidence:  0.7,
		},
		{
			kind:        "ip_address",
			placeholder: "[IP]",
			re:          regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`),
			confidence:  0.8,
		},
		{
			kind:        "address",
			placeholder: "[ADDRESS]",
			re:          regexp.MustCompile(`(?i)\b\d{1,5}\s+(?:[A-Za-z]+\s+){1,3}(?:street|st|avenue|ave|road|rd|boulevard|blvd|lane|ln|drive|dr|court|ct|place|pl|way)\b`),
			confidence:  0.6,
		},
	}
}

func digitsOf(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

// ssnValid rejects the number ranges the SSA never issues: area 000,
// 666 or 900+, group 00, serial 0000.
func ssnValid(match string) bool {
	clean := digitsOf(match)
	if len(clean) != 9 {
		return false
	}
	area, _ := strconv.Atoi(clean[0:3])
	group, _ := strconv.Atoi(clean[3:5])
	serial, _ := strconv.Atoi(clean[5:9])
	if area == 0 || area == 666 || area >= 900 {
		return false
	}
	return group != 0 && serial != 0
}

func cardValid(match string) bool {
	clean := digitsOf(match)
	if len(clean) < 13 || len(clean) > 19 {
		return false
	}
	return luhnValid(clean)
}

func luhnValid(number string) bool {
	sum := 0
	alternate := false
	for i := len(number) - 1; i >= 0; i-- {
		digit := int(number[i] - '0')
		if alternate {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		alternate = !alternate
	}
	return sum%10 == 0
}

func ibanValid(match string) bool {
	clean := strings.ReplaceAll(strings.ToUpper(match), " ", "")
	if len(clean) < 15 || len(clean) > 34 {
		return false
	}
	// MOD 97: move the first four characters to the end, expand letters
	// to numbers (A=10 .. Z=35), and the remainder must be 1.
	rearranged := clean[4:] + clean[0:4]
	remainder := 0
	for _, ch := range rearranged {
		if unicode.IsLetter(ch) {
			for _, d := range strconv.Itoa(int(ch - 'A' + 10)) {
				remainder = (remainder*10 + int(d-'0')) % 97
			}
			continue
		}
		remainder = (remainder*10 + int(ch-'0')) % 97
	}
	return remainder == 1
}

func phoneValid(match string) bool {
	digits := digitsOf(match)
	if len(digits) < 10 || len(digits) > 13 {
		return false
	}
	first := digits[0]
	for i := 1; i < len(digits); i++ {
		if digits[i] != first {
			return true
		}
	}
	return false
}
