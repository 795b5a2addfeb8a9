package handlers

import (
	"regexp"
	"strings"
)

// Ethiopian mobile numbers: 09/07 prefix locally, 2519/2517 from shared
// Telegram contacts. Normalized form is the local 10-digit "09..." one.
var phoneRegex = regexp.MustCompile(`^(?:\+?251|0)([79]\d{8})$`)

// normalizePhone validates raw input and returns the canonical local form.
func normalizePhone(raw string) (string, bool) {
	cleaned := strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' || r == '(' || r == ')' {
			return -1
		}
		return r
	}, strings.TrimSpace(raw))

	m := phoneRegex.FindStringSubmatch(cleaned)
	if m == nil {
		return "", false
	}
	return "0" + m[1], true
}
