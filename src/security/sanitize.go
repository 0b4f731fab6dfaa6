package security

import (
	"strings"
	"unicode"
)

// StripUnprintable removes non-printable characters from a string. Credential
// values sourced from .env files or copy-paste frequently pick up a stray
// carriage return or zero-width character that breaks API signatures.
func StripUnprintable(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) {
			return r
		}
		return -1
	}, s)
}

// CleanCredential trims surrounding whitespace and strips unprintable
// characters from a credential value.
func CleanCredential(s string) string {
	return strings.TrimSpace(StripUnprintable(s))
}
