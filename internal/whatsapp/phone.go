package whatsapp

import (
	"fmt"
	"strings"
)

// countryPrefix is the canonical country code for destinations (Indonesia).
const countryPrefix = "62"

// minPairingDigits is the minimum digit count accepted for a
// phone-pairing request.
const minPairingDigits = 10

// ErrInvalidPhone is returned when a phone number has no usable digits
// or is too short for the requested operation.
var ErrInvalidPhone = fmt.Errorf("invalid phone number format, use format: %sxxx", countryPrefix)

// stripNonDigits removes everything except ASCII digits.
func stripNonDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizePhone rewrites a raw destination into canonical form:
// non-digits stripped, a leading "0" replaced by the country prefix,
// and the prefix prepended when missing. Idempotent.
func NormalizePhone(raw string) (string, error) {
	digits := stripNonDigits(raw)
	if digits == "" {
		return "", ErrInvalidPhone
	}

	if strings.HasPrefix(digits, "0") {
		return countryPrefix + digits[1:], nil
	}
	if !strings.HasPrefix(digits, countryPrefix) {
		return countryPrefix + digits, nil
	}
	return digits, nil
}

// normalizePairingPhone validates and normalizes the number used for a
// pairing-code request. Rejected before any transport interaction.
func normalizePairingPhone(raw string) (string, error) {
	digits := stripNonDigits(raw)
	if len(digits) < minPairingDigits {
		return "", ErrInvalidPhone
	}
	return NormalizePhone(digits)
}
