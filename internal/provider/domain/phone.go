package domain

import (
	"net/mail"
	"strings"

	"github.com/smallbiznis/relaya/internal/segments"
)

// NormalizePhone reduces a Turkish mobile number to its bare 10-digit
// national form, the shape SMS gateways expect. Formatting characters and
// the +90 / 90 / 0 prefixes are stripped. Input that cannot be normalized
// is returned with only the formatting removed; ValidatePhone is the
// authority on whether it is usable.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		switch r {
		case ' ', '-', '(', ')', '.', '\t':
		case '+':
		default:
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case len(digits) == 12 && strings.HasPrefix(digits, "90"):
		return digits[2:]
	case len(digits) == 11 && strings.HasPrefix(digits, "0"):
		return digits[1:]
	default:
		return digits
	}
}

// ValidatePhone reports whether the number normalizes to a valid Turkish
// mobile number: ten digits starting with 5.
func ValidatePhone(raw string) bool {
	n := NormalizePhone(raw)
	if len(n) != 10 || n[0] != '5' {
		return false
	}
	for i := 0; i < len(n); i++ {
		if n[i] < '0' || n[i] > '9' {
			return false
		}
	}
	return true
}

// ValidateEmail reports whether the address parses as a bare RFC 5322
// address without a display name.
func ValidateEmail(raw string) bool {
	addr, err := mail.ParseAddress(raw)
	return err == nil && addr.Address == raw
}

// CalculateCredits returns the number of SMS segments, and therefore
// credits, the message costs.
func CalculateCredits(message string) int {
	return segments.Calculate(message)
}
