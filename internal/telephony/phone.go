package telephony

import (
	"fmt"
	"strings"
)

const (
	domesticDigits = 10
	domesticPrefix = "+1"
	maxE164Digits  = 15
)

// NormalizePhone converts a user-entered number to E.164.
//
//   - 10 digits: assumed domestic, prefixed with +1
//   - leading + or 11+ digits: already carries a country code
//
// Formatting characters (spaces, dashes, dots, parentheses) are dropped.
func NormalizePhone(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPhone)
	}
	hasPlus := strings.HasPrefix(s, "+")

	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return "", fmt.Errorf("%w: unexpected character %q", ErrInvalidPhone, r)
		}
	}
	digits := b.String()

	switch {
	case digits == "":
		return "", fmt.Errorf("%w: no digits", ErrInvalidPhone)
	case len(digits) > maxE164Digits:
		return "", fmt.Errorf("%w: too many digits", ErrInvalidPhone)
	case hasPlus:
		if len(digits) < 8 {
			return "", fmt.Errorf("%w: too short", ErrInvalidPhone)
		}
		return "+" + digits, nil
	case len(digits) == domesticDigits:
		return domesticPrefix + digits, nil
	case len(digits) > domesticDigits:
		return "+" + digits, nil
	default:
		return "", fmt.Errorf("%w: too short", ErrInvalidPhone)
	}
}
