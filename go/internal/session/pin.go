package session

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"unicode"
)

// PinLength is the number of digits in a game PIN.
const PinLength = 6

// NormalizePin strips everything but digits, so "780 674" and "780-674" both
// resolve to "780674".
func NormalizePin(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if unicode.IsDigit(r) && r < unicode.MaxASCII {
			b.WriteRune(r)
		}
	}
	pin := b.String()
	if len(pin) != PinLength {
		return "", fmt.Errorf("%w: expected %d digits", ErrInvalidPin, PinLength)
	}
	return pin, nil
}

// GeneratePin returns a random zero-padded PIN.
func GeneratePin() string {
	return fmt.Sprintf("%06d", rand.IntN(1_000_000))
}
