// Package convkey derives the canonical key identifying a two-party
// conversation from the pair of participant ids, independent of order.
package convkey

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedKey is returned when a key does not parse to two integer ids.
var ErrMalformedKey = errors.New("malformed conversation key")

// Encode returns the canonical key for the unordered pair {a, b}.
// Encode(3, 7) and Encode(7, 3) both yield "3-7".
func Encode(a, b int) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d-%d", a, b)
}

// Decode parses a key back into its sorted pair of participant ids.
// Keys arrive from external sources (deep links, route params), so every
// malformed shape maps to ErrMalformedKey instead of panicking.
func Decode(key string) (int, int, error) {
	parts := strings.Split(key, "-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrMalformedKey, key)
	}
	first, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrMalformedKey, key)
	}
	second, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrMalformedKey, key)
	}
	if first > second {
		first, second = second, first
	}
	return first, second, nil
}
