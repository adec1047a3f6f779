package codec

import (
	"errors"
	"fmt"
	"math"
)

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Base62 errors.
var (
	ErrEmptyBase62   = errors.New("codec: empty base62 string")
	ErrInvalidBase62 = errors.New("codec: invalid base62 digit")
	ErrBase62Range   = errors.New("codec: base62 value out of range")
)

// EncodeBase62 formats n with the digits 0-9, A-Z, a-z.
func EncodeBase62(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [11]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = base62Alphabet[n%62]
		n /= 62
	}
	return string(buf[i:])
}

// DecodeBase62 parses a string produced by EncodeBase62.
func DecodeBase62(s string) (uint64, error) {
	if s == "" {
		return 0, ErrEmptyBase62
	}
	var n uint64
	for i := 0; i < len(s); i++ {
		d, ok := base62Digit(s[i])
		if !ok {
			return 0, fmt.Errorf("%w %q at offset %d", ErrInvalidBase62, s[i], i)
		}
		if n > (math.MaxUint64-d)/62 {
			return 0, fmt.Errorf("%w: %q", ErrBase62Range, s)
		}
		n = n*62 + d
	}
	return n, nil
}

func base62Digit(c byte) (uint64, bool) {
	switch {
	case c >= '0' && c <= '9':
		return uint64(c - '0'), true
	case c >= 'A' && c <= 'Z':
		return uint64(c-'A') + 10, true
	case c >= 'a' && c <= 'z':
		return uint64(c-'a') + 36, true
	}
	return 0, false
}

// Base62 is an unsigned integer carried on the wire as a base-62 string,
// both in JSON bodies and in query parameters.
type Base62 uint64

// String returns the base-62 form of b.
func (b Base62) String() string {
	return EncodeBase62(uint64(b))
}

// MarshalText implements encoding.TextMarshaler.
func (b Base62) MarshalText() ([]byte, error) {
	return []byte(EncodeBase62(uint64(b))), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *Base62) UnmarshalText(text []byte) error {
	n, err := DecodeBase62(string(text))
	if err != nil {
		return err
	}
	*b = Base62(n)
	return nil
}
