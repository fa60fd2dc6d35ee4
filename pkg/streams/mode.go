package streams

import (
	"fmt"
	"strings"
)

// Mode selects how a raw report is interpreted.
type Mode int

const (
	// ModeFull decodes feed id, both timestamps, benchmark price, bid and ask.
	ModeFull Mode = iota
	// ModePriceOnly decodes a single price word at a 10^2 scale.
	ModePriceOnly
)

// String returns the config/API name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeFull:
		return "full"
	case ModePriceOnly:
		return "price_only"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeFull || m == ModePriceOnly
}

// Divisor returns the fixed-point divisor applied to price words.
func (m Mode) Divisor() float64 {
	if m == ModePriceOnly {
		return PriceOnlyDivisor
	}
	return FullFieldDivisor
}

// Exponent returns the decimal exponent matching Divisor.
func (m Mode) Exponent() int32 {
	if m == ModePriceOnly {
		return PriceOnlyExponent
	}
	return FullFieldExponent
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: unknown decode mode %d", ErrInvalidRequest, int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseMode parses a mode name. The empty string selects ModeFull.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "full", "a":
		return ModeFull, nil
	case "price_only", "price-only", "price", "b":
		return ModePriceOnly, nil
	default:
		return ModeFull, fmt.Errorf("%w: unknown decode mode %q", ErrInvalidRequest, s)
	}
}
