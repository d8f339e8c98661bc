package kiteticker

import (
	"fmt"
	"strconv"
)

// Mode is the verbosity tier of a subscription, ordered by payload richness.
// The zero value means "unspecified" and resolves to DefaultMode.
type Mode uint8

const (
	ModeLTP   Mode = 1
	ModeQuote Mode = 2
	ModeFull  Mode = 3
)

// DefaultMode is applied when a subscription does not name a mode.
const DefaultMode = ModeQuote

// Packet lengths of each tier.
const (
	LTPLength        = 8
	QuoteLength      = 44
	FullLength       = 184
	IndexQuoteLength = 28
	IndexFullLength  = 32
)

// orDefault resolves the unspecified mode. Out-of-range values are treated
// as unspecified.
func (m Mode) orDefault() Mode {
	if m < ModeLTP || m > ModeFull {
		return DefaultMode
	}
	return m
}

// ModeFromLength infers the tier from a sub-packet length for the given
// instrument class.
func ModeFromLength(n int, isIndex bool) (Mode, error) {
	switch {
	case n == LTPLength:
		return ModeLTP, nil
	case !isIndex && n == QuoteLength, isIndex && n == IndexQuoteLength:
		return ModeQuote, nil
	case !isIndex && n == FullLength, isIndex && n == IndexFullLength:
		return ModeFull, nil
	}
	return 0, &DecodeLengthError{Length: n, IsIndex: isIndex}
}

// ParseMode accepts "ltp", "quote" or "full".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "ltp", "LTP":
		return ModeLTP, nil
	case "quote", "QUOTE":
		return ModeQuote, nil
	case "full", "FULL":
		return ModeFull, nil
	}
	return 0, fmt.Errorf("kiteticker: unknown mode %q", s)
}

func (m Mode) String() string {
	switch m {
	case ModeLTP:
		return "ltp"
	case ModeQuote:
		return "quote"
	case ModeFull:
		return "full"
	case 0:
		return "unspecified"
	}
	return "mode(" + strconv.Itoa(int(m)) + ")"
}

func (m Mode) MarshalText() ([]byte, error) {
	switch m {
	case ModeLTP, ModeQuote, ModeFull:
		return []byte(m.String()), nil
	}
	return nil, fmt.Errorf("kiteticker: cannot marshal %s", m)
}

func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
