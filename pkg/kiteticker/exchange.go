package kiteticker

import (
	"strconv"
	"strings"
)

// Exchange identifies the segment an instrument trades on. The numeric value
// is the code carried in the low byte of an instrument token.
type Exchange uint8

const (
	NSE     Exchange = 1
	NFO     Exchange = 2
	CDS     Exchange = 3
	BSE     Exchange = 4
	BFO     Exchange = 5
	BCD     Exchange = 6
	MCX     Exchange = 7
	MCXSX   Exchange = 8
	INDICES Exchange = 9
)

var exchangeNames = map[Exchange]string{
	NSE:     "NSE",
	NFO:     "NFO",
	CDS:     "CDS",
	BSE:     "BSE",
	BFO:     "BFO",
	BCD:     "BCD",
	MCX:     "MCX",
	MCXSX:   "MCXSX",
	INDICES: "INDICES",
}

// ExchangeFromCode maps a segment code to its Exchange.
// Unknown codes fall back to NSE, which also selects NSE's price divisor.
func ExchangeFromCode(code uint8) Exchange {
	ex := Exchange(code)
	if _, ok := exchangeNames[ex]; !ok {
		return NSE
	}
	return ex
}

// ExchangeFromToken derives the exchange from the low 8 bits of a token.
func ExchangeFromToken(token uint32) Exchange {
	return ExchangeFromCode(uint8(token & 0xFF))
}

// ParseExchange maps an exchange name ("NSE", "nfo", ...) to its Exchange,
// with the same NSE fallback as ExchangeFromCode.
func ParseExchange(s string) Exchange {
	s = strings.ToUpper(strings.TrimSpace(s))
	for ex, name := range exchangeNames {
		if name == s {
			return ex
		}
	}
	return NSE
}

// Divisor is the fixed-point scale of prices on this exchange.
func (e Exchange) Divisor() float64 {
	switch e {
	case CDS:
		return 1_000_000.0
	case BCD:
		return 1_000.0
	default:
		return 100.0
	}
}

// IsTradable reports whether instruments on e can be traded. Only INDICES
// carries non-tradable (index) instruments.
func (e Exchange) IsTradable() bool {
	return e != INDICES
}

func (e Exchange) String() string {
	if name, ok := exchangeNames[e]; ok {
		return name
	}
	return "EX_" + strconv.Itoa(int(e))
}

func (e Exchange) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

func (e *Exchange) UnmarshalText(b []byte) error {
	*e = ParseExchange(string(b))
	return nil
}
