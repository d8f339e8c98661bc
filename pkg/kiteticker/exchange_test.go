package kiteticker

import (
	"encoding/json"
	"testing"
)

func TestExchangeFromCode(t *testing.T) {
	tests := []struct {
		code     uint8
		want     Exchange
		divisor  float64
		tradable bool
	}{
		{1, NSE, 100, true},
		{2, NFO, 100, true},
		{3, CDS, 1_000_000, true},
		{4, BSE, 100, true},
		{5, BFO, 100, true},
		{6, BCD, 1_000, true},
		{7, MCX, 100, true},
		{8, MCXSX, 100, true},
		{9, INDICES, 100, false},
		{0, NSE, 100, true},
		{10, NSE, 100, true},
		{255, NSE, 100, true},
	}
	for _, tc := range tests {
		ex := ExchangeFromCode(tc.code)
		if ex != tc.want {
			t.Errorf("code %d = %s, want %s", tc.code, ex, tc.want)
		}
		if ex.Divisor() != tc.divisor {
			t.Errorf("code %d divisor = %v, want %v", tc.code, ex.Divisor(), tc.divisor)
		}
		if ex.IsTradable() != tc.tradable {
			t.Errorf("code %d tradable = %v", tc.code, ex.IsTradable())
		}
	}
}

func TestExchangeFromToken(t *testing.T) {
	if ex := ExchangeFromToken(tokenNSE); ex != NSE {
		t.Errorf("408065 = %s, want NSE", ex)
	}
	if ex := ExchangeFromToken(tokenIndex); ex != INDICES {
		t.Errorf("256265 = %s, want INDICES", ex)
	}
	if ex := ExchangeFromToken(0x1234_5603); ex != CDS {
		t.Errorf("low byte 3 = %s, want CDS", ex)
	}
}

func TestParseExchange(t *testing.T) {
	for name, want := range map[string]Exchange{
		"NSE": NSE, "nfo": NFO, " mcx ": MCX, "INDICES": INDICES, "NYSE": NSE, "": NSE,
	} {
		if got := ParseExchange(name); got != want {
			t.Errorf("ParseExchange(%q) = %s, want %s", name, got, want)
		}
	}
}

func TestExchange_JSON(t *testing.T) {
	b, err := json.Marshal(map[string]Exchange{"ex": BFO})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"ex":"BFO"}` {
		t.Errorf("marshal = %s", b)
	}
	if s := Exchange(42).String(); s != "EX_42" {
		t.Errorf("unknown exchange prints %q", s)
	}
}

func TestMode(t *testing.T) {
	for s, want := range map[string]Mode{"ltp": ModeLTP, "QUOTE": ModeQuote, "full": ModeFull} {
		m, err := ParseMode(s)
		if err != nil || m != want {
			t.Errorf("ParseMode(%q) = %s, %v", s, m, err)
		}
	}
	if _, err := ParseMode("snap"); err == nil {
		t.Error("expected error for unknown mode")
	}
	if _, err := Mode(0).MarshalText(); err == nil {
		t.Error("unspecified mode marshalled")
	}
	if !(ModeLTP < ModeQuote && ModeQuote < ModeFull) {
		t.Error("modes not ordered by richness")
	}

	tests := []struct {
		n       int
		isIndex bool
		want    Mode
	}{
		{8, false, ModeLTP},
		{44, false, ModeQuote},
		{184, false, ModeFull},
		{8, true, ModeLTP},
		{28, true, ModeQuote},
		{32, true, ModeFull},
	}
	for _, tc := range tests {
		m, err := ModeFromLength(tc.n, tc.isIndex)
		if err != nil || m != tc.want {
			t.Errorf("ModeFromLength(%d, %v) = %s, %v", tc.n, tc.isIndex, m, err)
		}
		n, err := PacketLength(tc.isIndex, m)
		if err != nil || n != tc.n {
			t.Errorf("PacketLength(%v, %s) = %d, %v", tc.isIndex, m, n, err)
		}
	}
}
