package kiteticker

import (
	"fmt"
	"time"
)

// PacketLength returns the sub-packet length of a tier for an instrument
// class. It is the inverse of ModeFromLength.
func PacketLength(isIndex bool, mode Mode) (int, error) {
	switch mode.orDefault() {
	case ModeLTP:
		return LTPLength, nil
	case ModeQuote:
		if isIndex {
			return IndexQuoteLength, nil
		}
		return QuoteLength, nil
	case ModeFull:
		if isIndex {
			return IndexFullLength, nil
		}
		return FullLength, nil
	}
	return 0, fmt.Errorf("kiteticker: no packet length for %s", mode)
}

// EncodeTick writes t in the wire layout read by DecodeTick. The exchange
// and instrument class come from the token, as on the wire; unset fields are
// written as zero and NetChange is derived, so it is never encoded.
func EncodeTick(t Tick) ([]byte, error) {
	ex := ExchangeFromToken(t.InstrumentToken)
	isIndex := !ex.IsTradable()
	n, err := PacketLength(isIndex, t.Mode)
	if err != nil {
		return nil, err
	}

	b := make([]byte, n)
	putU32BE(b[0:4], t.InstrumentToken)
	putPrice(b[4:8], deref(t.LastPrice), ex)
	if n == LTPLength {
		return b, nil
	}

	if isIndex {
		encodeOHLC(b[8:24], t.OHLC, ex)
		if n == IndexFullLength {
			putU32BE(b[28:32], unixSeconds(t.ExchangeTime))
		}
		return b, nil
	}

	putU32BE(b[8:12], deref(t.LastTradedQty))
	putPrice(b[12:16], deref(t.AvgTradedPrice), ex)
	putU32BE(b[16:20], deref(t.VolumeTraded))
	putU32BE(b[20:24], deref(t.TotalBuyQty))
	putU32BE(b[24:28], deref(t.TotalSellQty))
	encodeOHLC(b[28:44], t.OHLC, ex)
	if n == QuoteLength {
		return b, nil
	}

	putU32BE(b[44:48], unixSeconds(t.LastTradedTime))
	putU32BE(b[48:52], deref(t.OI))
	putU32BE(b[52:56], deref(t.OIDayHigh))
	putU32BE(b[56:60], deref(t.OIDayLow))
	putU32BE(b[60:64], unixSeconds(t.ExchangeTime))
	if t.Depth != nil {
		for i := 0; i < 5; i++ {
			encodeDepthItem(b[64+i*depthSlotSize:], t.Depth.Buy[i], ex)
			encodeDepthItem(b[64+(i+5)*depthSlotSize:], t.Depth.Sell[i], ex)
		}
	}
	return b, nil
}

// EncodeFrame prefixes each packet with its length and the frame with the
// packet count.
func EncodeFrame(packets ...[]byte) []byte {
	size := 2
	for _, p := range packets {
		size += 2 + len(p)
	}
	frame := make([]byte, size)
	putU16BE(frame[0:2], uint16(len(packets)))
	cursor := 2
	for _, p := range packets {
		putU16BE(frame[cursor:cursor+2], uint16(len(p)))
		cursor += 2
		cursor += copy(frame[cursor:], p)
	}
	return frame
}

func encodeOHLC(b []byte, o *OHLC, ex Exchange) {
	if o == nil {
		return
	}
	putPrice(b[0:4], o.Open, ex)
	putPrice(b[4:8], o.High, ex)
	putPrice(b[8:12], o.Low, ex)
	putPrice(b[12:16], o.Close, ex)
}

func encodeDepthItem(b []byte, d DepthItem, ex Exchange) {
	putU32BE(b[0:4], d.Quantity)
	putPrice(b[4:8], d.Price, ex)
	putU16BE(b[8:10], d.Orders)
}

func unixSeconds(t *time.Time) uint32 {
	if t == nil {
		return 0
	}
	return uint32(t.Unix())
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
