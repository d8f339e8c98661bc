package kiteticker

import "time"

// Tick is one instrument's decoded state from a single sub-packet.
// Pointer fields are nil when the decoded tier does not carry them.
type Tick struct {
	Mode            Mode     `json:"mode"`
	InstrumentToken uint32   `json:"instrument_token"`
	Exchange        Exchange `json:"exchange"`
	IsTradable      bool     `json:"tradable"`
	IsIndex         bool     `json:"is_index"`

	LastPrice      *float64 `json:"last_price,omitempty"`
	LastTradedQty  *uint32  `json:"last_traded_quantity,omitempty"`
	AvgTradedPrice *float64 `json:"average_traded_price,omitempty"`
	VolumeTraded   *uint32  `json:"volume_traded,omitempty"`
	TotalBuyQty    *uint32  `json:"total_buy_quantity,omitempty"`
	TotalSellQty   *uint32  `json:"total_sell_quantity,omitempty"`
	OHLC           *OHLC    `json:"ohlc,omitempty"`

	LastTradedTime *time.Time `json:"last_trade_time,omitempty"`
	OI             *uint32    `json:"oi,omitempty"`
	OIDayHigh      *uint32    `json:"oi_day_high,omitempty"`
	OIDayLow       *uint32    `json:"oi_day_low,omitempty"`
	ExchangeTime   *time.Time `json:"exchange_timestamp,omitempty"`

	// NetChange is the percentage move of LastPrice over the previous close.
	NetChange *float64 `json:"change,omitempty"`
	Depth     *Depth   `json:"depth,omitempty"`
}

// OHLC holds the day's open/high/low and the previous close.
type OHLC struct {
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// Depth is the best five bid and ask levels in wire order.
type Depth struct {
	Buy  [5]DepthItem `json:"buy"`
	Sell [5]DepthItem `json:"sell"`
}

// DepthItem is one price level of the order book.
type DepthItem struct {
	Quantity uint32  `json:"quantity"`
	Price    float64 `json:"price"`
	Orders   uint16  `json:"orders"`
}

const (
	ohlcSize      = 16
	depthSize     = 120
	depthSlotSize = 12
	depthItemSize = 10
)

// DecodeTick decodes one sub-packet. The tier is inferred from the packet
// length and the instrument class encoded in the token's exchange byte.
func DecodeTick(b []byte) (Tick, error) {
	if len(b) < LTPLength {
		var token uint32
		if len(b) >= 4 {
			token = readU32BE(b)
		}
		return Tick{}, &DecodeLengthError{Token: token, Length: len(b)}
	}

	token := readU32BE(b[0:4])
	ex := ExchangeFromToken(token)
	isIndex := !ex.IsTradable()

	mode, err := ModeFromLength(len(b), isIndex)
	if err != nil {
		if dle, ok := err.(*DecodeLengthError); ok {
			dle.Token = token
		}
		return Tick{}, err
	}

	t := Tick{
		InstrumentToken: token,
		Exchange:        ex,
		IsTradable:      !isIndex,
		IsIndex:         isIndex,
	}

	decodeLTP(&t, b)
	if mode >= ModeQuote {
		if isIndex {
			decodeIndexQuote(&t, b)
		} else {
			decodeQuote(&t, b)
		}
	}
	if mode == ModeFull {
		if isIndex {
			decodeIndexFull(&t, b)
		} else {
			decodeFull(&t, b)
		}
	}
	t.Mode = mode
	return t, nil
}

// 4 - 8: last price
func decodeLTP(t *Tick, b []byte) {
	t.LastPrice = ptr(readPrice(b[4:8], t.Exchange))
}

// 8 - 24: ohlc, 24 - 28: reserved
func decodeIndexQuote(t *Tick, b []byte) {
	t.OHLC = decodeOHLC(b[8:24], t.Exchange)
	t.NetChange = netChange(*t.LastPrice, t.OHLC.Close)
}

// 28 - 32: exchange time
func decodeIndexFull(t *Tick, b []byte) {
	t.ExchangeTime = ptr(unixTime(readU32BE(b[28:32])))
}

// 8 - 28: trade aggregates, 28 - 44: ohlc
func decodeQuote(t *Tick, b []byte) {
	t.LastTradedQty = ptr(readU32BE(b[8:12]))
	t.AvgTradedPrice = ptr(readPrice(b[12:16], t.Exchange))
	t.VolumeTraded = ptr(readU32BE(b[16:20]))
	t.TotalBuyQty = ptr(readU32BE(b[20:24]))
	t.TotalSellQty = ptr(readU32BE(b[24:28]))
	t.OHLC = decodeOHLC(b[28:44], t.Exchange)
	t.NetChange = netChange(*t.LastPrice, t.OHLC.Close)
}

// 44 - 64: timestamps and open interest, 64 - 184: depth
func decodeFull(t *Tick, b []byte) {
	t.LastTradedTime = ptr(unixTime(readU32BE(b[44:48])))
	t.OI = ptr(readU32BE(b[48:52]))
	t.OIDayHigh = ptr(readU32BE(b[52:56]))
	t.OIDayLow = ptr(readU32BE(b[56:60]))
	t.ExchangeTime = ptr(unixTime(readU32BE(b[60:64])))
	t.Depth = decodeDepth(b[64:184], t.Exchange)
}

func decodeOHLC(b []byte, ex Exchange) *OHLC {
	return &OHLC{
		Open:  readPrice(b[0:4], ex),
		High:  readPrice(b[4:8], ex),
		Low:   readPrice(b[8:12], ex),
		Close: readPrice(b[12:16], ex),
	}
}

// decodeDepth reads ten 12-byte slots, five bids then five asks. The last
// two bytes of each slot are padding.
func decodeDepth(b []byte, ex Exchange) *Depth {
	d := &Depth{}
	for i := 0; i < 5; i++ {
		d.Buy[i] = decodeDepthItem(b[i*depthSlotSize:], ex)
		d.Sell[i] = decodeDepthItem(b[(i+5)*depthSlotSize:], ex)
	}
	return d
}

func decodeDepthItem(b []byte, ex Exchange) DepthItem {
	return DepthItem{
		Quantity: readU32BE(b[0:4]),
		Price:    readPrice(b[4:8], ex),
		Orders:   readU16BE(b[8:10]),
	}
}

// netChange is positive when last trades above the previous close. It is
// unset when there is no close to compare against.
func netChange(last, close float64) *float64 {
	if close == 0 {
		return nil
	}
	return ptr((last - close) * 100 / close)
}

func unixTime(sec uint32) time.Time {
	return time.Unix(int64(sec), 0).UTC()
}

func ptr[T any](v T) *T { return &v }
