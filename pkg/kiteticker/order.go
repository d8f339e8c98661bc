package kiteticker

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// postbackTimeLayout is the timestamp format of order postbacks (IST wall
// clock, no zone on the wire).
const postbackTimeLayout = "2006-01-02 15:04:05"

// PostbackTime is a postback timestamp. It keeps the wire text so checksums
// can be recomputed byte for byte.
type PostbackTime struct {
	time.Time
	raw string
}

func (p *PostbackTime) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*p = PostbackTime{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	t, err := time.Parse(postbackTimeLayout, s)
	if err != nil {
		return fmt.Errorf("kiteticker: postback time %q: %w", s, err)
	}
	*p = PostbackTime{Time: t, raw: s}
	return nil
}

func (p PostbackTime) MarshalJSON() ([]byte, error) {
	if p.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(p.String())
}

// String returns the timestamp in postback layout.
func (p PostbackTime) String() string {
	if p.raw != "" {
		return p.raw
	}
	if p.IsZero() {
		return ""
	}
	return p.Format(postbackTimeLayout)
}

// Order is an order postback delivered as an "order" text message.
type Order struct {
	OrderID           string         `json:"order_id"`
	ExchangeOrderID   string         `json:"exchange_order_id"`
	ParentOrderID     string         `json:"parent_order_id"`
	PlacedBy          string         `json:"placed_by"`
	AppID             uint64         `json:"app_id"`
	Status            string         `json:"status"`
	StatusMessage     string         `json:"status_message"`
	StatusMessageRaw  string         `json:"status_message_raw"`
	TradingSymbol     string         `json:"tradingsymbol"`
	InstrumentToken   uint32         `json:"instrument_token"`
	Exchange          Exchange       `json:"exchange"`
	OrderType         string         `json:"order_type"`
	TransactionType   string         `json:"transaction_type"`
	Validity          string         `json:"validity"`
	Variety           string         `json:"variety"`
	Product           string         `json:"product"`
	AveragePrice      float64        `json:"average_price"`
	DisclosedQuantity float64        `json:"disclosed_quantity"`
	Price             float64        `json:"price"`
	Quantity          uint64         `json:"quantity"`
	FilledQuantity    uint64         `json:"filled_quantity"`
	UnfilledQuantity  uint64         `json:"unfilled_quantity"`
	PendingQuantity   uint64         `json:"pending_quantity"`
	CancelledQuantity uint64         `json:"cancelled_quantity"`
	TriggerPrice      float64        `json:"trigger_price"`
	UserID            string         `json:"user_id"`
	OrderTimestamp    PostbackTime   `json:"order_timestamp"`
	ExchangeTimestamp PostbackTime   `json:"exchange_timestamp"`
	ExchangeUpdate    PostbackTime   `json:"exchange_update_timestamp"`
	Checksum          string         `json:"checksum"`
	Meta              map[string]any `json:"meta,omitempty"`
	Tag               string         `json:"tag"`
}

// Order decodes the postback payload.
func (m OrderMessage) Order() (*Order, error) {
	var o Order
	if err := json.Unmarshal(m.Data, &o); err != nil {
		return nil, fmt.Errorf("kiteticker: decode order postback: %w", err)
	}
	return &o, nil
}

// VerifyChecksum reports whether the postback checksum matches
// SHA-256(order_id + order_timestamp + api_secret).
func VerifyChecksum(o *Order, apiSecret string) bool {
	want, err := hex.DecodeString(strings.TrimSpace(o.Checksum))
	if err != nil {
		return false
	}
	h := sha256.New()
	h.Write([]byte(o.OrderID))
	h.Write([]byte(o.OrderTimestamp.String()))
	h.Write([]byte(apiSecret))
	return subtle.ConstantTimeCompare(h.Sum(nil), want) == 1
}
