package kiteticker

import (
	"encoding/json"
	"testing"
	"time"
)

const postbackJSON = `{
	"user_id": "AB1234",
	"unfilled_quantity": 0,
	"app_id": 1234,
	"checksum": "2011845d9348bd6795151bf4258102a03431e3bb12a79c0df73fcb4b7fde4b5d",
	"placed_by": "AB1234",
	"order_id": "220303000308932",
	"exchange_order_id": "1000000001482421",
	"parent_order_id": null,
	"status": "COMPLETE",
	"status_message": null,
	"status_message_raw": null,
	"order_timestamp": "2022-03-03 09:24:25",
	"exchange_update_timestamp": "2022-03-03 09:24:25",
	"exchange_timestamp": "2022-03-03 09:24:25",
	"variety": "regular",
	"exchange": "NSE",
	"tradingsymbol": "SBIN",
	"instrument_token": 779521,
	"order_type": "MARKET",
	"transaction_type": "BUY",
	"validity": "DAY",
	"product": "CNC",
	"quantity": 1,
	"disclosed_quantity": 0,
	"price": 0,
	"trigger_price": 0,
	"average_price": 470,
	"filled_quantity": 1,
	"pending_quantity": 0,
	"cancelled_quantity": 0,
	"market_protection": 0,
	"meta": {},
	"tag": null,
	"guid": "XXXXXX"
}`

const postbackSecret = "0hdv7iw5examplesecret"

func TestOrderMessage_Order(t *testing.T) {
	var r Router
	msg, err := r.Route(TextFrame([]byte(`{"type":"order","data":` + postbackJSON + `}`)))
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	om, ok := msg.(OrderMessage)
	if !ok {
		t.Fatalf("message = %T, want OrderMessage", msg)
	}

	o, err := om.Order()
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	if o.OrderID != "220303000308932" || o.Status != "COMPLETE" || o.TradingSymbol != "SBIN" {
		t.Errorf("order = %+v", o)
	}
	if o.Exchange != NSE || o.InstrumentToken != 779521 || o.AveragePrice != 470 {
		t.Errorf("instrument fields = %s/%d/%v", o.Exchange, o.InstrumentToken, o.AveragePrice)
	}
	if o.ParentOrderID != "" || o.Tag != "" {
		t.Errorf("null fields decoded as %q/%q", o.ParentOrderID, o.Tag)
	}
	if got := o.OrderTimestamp.Unix(); got != 1646299465 {
		t.Errorf("order timestamp = %d, want 1646299465", got)
	}
	if o.Meta == nil {
		t.Error("meta not decoded")
	}
}

func TestVerifyChecksum(t *testing.T) {
	var o Order
	if err := json.Unmarshal([]byte(postbackJSON), &o); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !VerifyChecksum(&o, postbackSecret) {
		t.Error("checksum rejected with the right secret")
	}
	if VerifyChecksum(&o, "wrong") {
		t.Error("checksum accepted with the wrong secret")
	}

	tampered := o
	tampered.OrderID = "220303000308933"
	if VerifyChecksum(&tampered, postbackSecret) {
		t.Error("checksum accepted for a different order id")
	}

	tampered = o
	tampered.Checksum = "zz"
	if VerifyChecksum(&tampered, postbackSecret) {
		t.Error("checksum accepted with a malformed checksum")
	}
}

func TestPostbackTime_JSON(t *testing.T) {
	var p PostbackTime
	if err := json.Unmarshal([]byte(`"2022-03-03 09:24:25"`), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !p.Equal(time.Date(2022, 3, 3, 9, 24, 25, 0, time.UTC)) {
		t.Errorf("time = %v", p.Time)
	}
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `"2022-03-03 09:24:25"` {
		t.Errorf("marshal = %s", b)
	}

	if err := json.Unmarshal([]byte(`null`), &p); err != nil || !p.IsZero() {
		t.Errorf("null = %v, %v", p, err)
	}
	if err := json.Unmarshal([]byte(`"03/03/2022"`), &p); err == nil {
		t.Error("expected error for foreign layout")
	}
}
