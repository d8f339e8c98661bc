package kiteticker

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
)

func TestRouter_Text(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Message
	}{
		{
			"order",
			`{"type":"order","data":{"order_id":"1"}}`,
			OrderMessage{Data: json.RawMessage(`{"order_id":"1"}`)},
		},
		{
			"error string",
			`{"type":"error","data":"Invalid access token"}`,
			ErrorMessage{Text: "Invalid access token"},
		},
		{
			"error object",
			`{"type":"error","data":{"code":403}}`,
			ErrorMessage{Text: `{"code":403}`},
		},
		{
			"alert",
			`{"type":"message","data":"market closed"}`,
			TextMessage{Type: "message", Data: json.RawMessage(`"market closed"`)},
		},
		{
			"absent type",
			`{"data":[1,2]}`,
			TextMessage{Data: json.RawMessage(`[1,2]`)},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var r Router
			got, err := r.Route(TextFrame([]byte(tc.payload)))
			if err != nil {
				t.Fatalf("Route: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("message mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRouter_UnparsableTextDropped(t *testing.T) {
	var raw []byte
	r := Router{OnUnparsed: func(b []byte, err error) { raw = b }}

	msg, err := r.Route(TextFrame([]byte("not json")))
	if msg != nil || err != nil {
		t.Fatalf("Route = %v, %v; want nothing", msg, err)
	}
	if string(raw) != "not json" {
		t.Errorf("OnUnparsed got %q", raw)
	}
}

func TestRouter_Binary(t *testing.T) {
	var r Router

	msg, err := r.Route(BinaryFrame([]byte{0x01}))
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	tm, ok := msg.(TicksMessage)
	if !ok || tm.Ticks == nil || len(tm.Ticks) != 0 {
		t.Errorf("heartbeat = %#v, want empty TicksMessage", msg)
	}

	msg, err = r.Route(BinaryFrame(EncodeFrame(quoteFixture().b)))
	if err != nil {
		t.Fatalf("quote frame: %v", err)
	}
	tm = msg.(TicksMessage)
	if len(tm.Ticks) != 1 || tm.Ticks[0].Mode != ModeQuote {
		t.Errorf("ticks = %+v", tm.Ticks)
	}
}

func TestRouter_BinaryErrors(t *testing.T) {
	var decodeErrs []error
	r := Router{OnDecodeError: func(err error) { decodeErrs = append(decodeErrs, err) }}

	_, err := r.Route(BinaryFrame([]byte{0x00, 0x01, 0x00, 0x08, 0x00}))
	var fe *FramingError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want *FramingError", err)
	}

	ltp := (&packetWriter{}).u32(tokenNSE).i32(100).b
	msg, err := r.Route(BinaryFrame(EncodeFrame(ltp, make([]byte, 12), ltp)))
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if n := len(msg.(TicksMessage).Ticks); n != 2 {
		t.Errorf("got %d ticks, want 2", n)
	}
	if len(decodeErrs) != 1 {
		t.Fatalf("decode errors = %v, want 1", decodeErrs)
	}
	var dle *DecodeLengthError
	if !errors.As(decodeErrs[0], &dle) || dle.Length != 12 {
		t.Errorf("decode error = %v", decodeErrs[0])
	}
}

func TestRouter_Close(t *testing.T) {
	var r Router

	msg, err := r.Route(CloseFrame(websocket.CloseNormalClosure, "bye"))
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	want := ClosingMessage{Code: websocket.CloseNormalClosure, Reason: "bye"}
	if diff := cmp.Diff(Message(want), msg); diff != "" {
		t.Errorf("message mismatch (-want +got):\n%s", diff)
	}

	for _, code := range []int{0, websocket.CloseNoStatusReceived} {
		msg, err := r.Route(CloseFrame(code, ""))
		if msg != nil || err != nil {
			t.Errorf("close %d = %v, %v; want nothing", code, msg, err)
		}
	}
}
