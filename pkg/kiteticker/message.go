package kiteticker

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/gorilla/websocket"
)

// Message is a decoded domain message. The concrete type is one of
// TicksMessage, ErrorMessage, OrderMessage, TextMessage or ClosingMessage.
type Message interface {
	isMessage()
}

// TicksMessage carries the ticks of one binary frame in wire order. An empty
// batch is a heartbeat.
type TicksMessage struct {
	Ticks []Tick
}

// ErrorMessage is an error reported by the broker.
type ErrorMessage struct {
	Text string
}

// OrderMessage is an order postback. Data is the untouched JSON payload; use
// Order to decode it.
type OrderMessage struct {
	Data json.RawMessage
}

// TextMessage is any other broker message or alert.
type TextMessage struct {
	Type string
	Data json.RawMessage
}

// ClosingMessage reports the peer's close frame.
type ClosingMessage struct {
	Code   int
	Reason string
}

func (TicksMessage) isMessage()   {}
func (ErrorMessage) isMessage()   {}
func (OrderMessage) isMessage()   {}
func (TextMessage) isMessage()    {}
func (ClosingMessage) isMessage() {}

// FrameKind classifies an inbound frame. Ping and pong frames are handled by
// the transport and never reach the router.
type FrameKind int

const (
	FrameBinary FrameKind = iota + 1
	FrameText
	FrameClose
)

func (k FrameKind) String() string {
	switch k {
	case FrameBinary:
		return "binary"
	case FrameText:
		return "text"
	case FrameClose:
		return "close"
	}
	return "unknown"
}

// Frame is one inbound frame as seen by the router.
type Frame struct {
	Kind    FrameKind
	Payload []byte

	// Close frames only. CloseCode is websocket.CloseNoStatusReceived when
	// the peer closed without a payload.
	CloseCode   int
	CloseReason string
}

// BinaryFrame wraps a binary payload.
func BinaryFrame(b []byte) Frame { return Frame{Kind: FrameBinary, Payload: b} }

// TextFrame wraps a text payload.
func TextFrame(b []byte) Frame { return Frame{Kind: FrameText, Payload: b} }

// CloseFrame describes a peer close.
func CloseFrame(code int, reason string) Frame {
	return Frame{Kind: FrameClose, CloseCode: code, CloseReason: reason}
}

// Router classifies frames and turns them into messages. The zero value is
// ready to use.
type Router struct {
	Logger *slog.Logger

	// OnDecodeError is called once per sub-packet that failed to decode.
	OnDecodeError func(err error)
	// OnUnparsed is called with text frames that are not a valid envelope.
	OnUnparsed func(raw []byte, err error)
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Route decodes one frame. It returns a nil Message when the frame carries
// nothing for the caller: an unparsable text frame or a close without
// status. A *FramingError is returned for truncated binary frames, which are
// discarded whole.
func (r *Router) Route(f Frame) (Message, error) {
	switch f.Kind {
	case FrameBinary:
		return r.routeBinary(f.Payload)
	case FrameText:
		return r.routeText(f.Payload), nil
	case FrameClose:
		if f.CloseCode == 0 || f.CloseCode == websocket.CloseNoStatusReceived {
			return nil, nil
		}
		return ClosingMessage{Code: f.CloseCode, Reason: f.CloseReason}, nil
	}
	return nil, nil
}

func (r *Router) routeBinary(b []byte) (Message, error) {
	ticks, err := DecodeFrame(b)
	if err != nil {
		var fe *FramingError
		if errors.As(err, &fe) {
			r.logger().Warn("dropping truncated frame", "len", len(b), "err", err)
			return nil, err
		}
		r.reportDecodeErrors(err)
	}
	if ticks == nil {
		ticks = []Tick{}
	}
	return TicksMessage{Ticks: ticks}, nil
}

func (r *Router) routeText(b []byte) Message {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		r.logger().Debug("dropping unparsable text frame", "len", len(b), "err", err)
		if r.OnUnparsed != nil {
			r.OnUnparsed(b, err)
		}
		return nil
	}

	switch env.Type {
	case "order":
		return OrderMessage{Data: env.Data}
	case "error":
		return ErrorMessage{Text: dataString(env.Data)}
	default:
		return TextMessage{Type: env.Type, Data: env.Data}
	}
}

func (r *Router) reportDecodeErrors(err error) {
	errs := []error{err}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	}
	for _, e := range errs {
		r.logger().Warn("skipping sub-packet", "err", e)
		if r.OnDecodeError != nil {
			r.OnDecodeError(e)
		}
	}
}

func (r *Router) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// dataString renders error data: JSON strings are unquoted, anything else
// keeps its JSON text.
func dataString(data json.RawMessage) string {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	return string(data)
}
