package kiteticker

import "fmt"

// FramingError reports a binary frame whose length prefixes run past the end
// of the buffer. The whole frame is discarded.
type FramingError struct {
	Packet int // index of the sub-packet being read
	Offset int // cursor position when the overrun was detected
	Need   int // bytes required from Offset
	Have   int // bytes remaining from Offset
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("kiteticker: truncated frame: packet %d at offset %d needs %d bytes, %d left",
		e.Packet, e.Offset, e.Need, e.Have)
}

// DecodeLengthError reports a sub-packet whose length matches no tier of its
// instrument class. Sibling packets in the same frame still decode.
type DecodeLengthError struct {
	Token   uint32
	Length  int
	IsIndex bool
}

func (e *DecodeLengthError) Error() string {
	class := "tradable"
	if e.IsIndex {
		class = "index"
	}
	if e.Token == 0 {
		return fmt.Sprintf("kiteticker: invalid %s packet length %d", class, e.Length)
	}
	return fmt.Sprintf("kiteticker: invalid %s packet length %d for token %d", class, e.Length, e.Token)
}

// TransportError wraps a send or receive failure on the underlying stream.
// It ends the session; the core never retries.
type TransportError struct {
	Op  string // "read" or "write"
	Err error
}

func (e *TransportError) Error() string {
	return "kiteticker: " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }
