package kiteticker

import "errors"

// Binary frame layout:
//
//	0 - 2          number of sub-packets N
//	then N times:  2-byte length L, L bytes of payload
//
// All integers are big-endian.

// SplitPackets cuts a binary frame into its sub-packet payloads in wire
// order. Frames under 2 bytes and frames declaring zero packets are
// heartbeats and yield no packets. A length prefix that runs past the end of
// the buffer fails the whole frame with *FramingError.
func SplitPackets(frame []byte) ([][]byte, error) {
	if len(frame) < 2 {
		return nil, nil
	}
	n := int(readU16BE(frame[0:2]))
	if n == 0 {
		return nil, nil
	}

	packets := make([][]byte, 0, n)
	cursor := 2
	for i := 0; i < n; i++ {
		if cursor+2 > len(frame) {
			return nil, &FramingError{Packet: i, Offset: cursor, Need: 2, Have: len(frame) - cursor}
		}
		size := int(readU16BE(frame[cursor : cursor+2]))
		cursor += 2
		if cursor+size > len(frame) {
			return nil, &FramingError{Packet: i, Offset: cursor, Need: size, Have: len(frame) - cursor}
		}
		packets = append(packets, frame[cursor:cursor+size:cursor+size])
		cursor += size
	}
	return packets, nil
}

// DecodeFrame splits a binary frame and decodes every sub-packet. A framing
// error discards the frame. Sub-packets with an invalid length are skipped;
// their errors are joined and returned together with the ticks that did
// decode, which keep their wire order.
func DecodeFrame(frame []byte) ([]Tick, error) {
	packets, err := SplitPackets(frame)
	if err != nil {
		return nil, err
	}

	ticks := make([]Tick, 0, len(packets))
	var errs []error
	for _, p := range packets {
		t, err := DecodeTick(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ticks = append(ticks, t)
	}
	return ticks, errors.Join(errs...)
}
