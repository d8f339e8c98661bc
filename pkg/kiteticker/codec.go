package kiteticker

import "encoding/binary"

// Big-endian field readers. Callers pass windows already bounds-checked
// against the packet length, so a short window is a programming error.

func readU32BE(b []byte) uint32 {
	return binary.BigEndian.Uint32(b[0:4])
}

func readU16BE(b []byte) uint16 {
	return binary.BigEndian.Uint16(b[0:2])
}

func readI32BE(b []byte) int32 {
	return int32(binary.BigEndian.Uint32(b[0:4]))
}

// readPrice reads a signed 4-byte fixed-point price and scales it by the
// exchange divisor.
func readPrice(b []byte, ex Exchange) float64 {
	return float64(readI32BE(b)) / ex.Divisor()
}

func putU32BE(b []byte, v uint32) {
	binary.BigEndian.PutUint32(b[0:4], v)
}

func putU16BE(b []byte, v uint16) {
	binary.BigEndian.PutUint16(b[0:2], v)
}

// putPrice is the inverse of readPrice, rounding to the nearest tick.
func putPrice(b []byte, price float64, ex Exchange) {
	scaled := price * ex.Divisor()
	if scaled < 0 {
		scaled -= 0.5
	} else {
		scaled += 0.5
	}
	putU32BE(b, uint32(int32(scaled)))
}
