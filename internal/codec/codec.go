// Package codec provides fixed-endian, allocation-free wire encoding for the
// GVCP and GVSP packet headers and payloads. Every multi-byte field on the
// wire is big-endian; these helpers are the only place that fact is encoded.
package codec

import "encoding/binary"

// PutU16 writes v big-endian into buf[off:off+2].
func PutU16(buf []byte, off int, v uint16) {
	binary.BigEndian.PutUint16(buf[off:off+2], v)
}

// U16 reads a big-endian uint16 from buf[off:off+2].
func U16(buf []byte, off int) uint16 {
	return binary.BigEndian.Uint16(buf[off : off+2])
}

// PutU32 writes v big-endian into buf[off:off+4].
func PutU32(buf []byte, off int, v uint32) {
	binary.BigEndian.PutUint32(buf[off:off+4], v)
}

// U32 reads a big-endian uint32 from buf[off:off+4].
func U32(buf []byte, off int) uint32 {
	return binary.BigEndian.Uint32(buf[off : off+4])
}

// PutU64 writes v big-endian into buf[off:off+8].
func PutU64(buf []byte, off int, v uint64) {
	binary.BigEndian.PutUint64(buf[off:off+8], v)
}

// U64 reads a big-endian uint64 from buf[off:off+8].
func U64(buf []byte, off int) uint64 {
	return binary.BigEndian.Uint64(buf[off : off+8])
}

// PutString copies s into buf[off:off+n], null-terminating and zero-padding
// (or truncating) to fit exactly n bytes.
func PutString(buf []byte, off, n int, s string) {
	field := buf[off : off+n]
	for i := range field {
		field[i] = 0
	}
	if len(s) >= n {
		s = s[:n-1]
	}
	copy(field, s)
}

// String reads a NUL-terminated (or full-width) string out of buf[off:off+n].
func String(buf []byte, off, n int) string {
	field := buf[off : off+n]
	for i, b := range field {
		if b == 0 {
			return string(field[:i])
		}
	}
	return string(field)
}
