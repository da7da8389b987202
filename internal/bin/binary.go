package bin

import "encoding/binary"

// PutU16LE writes a uint16 in little-endian order.
func PutU16LE(dst []byte, v uint16) { binary.LittleEndian.PutUint16(dst, v) }

// PutU32LE writes a uint32 in little-endian order.
func PutU32LE(dst []byte, v uint32) { binary.LittleEndian.PutUint32(dst, v) }

// PutU64LE writes a uint64 in little-endian order.
func PutU64LE(dst []byte, v uint64) { binary.LittleEndian.PutUint64(dst, v) }

// U16LE reads a uint16 in little-endian order.
func U16LE(src []byte) uint16 { return binary.LittleEndian.Uint16(src) }

// U32LE reads a uint32 in little-endian order.
func U32LE(src []byte) uint32 { return binary.LittleEndian.Uint32(src) }

// U64LE reads a uint64 in little-endian order.
func U64LE(src []byte) uint64 { return binary.LittleEndian.Uint64(src) }

// PutUintLE writes the low n bytes of v in little-endian order. n must be in [1,8].
func PutUintLE(dst []byte, v uint64, n int) {
	for i := 0; i < n; i++ {
		dst[i] = byte(v)
		v >>= 8
	}
}

// UintLE reads n little-endian bytes as a uint64. n must be in [1,8].
func UintLE(src []byte, n int) uint64 {
	var v uint64
	for i := n - 1; i >= 0; i-- {
		v = v<<8 | uint64(src[i])
	}
	return v
}
