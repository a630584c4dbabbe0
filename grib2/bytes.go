package grib2

import (
	"encoding/binary"
	"math"
)

// GRIB2 signed integers use sign and magnitude: the most significant bit is
// the sign.

func parse2ByteUint(data []byte) uint16 { return binary.BigEndian.Uint16(data) }

func parse4ByteUint(data []byte) uint32 { return binary.BigEndian.Uint32(data) }

func parse2ByteInt(data []byte) int32 {
	v := int32(binary.BigEndian.Uint16(data) & 0x7fff)
	if data[0]&0x80 != 0 {
		return -v
	}
	return v
}

func parse4ByteInt(data []byte) int64 {
	v := int64(binary.BigEndian.Uint32(data) & 0x7fffffff)
	if data[0]&0x80 != 0 {
		return -v
	}
	return v
}

// parseNByteInt reads an n-octet sign-magnitude integer, as used by the
// spatial differencing descriptors of template 7.3.
func parseNByteInt(data []byte) int64 {
	var v int64
	for i, b := range data {
		if i == 0 {
			b &= 0x7f
		}
		v = v<<8 | int64(b)
	}
	if data[0]&0x80 != 0 {
		return -v
	}
	return v
}

func parseNByteUint(data []byte) int64 {
	var v int64
	for _, b := range data {
		v = v<<8 | int64(b)
	}
	return v
}

func parseFloat32(data []byte) float32 {
	return math.Float32frombits(binary.BigEndian.Uint32(data))
}

func put2ByteInt(dst []byte, v int32) {
	u := uint16(v)
	if v < 0 {
		u = uint16(-v) | 0x8000
	}
	binary.BigEndian.PutUint16(dst, u)
}

func put4ByteInt(dst []byte, v int64) {
	u := uint32(v)
	if v < 0 {
		u = uint32(-v) | 0x80000000
	}
	binary.BigEndian.PutUint32(dst, u)
}

// bitReader reads big-endian bit fields.
type bitReader struct {
	data []byte
	pos  uint64 // bit position
}

func (r *bitReader) read(n int) (uint64, bool) {
	if n == 0 {
		return 0, true
	}
	if r.pos+uint64(n) > uint64(len(r.data))*8 {
		return 0, false
	}
	var v uint64
	for i := 0; i < n; i++ {
		byteIdx := r.pos >> 3
		bit := 7 - (r.pos & 7)
		v = v<<1 | uint64(r.data[byteIdx]>>bit&1)
		r.pos++
	}
	return v, true
}

// align moves to the next octet boundary.
func (r *bitReader) align() {
	if rem := r.pos & 7; rem != 0 {
		r.pos += 8 - rem
	}
}

// bitWriter packs big-endian bit fields.
type bitWriter struct {
	data []byte
	nbit uint
}

func (w *bitWriter) write(v uint64, n int) {
	for i := n - 1; i >= 0; i-- {
		if w.nbit == 0 {
			w.data = append(w.data, 0)
		}
		if v>>uint(i)&1 == 1 {
			w.data[len(w.data)-1] |= 1 << (7 - w.nbit)
		}
		w.nbit = (w.nbit + 1) & 7
	}
}

func (w *bitWriter) bytes() []byte { return w.data }
