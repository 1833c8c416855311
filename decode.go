package tiled

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// decodeBlock turns the raw row-major bytes of one block into a typed Go
// slice holding n elements. The payload length must be exactly
// n * dt.Bytes(). Half precision floats widen to []float32.
func decodeBlock(block []int, dt Dtype, n int, raw []byte) (interface{}, error) {
	size := dt.Bytes()
	want := n * size
	if len(raw) != want {
		return nil, &DecodeError{Block: block, Want: want, Got: len(raw)}
	}

	switch dt.Kind {
	case KindString:
		return splitStrings(raw, n, size), nil
	case KindUnicode:
		return splitUnicode(raw, n, size, dt.Binary()), nil
	case KindFloatingPoint:
		if dt.ItemSize == 2 {
			return decodeHalf(raw, n, dt.Binary()), nil
		}
	case KindOther:
		out := make([][]byte, n)
		for i := range out {
			out[i] = raw[i*size : (i+1)*size]
		}
		return out, nil
	}

	v, err := newValues(dt, n)
	if err != nil {
		return nil, err
	}
	if err := binary.Read(bytes.NewReader(raw), dt.Binary(), v); err != nil {
		return nil, fmt.Errorf("%w: block %s: %s", ErrDecode, BlockKey(block), err)
	}
	return v, nil
}

// newValues allocates a slice of n elements matching a fixed-width numeric
// dtype
func newValues(dt Dtype, n int) (interface{}, error) {
	switch dt.Kind {
	case KindBoolean:
		if dt.ItemSize == 1 {
			return make([]bool, n), nil
		}
	case KindInteger, KindTimedelta, KindDatetime:
		switch dt.ItemSize {
		case 1:
			return make([]int8, n), nil
		case 2:
			return make([]int16, n), nil
		case 4:
			return make([]int32, n), nil
		case 8:
			return make([]int64, n), nil
		}
	case KindUnsigned:
		switch dt.ItemSize {
		case 1:
			return make([]uint8, n), nil
		case 2:
			return make([]uint16, n), nil
		case 4:
			return make([]uint32, n), nil
		case 8:
			return make([]uint64, n), nil
		}
	case KindFloatingPoint:
		switch dt.ItemSize {
		case 4:
			return make([]float32, n), nil
		case 8:
			return make([]float64, n), nil
		}
	case KindComplex:
		switch dt.ItemSize {
		case 8:
			return make([]complex64, n), nil
		case 16:
			return make([]complex128, n), nil
		}
	}
	return nil, fmt.Errorf("%w: unsupported dtype %s", ErrDecode, dt)
}

func decodeHalf(raw []byte, n int, bo binary.ByteOrder) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = halfToFloat32(bo.Uint16(raw[i*2:]))
	}
	return out
}

// halfToFloat32 widens an IEEE 754 binary16 value
func halfToFloat32(h uint16) float32 {
	sign := uint32(h>>15) << 31
	exp := uint32(h>>10) & 0x1f
	frac := uint32(h) & 0x3ff
	switch exp {
	case 0:
		// zero or subnormal: frac * 2^-24
		f := float32(frac) / (1 << 24)
		if sign != 0 {
			return -f
		}
		return f
	case 0x1f:
		return math.Float32frombits(sign | 0x7f800000 | frac<<13)
	}
	return math.Float32frombits(sign | (exp+112)<<23 | frac<<13)
}

func splitStrings(raw []byte, n, size int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = strings.TrimRight(string(raw[i*size:(i+1)*size]), "\x00")
	}
	return out
}

// unicode elements are fixed-width UCS4
func splitUnicode(raw []byte, n, size int, bo binary.ByteOrder) []string {
	out := make([]string, n)
	var sb strings.Builder
	for i := range out {
		sb.Reset()
		el := raw[i*size : (i+1)*size]
		for j := 0; j+4 <= len(el); j += 4 {
			r := rune(bo.Uint32(el[j : j+4]))
			if r == 0 {
				break
			}
			sb.WriteRune(r)
		}
		out[i] = sb.String()
	}
	return out
}
