package tiled

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Dtype describes the element type of an array.
//
// On the wire a Dtype is either a numpy array-protocol type string, such as
// "<f8", or an object naming the same three parts:
//
//	{"endianness": "little", "kind": "f", "itemsize": 8}
//
// A type string consists of:
//   - one character describing byte order:
//     "<": little-endian; ">": big-endian; "|": not-relevant
//   - one character code giving the basic kind (see Kind)
//   - the number of bytes per element, optionally followed by a datetime
//     unit in brackets, e.g. "<M8[ns]"
//
// ItemSize follows the type string: for unicode it counts UCS4 characters,
// otherwise bytes. Bytes gives the stored width of one element.
type Dtype struct {
	ByteOrder ByteOrder
	Kind      Kind
	ItemSize  int
	Units     string
}

var (
	_ json.Unmarshaler = (*Dtype)(nil)
	_ json.Marshaler   = (*Dtype)(nil)
)

// ParseDtype reads a numpy type string
func ParseDtype(s string) (dt Dtype, err error) {
	// some servers HTML-escape the byte order character
	s = strings.Replace(s, "&lt;", "<", 1)
	s = strings.Replace(s, "&gt;", ">", 1)

	if len(s) < 3 {
		return dt, fmt.Errorf("invalid dtype string. %q is too short", s)
	}

	boByte, s := s[0], s[1:]
	if dt.ByteOrder, err = ParseByteOrder(rune(boByte)); err != nil {
		return dt, err
	}

	kindByte, s := s[0], s[1:]
	if dt.Kind, err = ParseKind(rune(kindByte)); err != nil {
		return dt, err
	}

	sizeStr := s
	if i := strings.IndexByte(s, '['); i >= 0 {
		sizeStr, dt.Units = s[:i], s[i:]
	}

	size, err := strconv.Atoi(sizeStr)
	if err != nil {
		return dt, fmt.Errorf("invalid dtype itemsize %q: %w", sizeStr, err)
	}
	if size <= 0 {
		return dt, fmt.Errorf("invalid dtype itemsize %d", size)
	}
	dt.ItemSize = size

	return dt, nil
}

// MustParseDtype is ParseDtype for literals known to be valid
func MustParseDtype(s string) Dtype {
	dt, err := ParseDtype(s)
	if err != nil {
		panic(err)
	}
	return dt
}

func (dt Dtype) String() string {
	return fmt.Sprintf("%s%s%d%s", string(dt.ByteOrder), string(dt.Kind), dt.ItemSize, dt.Units)
}

// Bytes is the number of bytes one element occupies in a block
func (dt Dtype) Bytes() int {
	if dt.Kind == KindUnicode {
		return dt.ItemSize * 4
	}
	return dt.ItemSize
}

// Binary returns the byte order used to decode elements of this type.
// Single-byte and byte-order-irrelevant types decode the same either way.
func (dt Dtype) Binary() binary.ByteOrder {
	if dt.ByteOrder == BOBigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// MarshalJSON writes the type string unescaped. Encoders that escape HTML
// still rewrite '<' and '>'; use one with SetEscapeHTML(false) to keep them.
func (dt Dtype) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(dt.String())), nil
}

// machineDtype is the object form of a dtype
type machineDtype struct {
	Endianness string `json:"endianness"`
	Kind       string `json:"kind"`
	ItemSize   int    `json:"itemsize"`
	Units      string `json:"units,omitempty"`
}

func (dt *Dtype) UnmarshalJSON(d []byte) error {
	var s string
	if err := json.Unmarshal(d, &s); err == nil {
		t, err := ParseDtype(s)
		if err != nil {
			return err
		}
		*dt = t
		return nil
	}

	m := machineDtype{}
	if err := json.Unmarshal(d, &m); err != nil {
		return fmt.Errorf("dtype must be a type string or object: %w", err)
	}
	bo, ok := endiannessNames[m.Endianness]
	if !ok {
		return fmt.Errorf("unsupported endianness %q", m.Endianness)
	}
	if len(m.Kind) != 1 {
		return fmt.Errorf("invalid dtype kind %q", m.Kind)
	}
	units := m.Units
	if units != "" && !strings.HasPrefix(units, "[") {
		units = "[" + units + "]"
	}
	size := m.ItemSize
	// the object form always counts bytes
	if Kind(m.Kind[0]) == KindUnicode {
		size /= 4
	}
	t, err := ParseDtype(fmt.Sprintf("%s%s%d%s", string(bo), m.Kind, size, units))
	if err != nil {
		return err
	}
	*dt = t
	return nil
}

type ByteOrder rune

func ParseByteOrder(r rune) (ByteOrder, error) {
	o := ByteOrder(r)
	if _, ok := byteOrders[o]; !ok {
		return o, fmt.Errorf("unsupported byte order format: %q", r)
	}
	return o, nil
}

const (
	BONotRelevant  ByteOrder = '|'
	BOLittleEndian ByteOrder = '<'
	BOBigEndian    ByteOrder = '>'
)

var byteOrders = map[ByteOrder]struct{}{
	BONotRelevant:  {},
	BOLittleEndian: {},
	BOBigEndian:    {},
}

var endiannessNames = map[string]ByteOrder{
	"little":         BOLittleEndian,
	"big":            BOBigEndian,
	"not_applicable": BONotRelevant,
}

// Kind is the basic type code of a Dtype
type Kind rune

func ParseKind(r rune) (Kind, error) {
	k := Kind(r)
	if _, ok := kindNames[k]; !ok {
		return k, fmt.Errorf("unsupported dtype kind: %q", r)
	}
	return k, nil
}

// Human gives a readable name for the kind
func (k Kind) Human() string {
	return kindNames[k]
}

const (
	KindBoolean       Kind = 'b'
	KindInteger       Kind = 'i'
	KindUnsigned      Kind = 'u'
	KindFloatingPoint Kind = 'f'
	KindComplex       Kind = 'c'
	KindTimedelta     Kind = 'm'
	KindDatetime      Kind = 'M'
	KindString        Kind = 'S'
	KindUnicode       Kind = 'U'
	KindOther         Kind = 'V'
)

var kindNames = map[Kind]string{
	KindBoolean:       "bool",
	KindInteger:       "int",
	KindUnsigned:      "uint",
	KindFloatingPoint: "float",
	KindComplex:       "complex",
	KindTimedelta:     "timedelta",
	KindDatetime:      "datetime",
	KindString:        "bytes",
	KindUnicode:       "unicode",
	KindOther:         "void",
}
