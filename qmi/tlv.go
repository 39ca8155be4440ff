package qmi

import (
	"encoding/binary"
	"errors"
)

// ErrShortTLV is returned when a TLV block is truncated.
var ErrShortTLV = errors.New("qmi: truncated TLV block")

// TLV is one type/length/value element of a QMI message payload.
type TLV struct {
	Type  uint8
	Value []byte
}

// TLVs is an ordered set of elements with typed accessors. All integers on
// the wire are little-endian.
type TLVs []TLV

// MarshalTLVs flattens elements into wire form.
func MarshalTLVs(tlvs TLVs) []byte {
	var out []byte
	for _, t := range tlvs {
		out = append(out, t.Type)
		out = binary.LittleEndian.AppendUint16(out, uint16(len(t.Value)))
		out = append(out, t.Value...)
	}
	return out
}

// ParseTLVs splits a wire payload into elements.
func ParseTLVs(data []byte) (TLVs, error) {
	var out TLVs
	for len(data) > 0 {
		if len(data) < 3 {
			return nil, ErrShortTLV
		}
		typ := data[0]
		n := int(binary.LittleEndian.Uint16(data[1:3]))
		if len(data) < 3+n {
			return nil, ErrShortTLV
		}
		out = append(out, TLV{Type: typ, Value: append([]byte(nil), data[3:3+n]...)})
		data = data[3+n:]
	}
	return out, nil
}

// Get returns the value of the element with the given type.
func (ts TLVs) Get(typ uint8) ([]byte, bool) {
	for _, t := range ts {
		if t.Type == typ {
			return t.Value, true
		}
	}
	return nil, false
}

// Uint8 reads a one-octet element.
func (ts TLVs) Uint8(typ uint8) (uint8, bool) {
	v, ok := ts.Get(typ)
	if !ok || len(v) < 1 {
		return 0, false
	}
	return v[0], true
}

// Uint16 reads a two-octet element.
func (ts TLVs) Uint16(typ uint8) (uint16, bool) {
	v, ok := ts.Get(typ)
	if !ok || len(v) < 2 {
		return 0, false
	}
	return binary.LittleEndian.Uint16(v), true
}

// Uint32 reads a four-octet element.
func (ts TLVs) Uint32(typ uint8) (uint32, bool) {
	v, ok := ts.Get(typ)
	if !ok || len(v) < 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(v), true
}

// String reads a text element.
func (ts TLVs) String(typ uint8) (string, bool) {
	v, ok := ts.Get(typ)
	if !ok {
		return "", false
	}
	return string(v), true
}

// AppendUint8 adds a one-octet element.
func (ts TLVs) AppendUint8(typ, value uint8) TLVs {
	return append(ts, TLV{Type: typ, Value: []byte{value}})
}

// AppendUint16 adds a two-octet element.
func (ts TLVs) AppendUint16(typ uint8, value uint16) TLVs {
	return append(ts, TLV{Type: typ, Value: binary.LittleEndian.AppendUint16(nil, value)})
}

// AppendUint32 adds a four-octet element.
func (ts TLVs) AppendUint32(typ uint8, value uint32) TLVs {
	return append(ts, TLV{Type: typ, Value: binary.LittleEndian.AppendUint32(nil, value)})
}

// AppendString adds a text element.
func (ts TLVs) AppendString(typ uint8, value string) TLVs {
	return append(ts, TLV{Type: typ, Value: []byte(value)})
}

// AppendBytes adds a raw element.
func (ts TLVs) AppendBytes(typ uint8, value []byte) TLVs {
	return append(ts, TLV{Type: typ, Value: append([]byte(nil), value...)})
}
