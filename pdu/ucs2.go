package pdu

import (
	"errors"
	"unicode/utf16"
)

// ErrUnevenUcs2 happens when the number of UCS-2 octets is uneven.
var ErrUnevenUcs2 = errors.New("pdu: uneven number of UCS-2 octets")

// EncodeUcs2 encodes text into big-endian UTF-16 code units.
func EncodeUcs2(str string) []byte {
	buf := utf16.Encode([]rune(str))
	octets := make([]byte, 0, len(buf)*2)
	for _, n := range buf {
		octets = append(octets, byte(n>>8), byte(n))
	}
	return octets
}

// DecodeUcs2 decodes big-endian UTF-16 code units into a string.
func DecodeUcs2(octets []byte) (string, error) {
	if len(octets)%2 != 0 {
		return "", ErrUnevenUcs2
	}
	buf := make([]uint16, 0, len(octets)/2)
	for i := 0; i < len(octets); i += 2 {
		buf = append(buf, uint16(octets[i])<<8|uint16(octets[i+1]))
	}
	return string(utf16.Decode(buf)), nil
}
