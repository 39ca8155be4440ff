package pdu

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrInvalidHex is returned for hex input of uneven length or with a
// non-hex rune in it. Raw PDUs cross the AT surface as hex strings.
var ErrInvalidHex = errors.New("pdu: invalid hex string")

// ParseHex parses a hex string of even length into octets.
func ParseHex(hex string) ([]byte, error) {
	if len(hex)%2 != 0 {
		return nil, ErrInvalidHex
	}
	octets := make([]byte, 0, len(hex)/2)
	for i := 0; i < len(hex); i += 2 {
		oct, err := strconv.ParseUint(hex[i:i+2], 16, 8)
		if err != nil {
			return nil, ErrInvalidHex
		}
		octets = append(octets, byte(oct))
	}
	return octets, nil
}

// MustParseHex is ParseHex panicking on any parse error. Meant for static
// vectors in tests.
func MustParseHex(hex string) []byte {
	octets, err := ParseHex(hex)
	if err != nil {
		panic(err)
	}
	return octets
}

// HexString renders octets as an uppercase hex string without a 0x
// prefix, the form AT commands carry PDUs in.
func HexString(octets []byte) string {
	return fmt.Sprintf("%02X", octets)
}
