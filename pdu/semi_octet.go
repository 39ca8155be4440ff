// Package pdu implements the low-level encodings used by 3GPP TS 23.040
// PDUs: the GSM 7-bit default alphabet with septet packing, BCD semi-octets
// and UCS-2 text.
package pdu

// bcdChars maps a BCD nibble to its dial character. Nibble 0xF has no
// character and terminates the number.
const bcdChars = "0123456789*#abc"

// Swap exchanges the semi-octets within an octet.
func Swap(octet byte) byte {
	return (octet << 4) | (octet >> 4 & 0x0F)
}

// EncodeBCD packs a two-digit decimal value into one BCD octet, high digit
// in the high nibble.
func EncodeBCD(value int) byte {
	lo := byte(value % 10)
	hi := byte((value % 100) / 10)
	return hi<<4 | lo
}

// DecodeBCD unpacks one BCD octet, high digit from the high nibble.
func DecodeBCD(octet byte) int {
	return int(octet>>4&0x0F)*10 + int(octet&0x0F)
}

// EncodeSemiDigits packs dial digits low-nibble-first, padding an odd count
// with a trailing 0xF nibble.
func EncodeSemiDigits(digits string) []byte {
	octets := make([]byte, 0, (len(digits)+1)/2)
	for i := 0; i < len(digits); i += 2 {
		lo := bcdNibble(digits[i])
		hi := byte(0xF)
		if i+1 < len(digits) {
			hi = bcdNibble(digits[i+1])
		}
		octets = append(octets, hi<<4|lo)
	}
	return octets
}

// DecodeSemiDigits renders semi-octet packed digits as a string, stopping
// at a 0xF fill nibble. A 0x00 octet decodes as "00".
func DecodeSemiDigits(octets []byte) string {
	out := make([]byte, 0, len(octets)*2)
	for _, oct := range octets {
		lo, hi := oct&0x0F, oct>>4&0x0F
		if lo >= byte(len(bcdChars)) {
			return string(out)
		}
		out = append(out, bcdChars[lo])
		if hi >= byte(len(bcdChars)) {
			return string(out)
		}
		out = append(out, bcdChars[hi])
	}
	return string(out)
}

func bcdNibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c == '*':
		return 0x0A
	case c == '#':
		return 0x0B
	case c >= 'a' && c <= 'c':
		return c - 'a' + 0x0C
	default:
		return 0x0F
	}
}

// IsDialChar reports whether c may appear in a dialable number.
func IsDialChar(c byte) bool {
	return (c >= '0' && c <= '9') || c == '*' || c == '#' || (c >= 'a' && c <= 'c')
}
