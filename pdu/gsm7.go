package pdu

import "errors"

// Esc is the escape code of the GSM default alphabet extension table.
const Esc byte = 0x1B

// ErrUnsupportedRune is returned when a string contains a rune outside the
// GSM default alphabet and its extension table.
var ErrUnsupportedRune = errors.New("pdu: rune not in GSM 03.38 alphabet")

// gsmAlphabet maps a septet value 0x00..0x7F of the GSM default alphabet
// to its rune (3GPP TS 23.038, section 6.2.1).
var gsmAlphabet = [128]rune{
	'@', '£', '$', '¥', 'è', 'é', 'ù', 'ì', 'ò', 'Ç', '\n', 'Ø', 'ø', '\r', 'Å', 'å',
	'Δ', '_', 'Φ', 'Γ', 'Λ', 'Ω', 'Π', 'Ψ', 'Σ', 'Θ', 'Ξ', 0x1B, 'Æ', 'æ', 'ß', 'É',
	' ', '!', '"', '#', '¤', '%', '&', '\'', '(', ')', '*', '+', ',', '-', '.', '/',
	'0', '1', '2', '3', '4', '5', '6', '7', '8', '9', ':', ';', '<', '=', '>', '?',
	'¡', 'A', 'B', 'C', 'D', 'E', 'F', 'G', 'H', 'I', 'J', 'K', 'L', 'M', 'N', 'O',
	'P', 'Q', 'R', 'S', 'T', 'U', 'V', 'W', 'X', 'Y', 'Z', 'Ä', 'Ö', 'Ñ', 'Ü', '§',
	'¿', 'a', 'b', 'c', 'd', 'e', 'f', 'g', 'h', 'i', 'j', 'k', 'l', 'm', 'n', 'o',
	'p', 'q', 'r', 's', 't', 'u', 'v', 'w', 'x', 'y', 'z', 'ä', 'ö', 'ñ', 'ü', 'à',
}

// gsmExtension maps the septet following Esc to its rune.
var gsmExtension = map[byte]rune{
	0x0A: '\f', 0x14: '^', 0x28: '{', 0x29: '}', 0x2F: '\\',
	0x3C: '[', 0x3D: '~', 0x3E: ']', 0x40: '|', 0x65: '€',
}

var (
	gsmIndex map[rune]byte
	extIndex map[rune]byte
)

func init() {
	gsmIndex = make(map[rune]byte, len(gsmAlphabet))
	for i, r := range gsmAlphabet {
		if byte(i) != Esc {
			gsmIndex[r] = byte(i)
		}
	}
	extIndex = make(map[rune]byte, len(gsmExtension))
	for code, r := range gsmExtension {
		extIndex[r] = code
	}
}

// ToSeptets converts a string to a sequence of 7-bit codepoints of the GSM
// default alphabet. Extension-table runes cost two septets (Esc prefix).
func ToSeptets(str string) ([]byte, error) {
	septets := make([]byte, 0, len(str))
	for _, r := range str {
		if code, ok := gsmIndex[r]; ok {
			septets = append(septets, code)
			continue
		}
		if code, ok := extIndex[r]; ok {
			septets = append(septets, Esc, code)
			continue
		}
		return nil, ErrUnsupportedRune
	}
	return septets, nil
}

// FromSeptets converts a sequence of 7-bit codepoints back to a string.
// An Esc followed by a code not in the extension table decodes as a space,
// as 23.038 prescribes for unhandled extensions.
func FromSeptets(septets []byte) string {
	runes := make([]rune, 0, len(septets))
	for i := 0; i < len(septets); i++ {
		s := septets[i] & 0x7F
		if s == Esc && i+1 < len(septets) {
			i++
			if r, ok := gsmExtension[septets[i]&0x7F]; ok {
				runes = append(runes, r)
			} else {
				runes = append(runes, ' ')
			}
			continue
		}
		runes = append(runes, gsmAlphabet[s])
	}
	return string(runes)
}

// SeptetLength returns the number of septets str occupies once converted,
// counting extension runes twice. ok is false when str cannot be expressed
// in the GSM default alphabet at all.
func SeptetLength(str string) (n int, ok bool) {
	for _, r := range str {
		if _, base := gsmIndex[r]; base {
			n++
			continue
		}
		if _, ext := extIndex[r]; ext {
			n += 2
			continue
		}
		return 0, false
	}
	return n, true
}

// Is7BitEncodable reports whether the string survives GSM-7 encoding.
func Is7BitEncodable(str string) bool {
	_, ok := SeptetLength(str)
	return ok
}

// Pack7Bit packs septets into octets little-endian: septet n contributes
// bits starting at bit position n*7+padBits of the output. padBits is
// non-zero when a user data header forces the first septet onto a septet
// boundary past the header.
func Pack7Bit(septets []byte, padBits int) []byte {
	if len(septets) == 0 {
		return []byte{}
	}
	out := make([]byte, (len(septets)*7+padBits+7)/8)
	bit := padBits
	for _, s := range septets {
		s &= 0x7F
		idx, off := bit/8, bit%8
		out[idx] |= s << uint(off)
		if off > 1 {
			out[idx+1] |= s >> uint(8-off)
		}
		bit += 7
	}
	return out
}

// Unpack7Bit extracts count septets from packed octets, skipping padBits
// bits at the start.
func Unpack7Bit(octets []byte, count, padBits int) []byte {
	out := make([]byte, 0, count)
	bit := padBits
	for i := 0; i < count; i++ {
		idx, off := bit/8, bit%8
		if idx >= len(octets) {
			break
		}
		v := octets[idx] >> uint(off)
		if off > 1 {
			if idx+1 < len(octets) {
				v |= octets[idx+1] << uint(8-off)
			}
		}
		out = append(out, v&0x7F)
		bit += 7
	}
	return out
}

// Encode7Bit converts a string straight to packed GSM-7 octets with no
// padding. Returns the packed octets and the septet count that belongs in
// the TP-UDL field.
func Encode7Bit(str string) (octets []byte, septets int, err error) {
	raw, err := ToSeptets(str)
	if err != nil {
		return nil, 0, err
	}
	return Pack7Bit(raw, 0), len(raw), nil
}

// Decode7Bit unpacks count septets from octets at a bit offset and decodes
// them to a string.
func Decode7Bit(octets []byte, count, padBits int) string {
	return FromSeptets(Unpack7Bit(octets, count, padBits))
}
