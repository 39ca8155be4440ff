package sms

import (
	"strings"

	"github.com/linux-mobile-broadband/modemd/pdu"
)

// Type-of-address masks within the address type octet.
const (
	addrTypeMask  = 0x70
	addrTypeIntl  = 0x10
	addrTypeAlpha = 0x50

	addrPlanMask      = 0x0F
	addrPlanTelephone = 0x01
)

// decodeAddress renders an address field. addr starts at the type octet,
// semiLen counts the useful semi-octets of the value. Alphanumeric
// addresses are GSM-7 packed; international telephone numbers render with
// a leading '+'; everything else renders as bare digits.
func decodeAddress(addr []byte, semiLen int) (string, error) {
	if len(addr) < 1 {
		if semiLen == 0 {
			return "", nil
		}
		return "", ErrTooShort
	}
	addrType := addr[0] & addrTypeMask
	addrPlan := addr[0] & addrPlanMask
	value := addr[1:]

	if addrType == addrTypeAlpha {
		septets := semiLen * 4 / 7
		return pdu.Decode7Bit(value, septets, 0), nil
	}

	digitOctets := (semiLen + 1) / 2
	if digitOctets > len(value) {
		return "", ErrTooShort
	}
	digits := pdu.DecodeSemiDigits(value[:digitOctets])
	if addrType == addrTypeIntl && addrPlan == addrPlanTelephone {
		return "+" + digits, nil
	}
	return digits, nil
}

// encodeAddress builds an address field for number. An SMSC block length
// octet counts value octets including the type octet; a TPDU address
// length octet counts digit semi-octets instead.
func encodeAddress(number string, smsc bool) ([]byte, error) {
	digits := strings.TrimPrefix(number, "+")
	if digits == "" {
		return nil, ErrInvalidAddress
	}
	for i := 0; i < len(digits); i++ {
		if !pdu.IsDialChar(digits[i]) {
			return nil, ErrInvalidAddress
		}
	}

	addrType := byte(0x81) // unknown type, telephone plan
	if strings.HasPrefix(number, "+") {
		addrType = 0x91 // international
	}
	value := pdu.EncodeSemiDigits(digits)

	out := make([]byte, 0, len(value)+2)
	if smsc {
		out = append(out, byte(1+len(value)))
	} else {
		out = append(out, byte(len(digits)))
	}
	out = append(out, addrType)
	out = append(out, value...)
	return out, nil
}
