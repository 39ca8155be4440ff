// Package sms encodes and decodes SMS messages in the PDU format described
// by 3GPP TS 23.040. Submit PDUs are produced for mobile-originated text,
// deliver PDUs are parsed from mobile-terminated storage reads.
package sms

import (
	"errors"

	"github.com/linux-mobile-broadband/modemd/pdu"
)

// Common errors.
var (
	ErrTooShort        = errors.New("sms: PDU too short")
	ErrUnsupportedMti  = errors.New("sms: unsupported message type indicator")
	ErrInvalidAddress  = errors.New("sms: address contains non-dial characters")
	ErrEncodingTooLong = errors.New("sms: user data exceeds a single PDU")
	ErrUnknownEncoding = errors.New("sms: unsupported user data encoding")
)

// TP-MTI values within the first TPDU octet.
const (
	mtiMask         = 0x03
	mtiDeliver      = 0x00
	mtiSubmitReport = 0x01
	mtiStatusReport = 0x02
)

// First-octet flag bits.
const (
	tpUDHI = 0x40
	tpVPF  = 0x18
)

// Encoding identifies the alphabet of the user data, classified from the
// data coding scheme.
type Encoding int

// The possible user data alphabets.
const (
	EncodingUnknown Encoding = iota
	EncodingGsm7
	Encoding8Bit
	EncodingUcs2
)

func (e Encoding) String() string {
	switch e {
	case EncodingGsm7:
		return "gsm-7"
	case Encoding8Bit:
		return "8-bit"
	case EncodingUcs2:
		return "ucs-2"
	default:
		return "unknown"
	}
}

const timestampLen = 7

// minTPDULen is the shortest possible deliver TPDU: first octet, a
// zero-length address, PID, DCS, timestamp, UDL.
const minTPDULen = 6 + timestampLen

// Concat describes a concatenation element found in the user data header.
type Concat struct {
	Reference int
	Total     int
	Sequence  int
}

// Deliver holds the decoded fields of a deliver PDU.
type Deliver struct {
	SMSC      string
	Number    string
	Timestamp string
	Encoding  Encoding
	Text      string
	// Data carries the raw payload of an 8-bit message; Text is empty then.
	Data []byte
	// Class is the message class from the DCS, or -1 when the DCS does not
	// carry a valid class.
	Class int
	// Concat is non-nil when the user data header holds a concatenation
	// element.
	Concat *Concat
}

// DecodeDeliver parses a deliver PDU with its optional SMSC prefix.
// Message types other than DELIVER yield ErrUnsupportedMti.
func DecodeDeliver(octets []byte) (*Deliver, error) {
	if len(octets) < 1 {
		return nil, ErrTooShort
	}
	smscOctets := int(octets[0])
	if len(octets) < smscOctets+1+minTPDULen {
		return nil, ErrTooShort
	}

	msgStart := 1 + smscOctets
	firstOctet := octets[msgStart]
	if firstOctet&mtiMask != mtiDeliver {
		return nil, ErrUnsupportedMti
	}

	senderDigits := int(octets[msgStart+1])
	senderOctets := (senderDigits + 1) / 2
	if len(octets) < msgStart+3+senderOctets+2+timestampLen+1 {
		return nil, ErrTooShort
	}

	pidOffset := msgStart + 3 + senderOctets
	dcsOffset := pidOffset + 1
	udlOffset := dcsOffset + 1 + timestampLen
	udOffset := udlOffset + 1
	udl := int(octets[udlOffset])

	enc, class := classifyDCS(octets[dcsOffset])
	if enc == EncodingGsm7 {
		if len(octets) < udOffset+(7*udl+7)/8 {
			return nil, ErrTooShort
		}
	} else if len(octets) < udOffset+udl {
		return nil, ErrTooShort
	}

	out := &Deliver{
		Encoding: enc,
		Class:    class,
	}
	var err error
	if smscOctets > 0 {
		// The SMSC length octet counts the type octet, so the number of
		// digit semi-octets is 2*(len-1).
		out.SMSC, err = decodeAddress(octets[1:1+smscOctets], 2*(smscOctets-1))
		if err != nil {
			return nil, err
		}
	}
	out.Number, err = decodeAddress(octets[msgStart+2:msgStart+2+1+senderOctets], senderDigits)
	if err != nil {
		return nil, err
	}
	out.Timestamp = decodeTimestamp(octets[dcsOffset+1 : dcsOffset+1+timestampLen])

	padBits := 0
	if firstOctet&tpUDHI != 0 {
		udhl := int(octets[udOffset]) + 1
		out.Concat = parseConcat(octets[udOffset : udOffset+udhl])
		udOffset += udhl
		if enc == EncodingGsm7 {
			padBits = (7 - udhl%7) % 7
			udl -= (udhl*8 + padBits) / 7
		} else {
			udl -= udhl
		}
	}
	if udl < 0 {
		return nil, ErrTooShort
	}

	switch enc {
	case EncodingGsm7:
		out.Text = pdu.Decode7Bit(octets[udOffset:], udl, padBits)
	case EncodingUcs2:
		end := udOffset + udl
		if end > len(octets) {
			end = len(octets)
		}
		out.Text, err = pdu.DecodeUcs2(octets[udOffset:end])
		if err != nil {
			return nil, err
		}
	case Encoding8Bit:
		end := udOffset + udl
		if end > len(octets) {
			end = len(octets)
		}
		out.Data = append([]byte(nil), octets[udOffset:end]...)
	default:
		// classifyDCS never reports unknown; reserved groups fall back to
		// the default alphabet.
		return nil, ErrUnknownEncoding
	}
	return out, nil
}

// parseConcat walks the information elements of a user data header and
// returns the first concatenation element, either 8-bit (IE 0x00) or
// 16-bit (IE 0x08) reference.
func parseConcat(udh []byte) *Concat {
	if len(udh) < 1 {
		return nil
	}
	ies := udh[1:]
	for len(ies) >= 2 {
		id, n := ies[0], int(ies[1])
		if len(ies) < 2+n {
			return nil
		}
		data := ies[2 : 2+n]
		switch {
		case id == 0x00 && n == 3:
			return &Concat{
				Reference: int(data[0]),
				Total:     int(data[1]),
				Sequence:  int(data[2]),
			}
		case id == 0x08 && n == 4:
			return &Concat{
				Reference: int(data[0])<<8 | int(data[1]),
				Total:     int(data[2]),
				Sequence:  int(data[3]),
			}
		}
		ies = ies[2+n:]
	}
	return nil
}

// EncodeSubmit builds a submit PDU for text addressed to number, with an
// optional SMSC prefix. validity is in minutes; zero omits the validity
// period. class 1..3 stamps a message class into the DCS; other values
// leave the class unset. The returned msgStart is the offset of the first
// TPDU octet, just past the SMSC block.
func EncodeSubmit(number, text, smsc string, validity, class int) (octets []byte, msgStart int, err error) {
	var out []byte
	if smsc == "" {
		out = append(out, 0x00)
		msgStart = 1
	} else {
		block, err := encodeAddress(smsc, true)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, block...)
		msgStart = len(out)
	}

	firstOctet := byte(0x01) // TP-MTI: SMS-SUBMIT
	if validity > 0 {
		firstOctet |= 0x10 // TP-VPF: relative
	}
	out = append(out, firstOctet)
	out = append(out, 0x00) // TP-MR: let the modem assign it

	da, err := encodeAddress(number, false)
	if err != nil {
		return nil, 0, err
	}
	out = append(out, da...)
	out = append(out, 0x00) // TP-PID: default store-and-forward

	dcs := byte(0x00)
	var userData []byte
	var udl int
	if septets, ok := pdu.SeptetLength(text); ok {
		if septets > 160 {
			return nil, 0, ErrEncodingTooLong
		}
		raw, err := pdu.ToSeptets(text)
		if err != nil {
			return nil, 0, err
		}
		userData = pdu.Pack7Bit(raw, 0)
		udl = septets
	} else {
		dcs = 0x08
		userData = pdu.EncodeUcs2(text)
		if len(userData) > 140 {
			return nil, 0, ErrEncodingTooLong
		}
		udl = len(userData)
	}
	if class >= 1 && class <= 3 {
		dcs |= 0x10 | byte(class)
	}
	out = append(out, dcs)

	if validity > 0 {
		out = append(out, relativeValidity(validity))
	}
	out = append(out, byte(udl))
	out = append(out, userData...)
	return out, msgStart, nil
}

// relativeValidity maps minutes to the TP-VP relative octet of TS 23.040
// section 9.2.3.12.1.
func relativeValidity(minutes int) byte {
	switch {
	case minutes <= 5:
		return 0
	case minutes <= 720:
		return byte(minutes/5 - 1)
	case minutes <= 1440:
		return byte((minutes-720)/30 + 143)
	case minutes <= 30*24*60:
		return byte(minutes/(24*60) + 166)
	default:
		weeks := minutes / (7 * 24 * 60)
		if weeks > 63 {
			weeks = 63
		}
		return byte(weeks + 192)
	}
}
