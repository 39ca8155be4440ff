package qmi

import (
	"encoding/binary"
	"errors"
)

// QMUX interface type tag opening every frame.
const qmuxTag = 0x01

// SDU message control flags.
const (
	sduRequest    = 0x00
	sduResponse   = 0x02
	sduIndication = 0x04
	// The control service uses a compressed SDU with a one-octet
	// transaction id and its own flag values.
	ctlResponse   = 0x01
	ctlIndication = 0x02
)

// ErrFraming is returned when a QMUX frame cannot be parsed; the port is
// closed when this happens.
var ErrFraming = errors.New("qmi: broken QMUX framing")

// frame is a parsed QMUX message.
type frame struct {
	service    Service
	client     uint8
	indication bool
	txn        uint16
	msgID      uint16
	tlvs       TLVs
}

// marshalFrame builds a request frame. The length field covers the whole
// frame minus the tag octet. The control service carries a one-octet
// transaction id, every other service a two-octet one.
func marshalFrame(service Service, client uint8, txn uint16, msgID uint16, tlvs TLVs) []byte {
	payload := MarshalTLVs(tlvs)

	var sdu []byte
	if service == ServiceCTL {
		sdu = append(sdu, sduRequest, uint8(txn))
	} else {
		sdu = append(sdu, sduRequest)
		sdu = binary.LittleEndian.AppendUint16(sdu, txn)
	}
	sdu = binary.LittleEndian.AppendUint16(sdu, msgID)
	sdu = binary.LittleEndian.AppendUint16(sdu, uint16(len(payload)))
	sdu = append(sdu, payload...)

	out := []byte{qmuxTag}
	out = binary.LittleEndian.AppendUint16(out, uint16(3+2+len(sdu)))
	out = append(out, 0x00, uint8(service), client)
	out = append(out, sdu...)
	return out
}

// parseFrame decodes one frame body (everything after the tag and length
// octets).
func parseFrame(body []byte) (*frame, error) {
	if len(body) < 3 {
		return nil, ErrFraming
	}
	f := &frame{
		service: Service(body[1]),
		client:  body[2],
	}
	sdu := body[3:]

	if f.service == ServiceCTL {
		if len(sdu) < 6 {
			return nil, ErrFraming
		}
		f.indication = sdu[0]&ctlIndication != 0 && sdu[0]&ctlResponse == 0
		f.txn = uint16(sdu[1])
		sdu = sdu[2:]
	} else {
		if len(sdu) < 7 {
			return nil, ErrFraming
		}
		f.indication = sdu[0]&sduIndication != 0
		f.txn = binary.LittleEndian.Uint16(sdu[1:3])
		sdu = sdu[3:]
	}

	f.msgID = binary.LittleEndian.Uint16(sdu[0:2])
	msgLen := int(binary.LittleEndian.Uint16(sdu[2:4]))
	if len(sdu) < 4+msgLen {
		return nil, ErrFraming
	}
	tlvs, err := ParseTLVs(sdu[4 : 4+msgLen])
	if err != nil {
		return nil, ErrFraming
	}
	f.tlvs = tlvs
	return f, nil
}
