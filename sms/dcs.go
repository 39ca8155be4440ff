package sms

// classifyDCS maps a data coding scheme octet to the user data alphabet
// and the message class, following 3GPP TS 23.038. class is -1 when the
// DCS carries no valid class.
func classifyDCS(dcs byte) (Encoding, int) {
	enc := EncodingGsm7
	switch dcs >> 4 {
	case 0x0, 0x1, 0x2, 0x3:
		// General data coding group: bits 3..2 select the alphabet,
		// reserved decodes as the default alphabet.
		switch dcs & 0x0C {
		case 0x04:
			enc = Encoding8Bit
		case 0x08:
			enc = EncodingUcs2
		}
	case 0xC, 0xD:
		// Message waiting groups, default alphabet.
	case 0xE:
		// Message waiting group, UCS-2.
		enc = EncodingUcs2
	case 0xF:
		// Data coding / message class group.
		if dcs&0x04 != 0 {
			enc = Encoding8Bit
		}
	default:
		// Reserved coding groups decode as the default alphabet.
	}

	// Bit 4 marks the class bits as meaningful, independent of the group.
	class := -1
	if dcs&0x10 != 0 {
		class = int(dcs & 0x03)
	}
	return enc, class
}
