package sms

// decodeTimestamp renders the 7-octet TP-SCTS field as YYMMDDhhmmss±ZZ.
// The semi-octets carry swapped BCD nibbles; the final octet is the zone
// offset in quarter-hours with bit 3 as the sign (1 = negative). ZZ is the
// offset in whole hours.
func decodeTimestamp(ts []byte) string {
	out := make([]byte, 0, 15)
	for i := 0; i < 6; i++ {
		out = append(out, '0'+ts[i]&0x0F, '0'+ts[i]>>4&0x0F)
	}
	quarters := int(ts[6]&0x07)*10 + int(ts[6]>>4&0x0F)
	hours := quarters / 4
	sign := byte('+')
	if ts[6]&0x08 != 0 {
		sign = '-'
	}
	out = append(out, sign, byte('0'+hours/10), byte('0'+hours%10))
	return string(out)
}
