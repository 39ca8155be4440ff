package sms

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyDCS(t *testing.T) {
	t.Parallel()

	data := []struct {
		dcs   byte
		enc   Encoding
		class int
	}{
		{0x00, EncodingGsm7, -1},
		{0x04, Encoding8Bit, -1},
		{0x08, EncodingUcs2, -1},
		{0x0C, EncodingGsm7, -1}, // reserved, default alphabet
		{0x11, EncodingGsm7, 1},
		{0xC0, EncodingGsm7, -1},
		{0xD0, EncodingGsm7, 0},
		{0xE0, EncodingUcs2, -1},
		{0xF0, EncodingGsm7, 0},
		{0xF5, Encoding8Bit, 1},
		{0x40, EncodingGsm7, -1}, // reserved group
	}
	for _, d := range data {
		enc, class := classifyDCS(d.dcs)
		assert.Equal(t, d.enc, enc, "dcs %#x", d.dcs)
		assert.Equal(t, d.class, class, "dcs %#x", d.dcs)
	}
}

func TestEncodingString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "gsm-7", EncodingGsm7.String())
	assert.Equal(t, "8-bit", Encoding8Bit.String())
	assert.Equal(t, "ucs-2", EncodingUcs2.String())
	assert.Equal(t, "unknown", EncodingUnknown.String())
}
