package sms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeAddressInternational(t *testing.T) {
	t.Parallel()

	out, err := encodeAddress("+15555551234", false)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0B, 0x91, 0x51, 0x55, 0x55, 0x15, 0x32, 0xF4}, out)
}

func TestEncodeAddressUnknownType(t *testing.T) {
	t.Parallel()

	out, err := encodeAddress("5551234", false)
	require.NoError(t, err)
	assert.Equal(t, byte(0x07), out[0])
	assert.Equal(t, byte(0x81), out[1])
}

func TestEncodeAddressSMSCBlock(t *testing.T) {
	t.Parallel()

	// An SMSC length octet counts value octets including the type octet.
	out, err := encodeAddress("+19037029920", true)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x07, 0x91, 0x91, 0x30, 0x07, 0x92, 0x29, 0xF0}, out)
}

func TestEncodeAddressRejectsNonDial(t *testing.T) {
	t.Parallel()

	_, err := encodeAddress("+1555CALLME", false)
	assert.ErrorIs(t, err, ErrInvalidAddress)
	_, err = encodeAddress("", false)
	assert.ErrorIs(t, err, ErrInvalidAddress)
	_, err = encodeAddress("+", false)
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestDecodeAddressInternational(t *testing.T) {
	t.Parallel()

	out, err := decodeAddress([]byte{0x91, 0x51, 0x55, 0x55, 0x15, 0x32, 0xF4}, 11)
	require.NoError(t, err)
	assert.Equal(t, "+15555551234", out)
}

func TestDecodeAddressBareDigits(t *testing.T) {
	t.Parallel()

	// Unknown type renders without the '+'.
	out, err := decodeAddress([]byte{0x81, 0x21, 0x43}, 4)
	require.NoError(t, err)
	assert.Equal(t, "1234", out)
}

func TestDecodeAddressAlphanumeric(t *testing.T) {
	t.Parallel()

	// "InternetSMS" GSM-7 packed, 20 semi-octets of value.
	value := []byte{0xD0, 0x49, 0x37, 0xBD, 0x2C, 0x77, 0x97, 0xE9, 0xD3, 0xE6, 0x14}
	out, err := decodeAddress(value, 20)
	require.NoError(t, err)
	assert.Equal(t, "InternetSMS", out)
}

func TestDecodeAddressTruncated(t *testing.T) {
	t.Parallel()

	_, err := decodeAddress([]byte{0x91, 0x51}, 11)
	assert.ErrorIs(t, err, ErrTooShort)
}
