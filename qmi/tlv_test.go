package qmi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTLVRoundTrip(t *testing.T) {
	t.Parallel()

	in := TLVs{}.
		AppendUint8(0x01, 0x42).
		AppendUint16(0x10, 0x1234).
		AppendUint32(0x11, 0xDEADBEEF).
		AppendString(0x14, "internet").
		AppendBytes(0x20, []byte{0x00, 0xFF})

	out, err := ParseTLVs(MarshalTLVs(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	v8, ok := out.Uint8(0x01)
	require.True(t, ok)
	assert.Equal(t, uint8(0x42), v8)
	v16, ok := out.Uint16(0x10)
	require.True(t, ok)
	assert.Equal(t, uint16(0x1234), v16)
	v32, ok := out.Uint32(0x11)
	require.True(t, ok)
	assert.Equal(t, uint32(0xDEADBEEF), v32)
	s, ok := out.String(0x14)
	require.True(t, ok)
	assert.Equal(t, "internet", s)

	_, ok = out.Get(0x99)
	assert.False(t, ok)
}

func TestParseTLVsTruncated(t *testing.T) {
	t.Parallel()

	_, err := ParseTLVs([]byte{0x01})
	assert.ErrorIs(t, err, ErrShortTLV)
	_, err = ParseTLVs([]byte{0x01, 0x05, 0x00, 0xAA})
	assert.ErrorIs(t, err, ErrShortTLV)
}

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()

	in := TLVs{}.AppendString(0x14, "internet")
	raw := marshalFrame(ServiceWDS, 3, 0x1234, WdsStartNetwork, in)
	require.Equal(t, byte(qmuxTag), raw[0])

	f, err := parseFrame(raw[3:])
	require.NoError(t, err)
	assert.Equal(t, ServiceWDS, f.service)
	assert.Equal(t, uint8(3), f.client)
	assert.Equal(t, uint16(0x1234), f.txn)
	assert.Equal(t, WdsStartNetwork, f.msgID)
	assert.False(t, f.indication)
	assert.Equal(t, in, f.tlvs)
}

func TestFrameRoundTripCTL(t *testing.T) {
	t.Parallel()

	in := TLVs{}.AppendUint8(0x01, uint8(ServiceNAS))
	raw := marshalFrame(ServiceCTL, 0, 0x21, CtlGetClientID, in)
	f, err := parseFrame(raw[3:])
	require.NoError(t, err)
	assert.Equal(t, ServiceCTL, f.service)
	assert.Equal(t, uint16(0x21), f.txn)
	assert.Equal(t, CtlGetClientID, f.msgID)
}
