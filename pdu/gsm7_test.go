package pdu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeptetRoundTrip(t *testing.T) {
	t.Parallel()

	data := []string{
		"hello world",
		"This is really cool ΔΔΔΔΔ",
		"[{braces}] and \\ and ~ and € too",
		"@£$¥èéùìòÇØøÅåΔ_ΦΓΛΩΠΨΣΘΞ",
		"",
	}
	for _, str := range data {
		septets, err := ToSeptets(str)
		require.NoError(t, err)
		assert.Equal(t, str, FromSeptets(septets))
		assert.Equal(t, str, Decode7Bit(Pack7Bit(septets, 0), len(septets), 0))
	}
}

func TestPackedLength(t *testing.T) {
	t.Parallel()

	for n := 1; n <= 160; n++ {
		septets := make([]byte, n)
		for i := range septets {
			septets[i] = byte('a' + i%26)
		}
		packed := Pack7Bit(septets, 0)
		assert.Equal(t, (7*n+7)/8, len(packed))
		assert.Equal(t, septets, Unpack7Bit(packed, n, 0))
	}
}

func TestPack7BitWithPadding(t *testing.T) {
	t.Parallel()

	septets, err := ToSeptets("hello")
	require.NoError(t, err)
	for pad := 0; pad < 7; pad++ {
		packed := Pack7Bit(septets, pad)
		assert.Equal(t, septets, Unpack7Bit(packed, len(septets), pad))
	}
}

func TestExtensionSeptetCost(t *testing.T) {
	t.Parallel()

	n, ok := SeptetLength("a[b]")
	require.True(t, ok)
	assert.Equal(t, 6, n)

	_, ok = SeptetLength("кириллица")
	assert.False(t, ok)
	assert.False(t, Is7BitEncodable("ы"))
	assert.True(t, Is7BitEncodable("Hi there ΔΔΔ §¿"))
}

func TestEncode7Bit(t *testing.T) {
	t.Parallel()

	octets, septets, err := Encode7Bit("hello")
	require.NoError(t, err)
	assert.Equal(t, 5, septets)
	assert.Equal(t, []byte{0xE8, 0x32, 0x9B, 0xFD, 0x06}, octets)

	_, _, err = Encode7Bit("привет")
	assert.ErrorIs(t, err, ErrUnsupportedRune)
}

