package modem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linux-mobile-broadband/modemd/pdu"
)

// buildConcatDeliver crafts a deliver PDU with an 8-bit-reference
// concatenation header and a GSM-7 body.
func buildConcatDeliver(t *testing.T, ref, total, seq int, text string) []byte {
	t.Helper()
	septets, err := pdu.ToSeptets(text)
	require.NoError(t, err)

	udh := []byte{0x05, 0x00, 0x03, byte(ref), byte(total), byte(seq)}
	udhl := len(udh)
	padBits := (7 - udhl%7) % 7
	packed := pdu.Pack7Bit(septets, padBits)
	udl := len(septets) + (udhl*8+padBits)/7

	out := []byte{
		0x00,       // no SMSC
		0x44,       // deliver, TP-UDHI
		0x04, 0x81, // 4-digit unknown-type sender
		0x21, 0x43,
		0x00, 0x00, // PID, DCS GSM-7
		0x11, 0x10, 0x10, 0x21, 0x43, 0x65, 0x00, // timestamp
		byte(udl),
	}
	out = append(out, udh...)
	out = append(out, packed...)
	return out
}

func TestMessagesAssemblesConcatenation(t *testing.T) {
	t.Parallel()

	mock := newMockAT()
	scriptEnableAT(mock)
	m := newTestModem(t, mock)
	store := m.SMS()

	store.addPart(StorageSIM, 1, PartReceived, buildConcatDeliver(t, 7, 2, 1, "Hello "))
	store.addPart(StorageSIM, 2, PartReceived, buildConcatDeliver(t, 7, 2, 2, "world"))

	msgs := store.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Complete)
	assert.Equal(t, "Hello world", msgs[0].Text)
	assert.Equal(t, "1234", msgs[0].Number)
	assert.Len(t, msgs[0].Parts, 2)
}

func TestMessagesIncompleteConcatenation(t *testing.T) {
	t.Parallel()

	mock := newMockAT()
	m := newTestModem(t, mock)
	store := m.SMS()

	store.addPart(StorageSIM, 1, PartReceived, buildConcatDeliver(t, 9, 3, 1, "part one "))
	store.addPart(StorageSIM, 3, PartReceived, buildConcatDeliver(t, 9, 3, 3, "part three"))

	msgs := store.Messages()
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].Complete)
}

func TestPartIndicesUniquePerStorage(t *testing.T) {
	t.Parallel()

	mock := newMockAT()
	m := newTestModem(t, mock)
	store := m.SMS()

	store.addPart(StorageSIM, 1, PartReceived, buildConcatDeliver(t, 1, 2, 1, "a"))
	store.addPart(StorageSIM, 1, PartReceived, buildConcatDeliver(t, 1, 2, 2, "b"))
	store.addPart(StorageME, 1, PartReceived, buildConcatDeliver(t, 2, 2, 1, "c"))

	parts := store.List()
	require.Len(t, parts, 2)
	seen := make(map[Storage]map[int]bool)
	for _, p := range parts {
		if seen[p.Storage] == nil {
			seen[p.Storage] = make(map[int]bool)
		}
		assert.False(t, seen[p.Storage][p.Index], "duplicate index in storage")
		seen[p.Storage][p.Index] = true
	}
}

func TestNewMessageIndicationReadsPart(t *testing.T) {
	t.Parallel()

	mock := newMockAT()
	scriptEnableAT(mock)
	concat := buildConcatDeliver(t, 5, 1, 1, "ping")
	m := newTestModem(t, mock)
	initializeAndEnable(t, m)

	mock.reply("AT+CMGR=7", "+CMGR: 0,,20\n"+hexOf(concat))

	received := make(chan struct{}, 1)
	m.OnProperty(func(object, property string, value interface{}) {
		if object == "sms" && property == "Received" {
			received <- struct{}{}
		}
	})
	mock.inject(`+CMTI: "SM",7`)

	select {
	case <-received:
	case <-timeoutC(t):
		t.Fatal("new message not published")
	}
	parts := m.SMS().List()
	require.NotEmpty(t, parts)
}

func TestSendEncodesSubmit(t *testing.T) {
	t.Parallel()

	mock := newMockAT()
	scriptEnableAT(mock)
	m := newTestModem(t, mock)
	initializeAndEnable(t, m)

	// The mock transport has no interactive port, so the send surfaces an
	// unsupported error after encoding succeeded.
	err := m.SMS().Send(context.Background(), "+15555551234", "hi there", "", 5, 0)
	require.Error(t, err)

	// Invalid destinations fail synchronously as invalid arguments.
	err = m.SMS().Send(context.Background(), "bogus!", "hi", "", 5, 0)
	require.Error(t, err)
}

func TestDeleteChecksStoreBeforeIndex(t *testing.T) {
	t.Parallel()

	mock := newMockAT()
	scriptEnableAT(mock)
	m := newTestModem(t, mock)
	initializeAndEnable(t, m)

	// Deleting from a storage never listed must not panic.
	require.NoError(t, m.SMS().Delete(context.Background(), StorageME, 42))
}
