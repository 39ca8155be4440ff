package transport

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linux-mobile-broadband/modemd/at"
	"github.com/linux-mobile-broadband/modemd/at/attest"
	"github.com/linux-mobile-broadband/modemd/core"
	"github.com/linux-mobile-broadband/modemd/qmi"
)

func newATTransport(t *testing.T) (*ATTransport, *attest.Modem) {
	t.Helper()
	dev := attest.New()
	port := at.NewPort(at.Config{Name: "test", ReadWriter: dev, Logger: zerolog.Nop()})
	trans := NewAT(port, nil)
	require.NoError(t, trans.Open())
	t.Cleanup(func() { trans.Close() })
	return trans, dev
}

func TestATTransportCommand(t *testing.T) {
	t.Parallel()

	trans, dev := newATTransport(t)
	dev.Reply("AT+GMM", "E1750", "OK")

	assert.Equal(t, KindAT, trans.Kind())
	assert.True(t, trans.IsOpen())

	reply, err := trans.Command(context.Background(), "AT+GMM", time.Second, false)
	require.NoError(t, err)
	assert.Equal(t, "E1750", reply)
}

func TestATTransportRejectsInvoke(t *testing.T) {
	t.Parallel()

	trans, _ := newATTransport(t)
	_, err := trans.Invoke(context.Background(), qmi.ServiceDMS, qmi.DmsGetModel, nil, time.Second)
	assert.True(t, core.Is(err, core.KindUnsupported))
}

func TestATTransportUnsolicitedRoundTrip(t *testing.T) {
	t.Parallel()

	trans, dev := newATTransport(t)
	got := make(chan string, 1)
	require.NoError(t, trans.SubscribeUnsolicited(`^%STATCM: (\d+)`, func(groups []string) {
		got <- groups[1]
	}))
	dev.Inject("%STATCM: 3")
	select {
	case v := <-got:
		assert.Equal(t, "3", v)
	case <-time.After(time.Second):
		t.Fatal("unsolicited not delivered")
	}
}

func TestATTransportLifecycleIdempotent(t *testing.T) {
	t.Parallel()

	trans, _ := newATTransport(t)
	require.NoError(t, trans.Open())
	require.NoError(t, trans.Close())
	require.NoError(t, trans.Close())
	assert.False(t, trans.IsOpen())
}

func TestQMITransportRejectsCommand(t *testing.T) {
	t.Parallel()

	trans := NewQMI(qmi.NewPort(qmi.Config{Name: "test", Logger: zerolog.Nop()}))
	_, err := trans.Command(context.Background(), "AT", time.Second, false)
	assert.True(t, core.Is(err, core.KindUnsupported))
	assert.Equal(t, KindQMI, trans.Kind())
}
