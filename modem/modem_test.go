package modem

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linux-mobile-broadband/modemd/at"
	"github.com/linux-mobile-broadband/modemd/core"
	"github.com/linux-mobile-broadband/modemd/qmi"
)

func newTestModem(t *testing.T, mock *mockTransport) *Modem {
	t.Helper()
	m := New(0, Config{
		Name: "test",
		Ports: []PortConfig{
			{Name: "ttyACM0", Device: "/dev/ttyACM0", Kind: PortPrimaryAT},
			{Name: "wwan0", Device: "/dev/wwan0", Kind: PortNetworkData},
		},
		MaxBearers: 2,
		Transport:  mock,
		Logger:     zerolog.Nop(),
	})
	m.Path = "/org/freedesktop/ModemManager1/Modem/0"
	t.Cleanup(func() { m.Teardown(context.Background()) })
	return m
}

func newQMITestModem(t *testing.T, mock *mockTransport) *Modem {
	t.Helper()
	m := New(1, Config{
		Name: "qmi-test",
		Ports: []PortConfig{
			{Name: "cdc-wdm0", Device: "/dev/cdc-wdm0", Kind: PortQMIControl},
			{Name: "wwan0", Device: "/dev/wwan0", Kind: PortNetworkData},
		},
		MaxBearers: 2,
		Transport:  mock,
		Logger:     zerolog.Nop(),
	})
	m.Path = "/org/freedesktop/ModemManager1/Modem/1"
	t.Cleanup(func() { m.Teardown(context.Background()) })
	return m
}

func initializeAndEnable(t *testing.T, m *Modem) {
	t.Helper()
	require.NoError(t, m.Initialize(context.Background()))
	require.NoError(t, m.Enable(context.Background()))
}

func TestInitializeLoadsIdentity(t *testing.T) {
	t.Parallel()

	mock := newMockAT()
	scriptEnableAT(mock)
	m := newTestModem(t, mock)

	require.NoError(t, m.Initialize(context.Background()))
	assert.Equal(t, StateDisabled, m.State())

	manufacturer, model, revision, imei := m.Identity()
	assert.Equal(t, "Altair Semiconductor", manufacturer)
	assert.Equal(t, "ALT3100", model)
	assert.Equal(t, "ALT3100_04_05_06", revision)
	assert.Equal(t, "861001001234567", imei)
	assert.True(t, m.Capabilities().Has(CapGsmUmts|CapLte))

	sim := m.SIM()
	require.NotNil(t, sim)
	assert.Equal(t, "89014103211118510720", sim.ICCID())
	assert.Equal(t, LockNone, sim.Lock())
	assert.Equal(t, 3, sim.Retries(LockPin))
	assert.Equal(t, 10, sim.Retries(LockPuk))

	assert.Len(t, m.DeviceID(), 64)
}

func TestInitializeOptionalProbeFailureTolerated(t *testing.T) {
	t.Parallel()

	mock := newMockAT()
	scriptEnableAT(mock)
	mock.fail("AT%BANDCAP=", &at.CommandError{Result: at.FinalResults.Error})
	mock.fail("AT%CPININFO", &at.CommandError{Result: at.FinalResults.NotSupported})
	m := newTestModem(t, mock)

	require.NoError(t, m.Initialize(context.Background()))
	assert.Equal(t, StateDisabled, m.State())
}

func TestInitializeMandatoryFailure(t *testing.T) {
	t.Parallel()

	mock := newMockAT()
	scriptEnableAT(mock)
	mock.fail("AT+GMI", at.ErrTimeout)
	m := newTestModem(t, mock)

	require.Error(t, m.Initialize(context.Background()))
	assert.Equal(t, StateFailed, m.State())
	assert.False(t, mock.IsOpen())
}

func TestEnableReachesRegistered(t *testing.T) {
	t.Parallel()

	mock := newMockAT()
	scriptEnableAT(mock)
	m := newTestModem(t, mock)
	initializeAndEnable(t, m)

	assert.Equal(t, StateRegistered, m.State())
	assert.Equal(t, PowerOn, m.PowerState())
	assert.Contains(t, mock.sentCommands(), "AT+CFUN=1")
	assert.Contains(t, mock.sentCommands(), "AT%STATCM=1")

	snap := m.Registration(DomainCS)
	assert.Equal(t, RegHome, snap.State)
	assert.Equal(t, "310410", snap.OperatorCode)
}

func TestDisableRunsInverseLadder(t *testing.T) {
	t.Parallel()

	mock := newMockAT()
	scriptEnableAT(mock)
	m := newTestModem(t, mock)
	initializeAndEnable(t, m)

	require.NoError(t, m.Disable(context.Background()))
	assert.Equal(t, StateDisabled, m.State())
	assert.Contains(t, mock.sentCommands(), "AT+CFUN=4")
	assert.Contains(t, mock.sentCommands(), "AT%STATCM=0")
}

func TestSerializerOneInFlight(t *testing.T) {
	t.Parallel()

	s := NewSerializer(zerolog.Nop())
	defer s.Close()

	var running, maxRunning int32
	var results []<-chan OpResult
	for i := 0; i < 8; i++ {
		results = append(results, s.Submit(context.Background(), "probe", func(ctx context.Context) (interface{}, error) {
			n := atomic.AddInt32(&running, 1)
			if n > atomic.LoadInt32(&maxRunning) {
				atomic.StoreInt32(&maxRunning, n)
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil, nil
		}))
	}
	for _, ch := range results {
		res := <-ch
		require.NoError(t, res.Err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxRunning))
}

func TestSerializerCancelledWhileQueued(t *testing.T) {
	t.Parallel()

	s := NewSerializer(zerolog.Nop())
	defer s.Close()

	release := make(chan struct{})
	s.Submit(context.Background(), "blocker", func(ctx context.Context) (interface{}, error) {
		<-release
		return nil, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := s.Submit(ctx, "victim", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	cancel()
	close(release)

	res := <-done
	assert.True(t, core.Is(res.Err, core.KindCancelled))
}

func TestBearerConnectDisconnectAT(t *testing.T) {
	t.Parallel()

	mock := newMockAT()
	scriptEnableAT(mock)
	m := newTestModem(t, mock)
	initializeAndEnable(t, m)

	b, err := m.CreateBearer(BearerConfig{APN: "internet"})
	require.NoError(t, err)
	require.NoError(t, b.Connect(context.Background()))

	sent := mock.sentCommands()
	assert.Contains(t, sent, `AT%APNN="internet"`)
	assert.Contains(t, sent, "AT%DPDNACT=1")

	assert.Equal(t, BearerConnected, b.ConnectionState())
	assert.Equal(t, StateConnected, m.State())
	ipv4, ipv6 := b.IPConfigs()
	require.NotNil(t, ipv4)
	require.NotNil(t, ipv6)
	assert.Equal(t, IPMethodDHCP, ipv4.Method)
	port := b.DataPort()
	require.NotNil(t, port)
	assert.True(t, port.Connected)

	// The network drops the PDN: %STATCM code 4.
	mock.inject("%STATCM: 4")
	assert.Equal(t, BearerDisconnected, b.ConnectionState())
	assert.Nil(t, b.DataPort())
	assert.False(t, port.Connected)
}

func TestBearerDisconnectSendsDeactivation(t *testing.T) {
	t.Parallel()

	mock := newMockAT()
	scriptEnableAT(mock)
	m := newTestModem(t, mock)
	initializeAndEnable(t, m)

	b, err := m.CreateBearer(BearerConfig{APN: "internet"})
	require.NoError(t, err)
	require.NoError(t, b.Connect(context.Background()))
	require.NoError(t, b.Disconnect(context.Background()))

	assert.Contains(t, mock.sentCommands(), "AT%DPDNACT=0")
	assert.Equal(t, BearerDisconnected, b.ConnectionState())
	assert.Equal(t, uint32(0), b.PacketDataHandle())
}

func TestBearerConnectWrongState(t *testing.T) {
	t.Parallel()

	mock := newMockAT()
	scriptEnableAT(mock)
	m := newTestModem(t, mock)
	require.NoError(t, m.Initialize(context.Background()))

	b, err := m.CreateBearer(BearerConfig{APN: "internet"})
	require.NoError(t, err)
	err = b.Connect(context.Background())
	assert.True(t, core.Is(err, core.KindWrongState))
}

func TestBearerListCap(t *testing.T) {
	t.Parallel()

	mock := newMockAT()
	scriptEnableAT(mock)
	m := newTestModem(t, mock)

	_, err := m.CreateBearer(BearerConfig{APN: "a"})
	require.NoError(t, err)
	_, err = m.CreateBearer(BearerConfig{APN: "b"})
	require.NoError(t, err)
	_, err = m.CreateBearer(BearerConfig{APN: "c"})
	assert.True(t, core.Is(err, core.KindTooMany))
}

func TestSignalRateLifecycle(t *testing.T) {
	t.Parallel()

	mock := newMockAT()
	scriptEnableAT(mock)
	m := newTestModem(t, mock)
	initializeAndEnable(t, m)

	require.NoError(t, m.SetSignalRate(context.Background(), 1))
	signals := m.Signals()
	require.NotEmpty(t, signals)
	assert.Equal(t, "lte", signals[0].Technology)
	assert.Equal(t, -73, signals[0].RSSI)
	assert.Equal(t, QualityFromRSSI(-73), signals[0].Quality)

	require.NoError(t, m.SetSignalRate(context.Background(), 0))
	assert.Empty(t, m.Signals())
}

func TestQualityFromRSSI(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, QualityFromRSSI(-113))
	assert.Equal(t, 0, QualityFromRSSI(-140))
	assert.Equal(t, 100, QualityFromRSSI(-51))
	assert.Equal(t, 100, QualityFromRSSI(-30))
	mid := QualityFromRSSI(-82)
	assert.Greater(t, mid, 40)
	assert.Less(t, mid, 60)
}

func TestNormalizeQMIReg(t *testing.T) {
	t.Parallel()

	data := []struct {
		reg, attach uint8
		roaming     bool
		want        RegState
	}{
		{qmiRegRegistered, 1, false, RegHome},
		{qmiRegRegistered, 1, true, RegRoaming},
		{qmiRegRegistered, 0, false, RegSearching},
		{qmiRegSearching, 0, true, RegSearching},
		{qmiRegNotRegistered, 0, false, RegIdle},
		{qmiRegDenied, 0, false, RegDenied},
		{qmiRegUnknown, 0, false, RegUnknown},
	}
	for _, d := range data {
		assert.Equal(t, d.want, normalizeQMIReg(d.reg, d.attach, d.roaming))
	}
}

func TestSynthesizeOperatorCode(t *testing.T) {
	t.Parallel()

	mock := newMockAT()
	m := newTestModem(t, mock)

	assert.Equal(t, "310410", m.SynthesizeOperatorCode(310, 410, false))
	assert.Equal(t, "26201", m.SynthesizeOperatorCode(262, 1, false))
	assert.Equal(t, "262001", m.SynthesizeOperatorCode(262, 1, true))
	assert.Equal(t, "310170", m.SynthesizeOperatorCode(310, 170, false))
}

func TestDeviceIDHashStable(t *testing.T) {
	t.Parallel()

	a := deviceIDHash("Altair", "ALT3100", "04", "ati", "ati1")
	b := deviceIDHash("Altair", "ALT3100", "04", "ati", "ati1")
	c := deviceIDHash("Altair", "ALT3100", "05", "ati", "ati1")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
	assert.Equal(t, a, string([]byte(a))) // hex, lowercase by construction
}

func TestSendPinWrongPasswordDecrements(t *testing.T) {
	t.Parallel()

	mock := newMockAT()
	scriptEnableAT(mock)
	mock.reply("AT+CPIN?", "+CPIN: SIM PIN")
	mock.fail(`AT+CPIN="0000"`, &at.EquipmentError{Code: at.CmeIncorrectPassword})
	m := newTestModem(t, mock)
	require.NoError(t, m.Initialize(context.Background()))

	sim := m.SIM()
	require.NotNil(t, sim)
	assert.Equal(t, LockPin, sim.Lock())

	// The re-read after the attempt reports one retry less.
	mock.reply("AT%CPININFO", "%CPININFO: 2,10,3,10")
	err := m.SendPin(context.Background(), "0000")
	require.Error(t, err)
	assert.Equal(t, 2, sim.Retries(LockPin))
	assert.Equal(t, LockPin, sim.Lock())
}

func TestSendPinSuccessUnlocks(t *testing.T) {
	t.Parallel()

	mock := newMockAT()
	scriptEnableAT(mock)
	mock.reply("AT+CPIN?", "+CPIN: SIM PIN")
	m := newTestModem(t, mock)
	require.NoError(t, m.Initialize(context.Background()))

	mock.reply("AT+CPIN?", "+CPIN: READY")
	require.NoError(t, m.SendPin(context.Background(), "1234"))
	assert.Equal(t, LockNone, m.SIM().Lock())
}

func TestQuiesceAndResume(t *testing.T) {
	t.Parallel()

	mock := newMockAT()
	scriptEnableAT(mock)
	m := newTestModem(t, mock)
	initializeAndEnable(t, m)

	require.NoError(t, m.Quiesce(context.Background()))
	assert.False(t, mock.IsOpen())
	assert.Equal(t, StateDisabled, m.State())

	require.NoError(t, m.Resume(context.Background()))
	assert.True(t, mock.IsOpen())
	assert.Equal(t, StateRegistered, m.State())
}

func TestResetQuirk(t *testing.T) {
	t.Parallel()

	mock := newMockAT()
	scriptEnableAT(mock)
	m := New(0, Config{
		Name:      "quirky",
		Ports:     []PortConfig{{Name: "tty", Device: "/dev/tty0", Kind: PortPrimaryAT}},
		NoReset:   true,
		Transport: mock,
		Logger:    zerolog.Nop(),
	})
	t.Cleanup(func() { m.Teardown(context.Background()) })
	require.NoError(t, m.Initialize(context.Background()))

	err := m.Reset(context.Background())
	assert.True(t, core.Is(err, core.KindUnsupported))
	assert.NotContains(t, mock.sentCommands(), "ATZ")
}

func TestBearerConnectQMI(t *testing.T) {
	t.Parallel()

	mock := newMockQMI()
	scriptQMIInit(mock)
	mock.qmiReply(qmi.ServiceWDS, qmi.WdsStartNetwork,
		qmi.TLVs{}.AppendUint32(0x01, 0xDEADBEEF))

	m := newQMITestModem(t, mock)
	initializeAndEnable(t, m)

	b, err := m.CreateBearer(BearerConfig{APN: "internet", IPFamily: IPFamilyV4})
	require.NoError(t, err)
	require.NoError(t, b.Connect(context.Background()))

	assert.Equal(t, BearerConnected, b.ConnectionState())
	assert.Equal(t, uint32(0xDEADBEEF), b.PacketDataHandle())
	ipv4, ipv6 := b.IPConfigs()
	require.NotNil(t, ipv4)
	assert.Nil(t, ipv6)

	require.NoError(t, b.Disconnect(context.Background()))
	assert.Equal(t, uint32(0), b.PacketDataHandle())
}

func TestBearerConnectQMINoEffect(t *testing.T) {
	t.Parallel()

	mock := newMockQMI()
	scriptQMIInit(mock)
	mock.qmiFail(qmi.ServiceWDS, qmi.WdsStartNetwork,
		&qmi.ProtocolError{Code: qmi.ProtoErrNoEffect})

	m := newQMITestModem(t, mock)
	initializeAndEnable(t, m)

	b, err := m.CreateBearer(BearerConfig{APN: "internet"})
	require.NoError(t, err)
	// The modem says the session is already up: that is connect success.
	require.NoError(t, b.Connect(context.Background()))
	assert.Equal(t, BearerConnected, b.ConnectionState())
	assert.NotZero(t, b.PacketDataHandle())
}

func TestQMIDisconnectIndication(t *testing.T) {
	t.Parallel()

	mock := newMockQMI()
	scriptQMIInit(mock)
	mock.qmiReply(qmi.ServiceWDS, qmi.WdsStartNetwork,
		qmi.TLVs{}.AppendUint32(0x01, 0x1234))

	m := newQMITestModem(t, mock)
	initializeAndEnable(t, m)

	b, err := m.CreateBearer(BearerConfig{APN: "internet"})
	require.NoError(t, err)
	require.NoError(t, b.Connect(context.Background()))

	mock.injectIndication(qmi.ServiceWDS, qmi.WdsPacketServiceStatus,
		qmi.TLVs{}.AppendUint8(0x01, 1))
	assert.Equal(t, BearerDisconnected, b.ConnectionState())
	assert.Equal(t, uint32(0), b.PacketDataHandle())
}
