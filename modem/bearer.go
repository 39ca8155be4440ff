package modem

import (
	"context"
	"sync"

	"github.com/linux-mobile-broadband/modemd/core"
)

// BearerState is the connection state of a data session.
type BearerState int

// The bearer states.
const (
	BearerDisconnected BearerState = iota
	BearerConnecting
	BearerConnected
	BearerDisconnecting
)

func (s BearerState) String() string {
	switch s {
	case BearerConnecting:
		return "connecting"
	case BearerConnected:
		return "connected"
	case BearerDisconnecting:
		return "disconnecting"
	default:
		return "disconnected"
	}
}

// IPFamily selects the address families of a data session.
type IPFamily int

// The configurable families.
const (
	IPFamilyAny IPFamily = iota
	IPFamilyV4
	IPFamilyV6
	IPFamilyDual
)

// IPMethod tells the host how to obtain addressing on the data port.
type IPMethod int

// The IP configuration methods.
const (
	IPMethodDHCP IPMethod = iota
	IPMethodStatic
)

func (m IPMethod) String() string {
	if m == IPMethodStatic {
		return "static"
	}
	return "dhcp"
}

// IPConfig is the addressing produced for one family. The broker never
// applies it; the host network layer does.
type IPConfig struct {
	Method  IPMethod
	Address string
	Prefix  int
	Gateway string
	DNS     []string
}

// BearerConfig is the user-supplied session configuration.
type BearerConfig struct {
	APN      string
	User     string
	Password string
	IPFamily IPFamily
}

// bearerBackend is the protocol-specific connect/disconnect pair.
type bearerBackend interface {
	connect(ctx context.Context, b *Bearer) (ipv4, ipv6 *IPConfig, err error)
	disconnect(ctx context.Context, b *Bearer) error
}

// Bearer is one data session. It identifies its owning modem by id and
// holds only a weak reference to the data port, which the modem owns.
type Bearer struct {
	Path    string
	ModemID int

	m   *Modem
	cfg BearerConfig

	mu           sync.Mutex
	state        BearerState
	dataPort     *Port
	packetHandle uint32
	ipv4         *IPConfig
	ipv6         *IPConfig
}

// Config returns the session configuration.
func (b *Bearer) Config() BearerConfig { return b.cfg }

// ConnectionState returns the current state.
func (b *Bearer) ConnectionState() BearerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// PacketDataHandle returns the opaque session token, non-zero only while
// connected on a QMI backend.
func (b *Bearer) PacketDataHandle() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.packetHandle
}

// DataPort returns the data port held while connected.
func (b *Bearer) DataPort() *Port {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dataPort
}

// IPConfigs returns the per-family configurations produced by connect.
func (b *Bearer) IPConfigs() (ipv4, ipv6 *IPConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ipv4, b.ipv6
}

func (b *Bearer) setState(s BearerState) {
	b.mu.Lock()
	old := b.state
	b.state = s
	b.mu.Unlock()
	if old != s {
		b.m.notify("bearer "+b.Path, "State", s)
	}
}

// CreateBearer adds a session object to the modem's list. The list cap
// yields a too-many error.
func (m *Modem) CreateBearer(cfg BearerConfig) (*Bearer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.bearers) >= m.cfg.MaxBearers {
		return nil, core.Newf(core.KindTooMany, "cannot add bearer: already %d", len(m.bearers))
	}
	// The object registry assigns the path once the bearer is published.
	b := &Bearer{
		ModemID: m.ID,
		m:       m,
		cfg:     cfg,
	}
	m.bearers = append(m.bearers, b)
	return b, nil
}

// Bearers returns a snapshot of the list.
func (m *Modem) Bearers() []*Bearer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Bearer, len(m.bearers))
	copy(out, m.bearers)
	return out
}

// BearerPaths returns the object paths of every bearer.
func (m *Modem) BearerPaths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.bearers))
	for _, b := range m.bearers {
		out = append(out, b.Path)
	}
	return out
}

// RemoveBearer disconnects (if needed) and drops b from the list.
func (m *Modem) RemoveBearer(ctx context.Context, b *Bearer) error {
	if b.ConnectionState() == BearerConnected {
		if err := b.Disconnect(ctx); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, cur := range m.bearers {
		if cur == b {
			m.bearers = append(m.bearers[:i], m.bearers[i+1:]...)
			return nil
		}
	}
	return core.Newf(core.KindNotFound, "bearer %s not on this modem", b.Path)
}

// Connect establishes the data session through the owning modem's
// serializer.
func (b *Bearer) Connect(ctx context.Context) error {
	_, err := b.m.ops.Run(ctx, "bearer-connect", func(ctx context.Context) (interface{}, error) {
		return nil, b.connect(ctx)
	})
	return err
}

func (b *Bearer) connect(ctx context.Context) error {
	if !b.m.State().atLeastEnabled() {
		return core.Newf(core.KindWrongState, "cannot connect in state %s", b.m.State())
	}
	switch b.ConnectionState() {
	case BearerConnected:
		return nil
	case BearerConnecting, BearerDisconnecting:
		return core.New(core.KindWrongState, "bearer is busy")
	}

	b.setState(BearerConnecting)
	b.m.setState(StateConnecting)

	ipv4, ipv6, err := b.m.helper().bearerBackend().connect(ctx, b)
	if err != nil {
		b.clearConnection()
		b.setState(BearerDisconnected)
		b.m.reg.applyPending()
		return err
	}

	b.mu.Lock()
	b.ipv4, b.ipv6 = ipv4, ipv6
	port := b.dataPort
	b.mu.Unlock()
	if port != nil {
		port.Connected = true
	}
	b.setState(BearerConnected)
	b.m.setState(StateConnected)
	return nil
}

// Disconnect tears the session down through the serializer.
func (b *Bearer) Disconnect(ctx context.Context) error {
	_, err := b.m.ops.Run(ctx, "bearer-disconnect", func(ctx context.Context) (interface{}, error) {
		return nil, b.disconnect(ctx)
	})
	return err
}

func (b *Bearer) disconnect(ctx context.Context) error {
	switch b.ConnectionState() {
	case BearerDisconnected:
		return nil
	case BearerConnecting, BearerDisconnecting:
		return core.New(core.KindWrongState, "bearer is busy")
	}

	b.setState(BearerDisconnecting)
	b.m.setState(StateDisconnecting)
	err := b.m.helper().bearerBackend().disconnect(ctx, b)
	if err != nil {
		b.setState(BearerConnected)
		b.m.setState(StateConnected)
		return err
	}
	b.clearConnection()
	b.setState(BearerDisconnected)
	b.m.reg.applyPending()
	return nil
}

// clearConnection drops the data-port reference, the packet data handle
// and the IP configurations.
func (b *Bearer) clearConnection() {
	b.mu.Lock()
	port := b.dataPort
	b.dataPort = nil
	b.packetHandle = 0
	b.ipv4, b.ipv6 = nil, nil
	b.mu.Unlock()
	if port != nil {
		port.Connected = false
	}
}

// ReportDisconnection is the indication hook: the network dropped the
// session without a local disconnect.
func (b *Bearer) ReportDisconnection() {
	if b.ConnectionState() != BearerConnected {
		return
	}
	b.m.log.Info().Str("bearer", b.Path).Msg("connection dropped by the network")
	b.clearConnection()
	b.setState(BearerDisconnected)
	b.m.reg.applyPending()
}

// reportBearerDisconnection fans a PDN-dropped indication out to every
// connected bearer.
func (m *Modem) reportBearerDisconnection() {
	for _, b := range m.Bearers() {
		b.ReportDisconnection()
	}
}
