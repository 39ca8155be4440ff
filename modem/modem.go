package modem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/linux-mobile-broadband/modemd/core"
	"github.com/linux-mobile-broadband/modemd/transport"
)

// PortConfig declares one device endpoint of a modem.
type PortConfig struct {
	Name   string
	Device string
	Kind   PortKind
	Baud   int
}

// Config describes a modem before construction. Quirks are delivered by
// the plugin layer.
type Config struct {
	Name  string
	Ports []PortConfig

	// USB identity tags from discovery.
	VendorID  uint16
	ProductID uint16
	Driver    string

	// NoReset disables ATZ on models where it reboots the device.
	NoReset bool
	// MaxBearers caps the bearer list; 1 when zero.
	MaxBearers int
	// SignalRate is the default refresh interval in seconds; 0 disables.
	SignalRate int

	// Transport overrides backend construction; tests inject mocks here.
	Transport transport.Transport

	Logger zerolog.Logger
}

// PropertyFunc observes property changes on a modem and its children.
type PropertyFunc func(object, property string, value interface{})

// Modem is one managed device. All mutation happens inside operations run
// by the owning serializer; accessors take a snapshot under the lock.
type Modem struct {
	ID   int
	Path string

	cfg Config
	log zerolog.Logger
	ops *Serializer

	mu         sync.Mutex
	state      State
	power      PowerState
	caps       Capability
	ports      []*Port
	trans      transport.Transport
	proto      protoHelper
	sim     *SIM
	bearers []*Bearer

	manufacturer string
	model        string
	revision     string
	equipmentID  string
	deviceID     string

	supportedBands []string
	currentBands   []string

	reg    *regTracker
	signal *signalEngine
	sms    *SMSStore

	// wasEnabled records the pre-sleep state so resume can re-enable.
	wasEnabled bool

	onProperty PropertyFunc
}

// New constructs a modem record in the unknown state. Initialize must run
// before anything else.
func New(id int, cfg Config) *Modem {
	if cfg.MaxBearers == 0 {
		cfg.MaxBearers = 1
	}
	log := cfg.Logger.With().Str("comp", "modem").Str("modem", cfg.Name).Logger()
	m := &Modem{
		ID:    id,
		cfg:   cfg,
		log:   log,
		ops:   NewSerializer(log),
		state: StateUnknown,
		power: PowerUnknown,
	}
	for i := range cfg.Ports {
		pc := cfg.Ports[i]
		m.ports = append(m.ports, &Port{Kind: pc.Kind, Name: pc.Name, Device: pc.Device})
	}
	m.reg = newRegTracker(m)
	m.signal = newSignalEngine(m)
	m.sms = newSMSStore(m)
	return m
}

// OnProperty installs the property-change observer.
func (m *Modem) OnProperty(fn PropertyFunc) {
	m.mu.Lock()
	m.onProperty = fn
	m.mu.Unlock()
}

func (m *Modem) notify(object, property string, value interface{}) {
	m.mu.Lock()
	fn := m.onProperty
	m.mu.Unlock()
	if fn != nil {
		fn(object, property, value)
	}
}

// State returns the current lifecycle state.
func (m *Modem) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Modem) setState(s State) {
	m.mu.Lock()
	old := m.state
	m.state = s
	m.mu.Unlock()
	if old != s {
		m.log.Info().Stringer("old", old).Stringer("new", s).Msg("state changed")
		m.notify("modem", "State", s)
	}
}

func (m *Modem) setPower(p PowerState) {
	m.mu.Lock()
	old := m.power
	m.power = p
	trans := m.trans
	m.mu.Unlock()
	if old != p {
		// Any power state change invalidates memoized responses.
		if trans != nil {
			trans.FlushCache()
		}
		m.notify("modem", "PowerState", p)
	}
}

// PowerState returns the current radio power state.
func (m *Modem) PowerState() PowerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.power
}

// Capabilities returns the capability mask loaded at initialization.
func (m *Modem) Capabilities() Capability {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.caps
}

// Identity returns manufacturer, model, revision and equipment identifier.
func (m *Modem) Identity() (manufacturer, model, revision, equipmentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.manufacturer, m.model, m.revision, m.equipmentID
}

// DeviceID returns the stable identifier hash established at
// initialization.
func (m *Modem) DeviceID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deviceID
}

// SIM returns the SIM object, nil before initialization.
func (m *Modem) SIM() *SIM {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sim
}

// Transport returns the active backend session.
func (m *Modem) Transport() transport.Transport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trans
}

// Ports returns a snapshot of the port inventory.
func (m *Modem) Ports() []*Port {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Port, len(m.ports))
	copy(out, m.ports)
	return out
}

// Registration returns the latest registration snapshot for domain.
func (m *Modem) Registration(domain Domain) RegistrationSnapshot {
	return m.reg.snapshot(domain)
}

// Signals returns the latest per-technology signal records.
func (m *Modem) Signals() []Signal {
	return m.signal.current()
}

// SMS returns the message store.
func (m *Modem) SMS() *SMSStore {
	return m.sms
}

// InFlightOps reports how many operations run right now; never above one.
func (m *Modem) InFlightOps() int {
	return m.ops.InFlight()
}

// findPort returns the first port of kind, or nil.
func (m *Modem) findPort(kind PortKind) *Port {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.ports {
		if p.Kind == kind {
			return p
		}
	}
	return nil
}

// buildTransport constructs the backend session from the port inventory.
// Backend selection is a single switch: a QMI control port wins, otherwise
// the AT ports carry control.
func (m *Modem) buildTransport() (transport.Transport, error) {
	if m.cfg.Transport != nil {
		return m.cfg.Transport, nil
	}
	if qmiPort := m.findPort(PortQMIControl); qmiPort != nil {
		return newQMIBackend(qmiPort, m.log), nil
	}
	primary := m.findPort(PortPrimaryAT)
	if primary == nil {
		return nil, core.New(core.KindTransport, "no usable control port")
	}
	secondary := m.findPort(PortSecondaryAT)
	return newATBackend(primary, secondary, m.log), nil
}

// Reset issues the generic soft reset. Models carrying the no-reset quirk
// reject it, since ATZ reboots them instead.
func (m *Modem) Reset(ctx context.Context) error {
	_, err := m.ops.Run(ctx, "reset", func(ctx context.Context) (interface{}, error) {
		if m.cfg.NoReset {
			return nil, core.New(core.KindUnsupported, "reset disabled on this model")
		}
		trans := m.Transport()
		if trans == nil || !trans.IsOpen() {
			return nil, core.New(core.KindWrongState, "transport not open")
		}
		if trans.Kind() != transport.KindAT {
			return nil, core.New(core.KindUnsupported, "reset is AT-only")
		}
		_, err := trans.Command(ctx, "ATZ", 3*time.Second, false)
		return nil, err
	})
	return err
}

// Teardown destroys the modem: bearers disconnect, the transport closes
// and the serializer drains.
func (m *Modem) Teardown(ctx context.Context) {
	m.ops.Run(ctx, "teardown", func(ctx context.Context) (interface{}, error) {
		m.signal.stop(false)
		for _, b := range m.Bearers() {
			if b.ConnectionState() == BearerConnected {
				b.disconnect(ctx)
			}
		}
		m.mu.Lock()
		trans := m.trans
		m.trans = nil
		m.mu.Unlock()
		if trans != nil {
			trans.Close()
		}
		return nil, nil
	})
	m.ops.Close()
}

// stepError annotates a ladder step failure with the step name.
func stepError(step string, err error) error {
	return fmt.Errorf("%s: %w", step, err)
}
