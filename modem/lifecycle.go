package modem

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/linux-mobile-broadband/modemd/core"
)

// protoHelper is the backend-specific half of the modem logic. The generic
// ladders call these; the AT and QMI helpers translate them to their wire
// protocol. Vendor helpers wrap one of these and call through explicitly.
type protoHelper interface {
	powerUp(ctx context.Context) error
	powerDown(ctx context.Context) error

	loadCapabilities(ctx context.Context) (Capability, error)
	loadIdentity(ctx context.Context) (manufacturer, model, revision, equipmentID string, err error)
	loadSIM(ctx context.Context) (*SIM, error)
	loadSupportedBands(ctx context.Context) ([]string, error)
	loadCurrentBands(ctx context.Context) ([]string, error)
	loadUnlockRetries(ctx context.Context) (map[LockType]int, error)
	deviceIDParts(ctx context.Context) (ati, ati1 string)

	setupEvents(ctx context.Context) error
	cleanupEvents(ctx context.Context) error
	enableModemEvents(ctx context.Context, enable bool) error
	loadOperator(ctx context.Context) (code, name string, err error)
	runRegistrationCheck(ctx context.Context) error

	querySignal(ctx context.Context) ([]Signal, error)
	setupThresholds(ctx context.Context, rssiThreshold, errorRateThreshold int) error

	simSendPin(ctx context.Context, pin string) error
	simSendPuk(ctx context.Context, puk, newPin string) error
	simChangePin(ctx context.Context, oldPin, newPin string) error
	simEnablePin(ctx context.Context, pin string, enable bool) error

	smsListParts(ctx context.Context, storage Storage) (map[int]PartState, error)
	smsReadPart(ctx context.Context, storage Storage, index int) ([]byte, error)
	smsDeletePart(ctx context.Context, storage Storage, index int) error
	smsStorePart(ctx context.Context, storage Storage, pdu []byte) (int, error)
	smsSendPDU(ctx context.Context, tpduLen int, pdu []byte) error
	smsSetupRouting(ctx context.Context) error
	smsStorages() []Storage

	bearerBackend() bearerBackend
}

// probeStep is one rung of a ladder. An optional step that fails is logged
// and skipped, whatever the error; a failing mandatory step aborts the
// ladder.
type probeStep struct {
	name     string
	optional bool
	run      func(ctx context.Context) error
}

func (m *Modem) runLadder(ctx context.Context, steps []probeStep) error {
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return core.Newf(core.KindCancelled, "%s: ladder cancelled", step.name)
		}
		if err := step.run(ctx); err != nil {
			if step.optional && core.Is(err, core.KindUnsupported) {
				m.log.Debug().Str("step", step.name).Msg("step unsupported, continuing")
				continue
			}
			if step.optional {
				m.log.Warn().Str("step", step.name).Err(err).Msg("optional step failed")
				continue
			}
			return stepError(step.name, err)
		}
	}
	return nil
}

// Initialize runs the one-time probe ladder after a physical plug-in and
// leaves the modem disabled, ready to enable.
func (m *Modem) Initialize(ctx context.Context) error {
	_, err := m.ops.Run(ctx, "initialize", func(ctx context.Context) (interface{}, error) {
		return nil, m.initialize(ctx)
	})
	return err
}

func (m *Modem) initialize(ctx context.Context) error {
	if s := m.State(); s != StateUnknown && s != StateFailed {
		return core.Newf(core.KindWrongState, "cannot initialize in state %s", s)
	}
	m.setState(StateInitializing)

	steps := []probeStep{
		{name: "open transport", run: func(ctx context.Context) error {
			trans, err := m.buildTransport()
			if err != nil {
				return err
			}
			if err := trans.Open(); err != nil {
				return err
			}
			m.mu.Lock()
			m.trans = trans
			m.mu.Unlock()
			m.helperFromTransport(trans)
			m.markControlPorts(true)
			return nil
		}},
		{name: "load capabilities", run: func(ctx context.Context) error {
			caps, err := m.helper().loadCapabilities(ctx)
			if err != nil {
				return err
			}
			m.mu.Lock()
			m.caps = caps
			m.mu.Unlock()
			return nil
		}},
		{name: "load identity", run: func(ctx context.Context) error {
			manufacturer, model, revision, equipmentID, err := m.helper().loadIdentity(ctx)
			if err != nil {
				return err
			}
			m.mu.Lock()
			m.manufacturer, m.model, m.revision, m.equipmentID = manufacturer, model, revision, equipmentID
			m.mu.Unlock()
			return nil
		}},
		{name: "load sim", run: func(ctx context.Context) error {
			sim, err := m.helper().loadSIM(ctx)
			if err != nil {
				if core.Is(err, core.KindSimFailure) {
					return err
				}
				m.log.Warn().Err(err).Msg("sim unavailable")
				return nil
			}
			m.mu.Lock()
			m.sim = sim
			m.mu.Unlock()
			return nil
		}},
		{name: "load supported bands", optional: true, run: func(ctx context.Context) error {
			bands, err := m.helper().loadSupportedBands(ctx)
			if err != nil {
				return err
			}
			m.mu.Lock()
			m.supportedBands = bands
			m.mu.Unlock()
			return nil
		}},
		{name: "load current bands", optional: true, run: func(ctx context.Context) error {
			bands, err := m.helper().loadCurrentBands(ctx)
			if err != nil {
				return err
			}
			m.mu.Lock()
			m.currentBands = bands
			m.mu.Unlock()
			return nil
		}},
		{name: "load unlock retries", optional: true, run: func(ctx context.Context) error {
			retries, err := m.helper().loadUnlockRetries(ctx)
			if err != nil {
				return err
			}
			m.mu.Lock()
			if m.sim != nil {
				m.sim.setRetries(retries)
			}
			m.mu.Unlock()
			return nil
		}},
		{name: "establish device id", run: func(ctx context.Context) error {
			ati, ati1 := m.helper().deviceIDParts(ctx)
			m.mu.Lock()
			m.deviceID = deviceIDHash(m.manufacturer, m.model, m.revision, ati, ati1)
			m.mu.Unlock()
			return nil
		}},
	}

	if err := m.runLadder(ctx, steps); err != nil {
		m.fail(err)
		return err
	}
	m.setState(StateDisabled)
	return nil
}

// Enable climbs the enabling ladder: power up, event plumbing, 3GPP
// interfaces. On success the modem is enabled and registration tracking
// runs.
func (m *Modem) Enable(ctx context.Context) error {
	_, err := m.ops.Run(ctx, "enable", func(ctx context.Context) (interface{}, error) {
		return nil, m.enable(ctx)
	})
	return err
}

func (m *Modem) enable(ctx context.Context) error {
	switch s := m.State(); s {
	case StateDisabled:
	case StateEnabled, StateSearching, StateRegistered, StateConnected:
		return nil
	default:
		return core.Newf(core.KindWrongState, "cannot enable in state %s", s)
	}
	m.setState(StateEnabling)

	steps := []probeStep{
		{name: "power up", run: func(ctx context.Context) error {
			if err := m.helper().powerUp(ctx); err != nil {
				// A device that does not implement explicit power control
				// is already on.
				if core.Is(err, core.KindUnsupported) {
					m.log.Debug().Msg("power-up unsupported, assuming powered")
				} else {
					return err
				}
			}
			m.setPower(PowerOn)
			return nil
		}},
		{name: "setup unsolicited handlers", run: func(ctx context.Context) error {
			return m.helper().setupEvents(ctx)
		}},
		{name: "enable unsolicited events", optional: true, run: func(ctx context.Context) error {
			return m.helper().enableModemEvents(ctx, true)
		}},
		{name: "enable 3gpp", run: func(ctx context.Context) error {
			code, name, err := m.helper().loadOperator(ctx)
			if err != nil {
				m.log.Warn().Err(err).Msg("operator unavailable")
			} else {
				m.reg.setOperator(code, name)
			}
			return m.helper().runRegistrationCheck(ctx)
		}},
		{name: "setup sms routing", optional: true, run: func(ctx context.Context) error {
			return m.helper().smsSetupRouting(ctx)
		}},
		{name: "load sms parts", optional: true, run: func(ctx context.Context) error {
			return m.sms.refresh(ctx)
		}},
	}

	if err := m.runLadder(ctx, steps); err != nil {
		m.fail(err)
		return err
	}
	m.setState(StateEnabled)
	m.reg.applyPending()
	if m.cfg.SignalRate > 0 {
		m.signal.setRate(ctx, m.cfg.SignalRate)
	}
	return nil
}

// Disable runs the inverse ladder and leaves the modem disabled.
func (m *Modem) Disable(ctx context.Context) error {
	_, err := m.ops.Run(ctx, "disable", func(ctx context.Context) (interface{}, error) {
		return nil, m.disable(ctx, false)
	})
	return err
}

func (m *Modem) disable(ctx context.Context, quiesce bool) error {
	s := m.State()
	if s == StateDisabled {
		return nil
	}
	if !s.atLeastEnabled() && s != StateEnabling {
		return core.Newf(core.KindWrongState, "cannot disable in state %s", s)
	}
	m.setState(StateDisabling)

	m.signal.stop(true)
	for _, b := range m.Bearers() {
		if b.ConnectionState() == BearerConnected {
			if err := b.disconnect(ctx); err != nil {
				m.log.Warn().Err(err).Str("bearer", b.Path).Msg("disconnect on disable failed")
			}
		}
	}

	steps := []probeStep{
		{name: "disable unsolicited events", optional: true, run: func(ctx context.Context) error {
			return m.helper().enableModemEvents(ctx, false)
		}},
		{name: "cleanup unsolicited handlers", optional: true, run: func(ctx context.Context) error {
			return m.helper().cleanupEvents(ctx)
		}},
		{name: "power down", run: func(ctx context.Context) error {
			if quiesce {
				return nil
			}
			if err := m.helper().powerDown(ctx); err != nil {
				if core.Is(err, core.KindUnsupported) {
					return nil
				}
				return err
			}
			m.setPower(PowerLow)
			return nil
		}},
	}
	if err := m.runLadder(ctx, steps); err != nil {
		m.fail(err)
		return err
	}
	m.setState(StateDisabled)
	return nil
}

// fail moves the modem to the failed state and closes the transport.
func (m *Modem) fail(err error) {
	m.log.Error().Err(err).Msg("modem failed")
	m.mu.Lock()
	trans := m.trans
	m.mu.Unlock()
	if trans != nil {
		trans.Close()
	}
	m.markControlPorts(false)
	m.setState(StateFailed)
}

func (m *Modem) markControlPorts(open bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.ports {
		switch p.Kind {
		case PortPrimaryAT, PortSecondaryAT, PortQMIControl:
			p.Open = open
		}
	}
}

// Quiesce prepares for host sleep: record whether we were enabled, drop
// event plumbing and close the transport.
func (m *Modem) Quiesce(ctx context.Context) error {
	_, err := m.ops.Run(ctx, "quiesce", func(ctx context.Context) (interface{}, error) {
		enabled := m.State().atLeastEnabled()
		m.mu.Lock()
		m.wasEnabled = enabled
		m.mu.Unlock()
		if enabled {
			if err := m.disable(ctx, true); err != nil {
				return nil, err
			}
		}
		m.mu.Lock()
		trans := m.trans
		m.mu.Unlock()
		if trans != nil {
			trans.Close()
		}
		m.markControlPorts(false)
		return nil, nil
	})
	return err
}

// Resume reopens the transport after host wake and re-runs the enabling
// ladder when the modem was enabled before sleep.
func (m *Modem) Resume(ctx context.Context) error {
	_, err := m.ops.Run(ctx, "resume", func(ctx context.Context) (interface{}, error) {
		m.mu.Lock()
		trans := m.trans
		wasEnabled := m.wasEnabled
		m.mu.Unlock()
		if trans != nil {
			if err := trans.Open(); err != nil {
				m.fail(err)
				return nil, err
			}
			m.markControlPorts(true)
		}
		if wasEnabled {
			return nil, m.enable(ctx)
		}
		return nil, nil
	})
	return err
}

func (m *Modem) helper() protoHelper {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.proto
}

// deviceIDHash derives the stable device identifier from identity strings.
// For QMI modems the ATI segments are empty.
func deviceIDHash(manufacturer, model, revision, ati, ati1 string) string {
	h := sha256.New()
	h.Write([]byte(manufacturer))
	h.Write([]byte{0})
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(revision))
	h.Write([]byte{0})
	h.Write([]byte(ati))
	h.Write([]byte{0})
	h.Write([]byte(ati1))
	return hex.EncodeToString(h.Sum(nil))
}
