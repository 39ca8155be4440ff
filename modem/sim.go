package modem

import (
	"context"
	"errors"
	"sync"

	"github.com/linux-mobile-broadband/modemd/at"
	"github.com/linux-mobile-broadband/modemd/core"
)

// LockType is the active SIM lock.
type LockType int

// The lock states tracked per SIM.
const (
	LockNone LockType = iota
	LockPin
	LockPuk
	LockPin2
	LockPuk2
	LockNetworkPerso
)

func (l LockType) String() string {
	switch l {
	case LockNone:
		return "none"
	case LockPin:
		return "pin"
	case LockPuk:
		return "puk"
	case LockPin2:
		return "pin2"
	case LockPuk2:
		return "puk2"
	case LockNetworkPerso:
		return "network-perso"
	default:
		return "unknown"
	}
}

// SIM is the card object owned by its modem. Mutation happens only inside
// modem operations; accessors snapshot under the lock.
type SIM struct {
	Path string

	mu      sync.Mutex
	iccid   string
	imsi    string
	lock    LockType
	retries map[LockType]int
}

// ICCID returns the card identifier.
func (s *SIM) ICCID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.iccid
}

// IMSI returns the subscriber identity, empty while locked.
func (s *SIM) IMSI() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.imsi
}

// Lock returns the active lock.
func (s *SIM) Lock() LockType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lock
}

// Retries returns the remaining attempts for lock, -1 when unknown.
func (s *SIM) Retries(lock LockType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.retries[lock]; ok {
		return n
	}
	return -1
}

func (s *SIM) setRetries(retries map[LockType]int) {
	if retries == nil {
		return
	}
	s.mu.Lock()
	s.retries = retries
	s.mu.Unlock()
}

func (s *SIM) setLock(lock LockType) {
	s.mu.Lock()
	s.lock = lock
	s.mu.Unlock()
}

// decrementPessimistic lowers the local retries view after an incorrect
// password, pending the authoritative re-read.
func (s *SIM) decrementPessimistic(lock LockType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.retries[lock]; ok && n > 0 {
		s.retries[lock] = n - 1
	}
}

// SendPin attempts a PIN unlock.
func (m *Modem) SendPin(ctx context.Context, pin string) error {
	return m.simOpAttempt(ctx, "send-pin", LockPin, func(ctx context.Context) error {
		return m.helper().simSendPin(ctx, pin)
	})
}

// SendPuk attempts a PUK unlock, setting a new PIN.
func (m *Modem) SendPuk(ctx context.Context, puk, newPin string) error {
	return m.simOpAttempt(ctx, "send-puk", LockPuk, func(ctx context.Context) error {
		return m.helper().simSendPuk(ctx, puk, newPin)
	})
}

// ChangePin replaces the PIN; the SIM must be unlocked.
func (m *Modem) ChangePin(ctx context.Context, oldPin, newPin string) error {
	return m.simOpAttempt(ctx, "change-pin", LockPin, func(ctx context.Context) error {
		return m.helper().simChangePin(ctx, oldPin, newPin)
	})
}

// EnablePin switches PIN protection on or off.
func (m *Modem) EnablePin(ctx context.Context, pin string, enable bool) error {
	return m.simOpAttempt(ctx, "enable-pin", LockPin, func(ctx context.Context) error {
		return m.helper().simEnablePin(ctx, pin, enable)
	})
}

// simOpAttempt runs one unlock attempt: the helper call, a pessimistic
// retries decrement on an incorrect password, and the authoritative
// re-read of retries and lock state afterwards.
func (m *Modem) simOpAttempt(ctx context.Context, name string, lock LockType, attempt func(ctx context.Context) error) error {
	_, err := m.ops.Run(ctx, name, func(ctx context.Context) (interface{}, error) {
		sim := m.SIM()
		if sim == nil {
			return nil, core.New(core.KindWrongState, "no SIM present")
		}
		attemptErr := attempt(ctx)
		if attemptErr != nil && isIncorrectPassword(attemptErr) {
			sim.decrementPessimistic(lock)
		}

		if retries, err := m.helper().loadUnlockRetries(ctx); err == nil {
			sim.setRetries(retries)
		}
		if fresh, err := m.helper().loadSIM(ctx); err == nil {
			sim.setLock(fresh.Lock())
			if imsi := fresh.IMSI(); imsi != "" {
				sim.mu.Lock()
				sim.imsi = imsi
				sim.mu.Unlock()
			}
		} else if core.Is(err, core.KindSimFailure) {
			m.fail(err)
			return nil, err
		}
		m.notify("sim", "Lock", sim.Lock())
		return nil, attemptErr
	})
	return err
}

func isIncorrectPassword(err error) bool {
	var cme *at.EquipmentError
	if errors.As(err, &cme) {
		return cme.Code == at.CmeIncorrectPassword
	}
	return core.Is(err, core.KindProtocol)
}
