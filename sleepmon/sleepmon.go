// Package sleepmon coordinates host sleep with modem quiescing: a delay
// inhibitor is held while modems shut their transports down, and dropped
// once every modem reported in or the grace period ran out.
package sleepmon

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultQuiesceTimeout bounds how long the host is kept awake.
const DefaultQuiesceTimeout = 5 * time.Second

// Inhibitor is the host sleep subsystem interface. Acquire blocks sleep
// until Release; both are idempotent at this layer.
type Inhibitor interface {
	Acquire(reason string) error
	Release()
}

// SleepContext is the completion token fanned out to every modem on the
// sleep-imminent signal. Each participant calls Complete once; the
// coordinator waits for all of them or for the timeout.
type SleepContext struct {
	Token string

	mu       sync.Mutex
	expected int
	done     int
	deadline time.Time
	finished chan struct{}
	closed   bool
}

func newSleepContext(expected int, timeout time.Duration) *SleepContext {
	return &SleepContext{
		Token:    uuid.NewString(),
		expected: expected,
		deadline: time.Now().Add(timeout),
		finished: make(chan struct{}),
	}
}

// Complete signals that one participant finished quiescing. Calls after
// the timeout already fired are ignored rather than being an error.
func (c *SleepContext) Complete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.done++
	if c.done >= c.expected {
		c.closed = true
		close(c.finished)
	}
}

// ExtendTimeout pushes the deadline out for an operation legitimately
// approaching completion.
func (c *SleepContext) ExtendTimeout(extra time.Duration) {
	c.mu.Lock()
	c.deadline = c.deadline.Add(extra)
	c.mu.Unlock()
}

func (c *SleepContext) remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Until(c.deadline)
}

// Registry is the modem collection the monitor fans signals out to.
type Registry interface {
	Sleeping(ctx *SleepContext)
	Resuming()
	ModemCount() int
}

// Monitor owns the inhibitor and reacts to the host sleep signals.
type Monitor struct {
	log       zerolog.Logger
	inhibitor Inhibitor
	registry  Registry
	timeout   time.Duration

	mu       sync.Mutex
	inhibited bool
}

// NewMonitor acquires the inhibitor immediately so the first sleep signal
// cannot race the setup.
func NewMonitor(inhibitor Inhibitor, registry Registry, timeout time.Duration, log zerolog.Logger) (*Monitor, error) {
	if timeout <= 0 {
		timeout = DefaultQuiesceTimeout
	}
	m := &Monitor{
		log:       log.With().Str("comp", "sleep-monitor").Logger(),
		inhibitor: inhibitor,
		registry:  registry,
		timeout:   timeout,
	}
	if err := m.acquire(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Monitor) acquire() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inhibited {
		return nil
	}
	if err := m.inhibitor.Acquire("device quiescing needed"); err != nil {
		return err
	}
	m.inhibited = true
	return nil
}

func (m *Monitor) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inhibited {
		return
	}
	m.inhibitor.Release()
	m.inhibited = false
}

// HandleSleep runs the quiescing protocol for a sleep-imminent signal and
// drops the inhibitor at the end, letting the host go down.
func (m *Monitor) HandleSleep(ctx context.Context) {
	sleepCtx := newSleepContext(m.registry.ModemCount(), m.timeout)
	m.log.Info().Str("token", sleepCtx.Token).Msg("sleep imminent, quiescing modems")
	m.registry.Sleeping(sleepCtx)

	if sleepCtx.expected > 0 {
		for {
			remaining := sleepCtx.remaining()
			if remaining <= 0 {
				m.log.Warn().Msg("quiesce timeout elapsed, sleeping anyway")
				break
			}
			timer := time.NewTimer(remaining)
			stop := false
			select {
			case <-sleepCtx.finished:
				m.log.Info().Msg("all modems quiesced")
				stop = true
			case <-timer.C:
				// Re-check: ExtendTimeout may have pushed the deadline.
			case <-ctx.Done():
				stop = true
			}
			timer.Stop()
			if stop {
				break
			}
		}
	}
	m.release()
}

// HandleResume re-acquires the inhibitor and tells every modem to reopen.
func (m *Monitor) HandleResume(ctx context.Context) {
	if err := m.acquire(); err != nil {
		m.log.Error().Err(err).Msg("could not re-acquire inhibitor")
	}
	m.log.Info().Msg("host resumed, rescanning modems")
	m.registry.Resuming()
}

// Close drops the inhibitor for process shutdown.
func (m *Monitor) Close() {
	m.release()
}
