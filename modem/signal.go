package modem

import (
	"context"
	"sync"
	"time"

	"github.com/linux-mobile-broadband/modemd/core"
)

// Signal is one per-technology quality record.
type Signal struct {
	// Technology is one of cdma, evdo, gsm, umts, lte, nr5g.
	Technology string
	// RSSI in dBm.
	RSSI int
	// Quality in percent, derived from RSSI by linear clamping.
	Quality int
}

// QualityFromRSSI converts an RSSI in dBm to a 0..100 quality value by
// clamping into the [-113, -51] range.
func QualityFromRSSI(rssi int) int {
	if rssi < -113 {
		rssi = -113
	}
	if rssi > -51 {
		rssi = -51
	}
	return 100 - (rssi+51)*100/(-113+51)
}

// signalEngine refreshes signal records on a user-settable period and, on
// backends that support it, programs threshold-driven indications instead.
type signalEngine struct {
	m *Modem

	mu      sync.Mutex
	rate    int
	records []Signal
	ticker  *time.Ticker
	stopCh  chan struct{}

	rssiThreshold      int
	errorRateThreshold int
	thresholdsActive   bool
}

func newSignalEngine(m *Modem) *signalEngine {
	return &signalEngine{m: m}
}

func (e *signalEngine) current() []Signal {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Signal, len(e.records))
	copy(out, e.records)
	return out
}

// setRate reprograms the refresh period in seconds. Zero stops the engine
// and clears every record.
func (e *signalEngine) setRate(ctx context.Context, rate int) {
	e.mu.Lock()
	if e.rate == rate {
		e.mu.Unlock()
		return
	}
	e.rate = rate
	e.mu.Unlock()

	e.stop(rate != 0)
	if rate == 0 {
		e.m.log.Debug().Msg("signal refresh disabled")
		e.m.notify("modem", "SignalRate", 0)
		return
	}

	e.m.log.Debug().Int("rate", rate).Msg("signal refresh enabled")
	e.mu.Lock()
	e.ticker = time.NewTicker(time.Duration(rate) * time.Second)
	e.stopCh = make(chan struct{})
	ticker, stopCh := e.ticker, e.stopCh
	e.mu.Unlock()

	go e.run(ticker, stopCh)
	e.refresh(ctx)
	e.m.notify("modem", "SignalRate", rate)
}

// stop halts the ticker; keepRecords leaves the last values visible for a
// restart, a plain stop clears them within the same tick.
func (e *signalEngine) stop(keepRecords bool) {
	e.mu.Lock()
	if e.ticker != nil {
		e.ticker.Stop()
		close(e.stopCh)
		e.ticker = nil
		e.stopCh = nil
	}
	if !keepRecords {
		e.records = nil
	}
	e.mu.Unlock()
}

func (e *signalEngine) run(ticker *time.Ticker, stopCh chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			e.refresh(context.Background())
		}
	}
}

func (e *signalEngine) refresh(ctx context.Context) {
	helper := e.m.helper()
	if helper == nil {
		return
	}
	records, err := helper.querySignal(ctx)
	if err != nil {
		e.m.log.Debug().Err(err).Msg("signal query failed")
		return
	}
	e.mu.Lock()
	e.records = records
	e.mu.Unlock()
	e.m.notify("modem", "Signal", records)
}

// setThresholds programs (rssi, error-rate) thresholds. Both zero falls
// back to periodic polling; non-zero values arm backend indications when
// the backend supports them.
func (e *signalEngine) setThresholds(ctx context.Context, rssiThreshold, errorRateThreshold int) error {
	e.mu.Lock()
	e.rssiThreshold = rssiThreshold
	e.errorRateThreshold = errorRateThreshold
	e.mu.Unlock()

	if rssiThreshold == 0 && errorRateThreshold == 0 {
		e.mu.Lock()
		e.thresholdsActive = false
		e.mu.Unlock()
		return nil
	}
	helper := e.m.helper()
	if helper == nil {
		return core.New(core.KindWrongState, "modem not initialized")
	}
	if err := helper.setupThresholds(ctx, rssiThreshold, errorRateThreshold); err != nil {
		if core.Is(err, core.KindUnsupported) {
			e.m.log.Debug().Msg("thresholds unsupported, keeping periodic polling")
			return nil
		}
		return err
	}
	e.mu.Lock()
	e.thresholdsActive = true
	e.mu.Unlock()
	return nil
}

// ingest folds indication-driven records in, keeping the strongest RSSI
// per technology across reports.
func (e *signalEngine) ingest(records []Signal) {
	if len(records) == 0 {
		return
	}
	e.mu.Lock()
	merged := make(map[string]Signal, len(e.records)+len(records))
	for _, r := range e.records {
		merged[r.Technology] = r
	}
	for _, r := range records {
		if prev, ok := merged[r.Technology]; !ok || r.RSSI > prev.RSSI {
			merged[r.Technology] = r
		}
	}
	e.records = e.records[:0]
	for _, r := range merged {
		e.records = append(e.records, r)
	}
	e.mu.Unlock()
	e.m.notify("modem", "Signal", records)
}

// SetSignalRate is the user-facing rate control, serialized like any other
// modem operation.
func (m *Modem) SetSignalRate(ctx context.Context, rate int) error {
	if rate < 0 {
		return core.New(core.KindInvalidArgument, "rate must be non-negative")
	}
	_, err := m.ops.Run(ctx, "set-signal-rate", func(ctx context.Context) (interface{}, error) {
		m.signal.setRate(ctx, rate)
		return nil, nil
	})
	return err
}

// SetSignalThresholds programs threshold-based reporting.
func (m *Modem) SetSignalThresholds(ctx context.Context, rssiThreshold, errorRateThreshold int) error {
	if rssiThreshold < 0 || errorRateThreshold < 0 {
		return core.New(core.KindInvalidArgument, "thresholds must be non-negative")
	}
	_, err := m.ops.Run(ctx, "set-signal-thresholds", func(ctx context.Context) (interface{}, error) {
		return nil, m.signal.setThresholds(ctx, rssiThreshold, errorRateThreshold)
	})
	return err
}
