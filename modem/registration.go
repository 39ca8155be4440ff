package modem

import (
	"fmt"
	"sync"
)

// Domain is a registration domain tracked independently.
type Domain int

// The tracked domains.
const (
	DomainCS Domain = iota
	DomainPS
	DomainEPS
)

func (d Domain) String() string {
	switch d {
	case DomainCS:
		return "cs"
	case DomainPS:
		return "ps"
	default:
		return "eps"
	}
}

// RegState is the normalized registration state.
type RegState int

// The normalized states.
const (
	RegUnknown RegState = iota
	RegIdle
	RegSearching
	RegHome
	RegRoaming
	RegDenied
)

func (s RegState) String() string {
	switch s {
	case RegIdle:
		return "idle"
	case RegSearching:
		return "searching"
	case RegHome:
		return "home"
	case RegRoaming:
		return "roaming"
	case RegDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// Registered reports whether s means service is available.
func (s RegState) Registered() bool {
	return s == RegHome || s == RegRoaming
}

// RegistrationSnapshot is the per-domain view handed to consumers.
type RegistrationSnapshot struct {
	State        RegState
	OperatorCode string
	OperatorName string
	LAC          uint32
	CellID       uint32
}

// regStateFromCreg maps a +CREG/+CGREG/+CEREG <stat> field.
func regStateFromCreg(stat int) RegState {
	switch stat {
	case 0:
		return RegIdle
	case 1:
		return RegHome
	case 2:
		return RegSearching
	case 3:
		return RegDenied
	case 5:
		return RegRoaming
	default:
		return RegUnknown
	}
}

// QMI serving-system registration states.
const (
	qmiRegNotRegistered = 0
	qmiRegRegistered    = 1
	qmiRegSearching     = 2
	qmiRegDenied        = 3
	qmiRegUnknown       = 4
)

// normalizeQMIReg combines the QMI registration and attach states with the
// roaming indicator into the normalized state.
func normalizeQMIReg(regState, attachState uint8, roaming bool) RegState {
	switch regState {
	case qmiRegRegistered:
		if attachState != 1 {
			return RegSearching
		}
		if roaming {
			return RegRoaming
		}
		return RegHome
	case qmiRegSearching:
		return RegSearching
	case qmiRegNotRegistered:
		return RegIdle
	case qmiRegDenied:
		return RegDenied
	default:
		return RegUnknown
	}
}

// regTracker folds serving-system updates into per-domain snapshots and
// mirrors the aggregate onto the modem lifecycle state.
type regTracker struct {
	m *Modem

	mu        sync.Mutex
	snapshots map[Domain]RegistrationSnapshot
	operator  string
	name      string
}

func newRegTracker(m *Modem) *regTracker {
	return &regTracker{
		m:         m,
		snapshots: make(map[Domain]RegistrationSnapshot),
	}
}

func (r *regTracker) setOperator(code, name string) {
	r.mu.Lock()
	r.operator = code
	r.name = name
	for d, snap := range r.snapshots {
		snap.OperatorCode = code
		snap.OperatorName = name
		r.snapshots[d] = snap
	}
	r.mu.Unlock()
	r.m.notify("modem", "Operator", code)
}

func (r *regTracker) update(domain Domain, state RegState, operatorCode string, lac, cellID uint32) {
	r.mu.Lock()
	snap := r.snapshots[domain]
	changed := snap.State != state
	snap.State = state
	if operatorCode != "" {
		snap.OperatorCode = operatorCode
		r.operator = operatorCode
	} else if snap.OperatorCode == "" {
		snap.OperatorCode = r.operator
	}
	snap.OperatorName = r.name
	if lac != 0 {
		snap.LAC = lac
	}
	if cellID != 0 {
		snap.CellID = cellID
	}
	r.snapshots[domain] = snap
	r.mu.Unlock()

	if changed {
		r.m.notify("modem", fmt.Sprintf("Registration.%s", domain), state)
	}
	r.applyPending()
}

// applyPending mirrors the best registration state onto the modem
// lifecycle, without touching connected/connecting modems.
func (r *regTracker) applyPending() {
	s := r.m.State()
	if !s.atLeastEnabled() || s == StateConnected || s == StateConnecting || s == StateDisconnecting {
		return
	}
	best := r.best()
	switch {
	case best.Registered():
		r.m.setState(StateRegistered)
	case best == RegSearching:
		r.m.setState(StateSearching)
	default:
		r.m.setState(StateEnabled)
	}
}

func (r *regTracker) best() RegState {
	r.mu.Lock()
	defer r.mu.Unlock()
	best := RegUnknown
	for _, snap := range r.snapshots {
		switch snap.State {
		case RegHome, RegRoaming:
			return snap.State
		case RegSearching:
			best = RegSearching
		case RegIdle:
			if best != RegSearching {
				best = RegIdle
			}
		}
	}
	return best
}

func (r *regTracker) snapshot(domain Domain) RegistrationSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshots[domain]
}

// SynthesizeOperatorCode renders MCC+MNC. The MCC is always three digits.
// With the PCS-digit flag the MNC is three digits; otherwise a heuristic
// picks three digits for values over 99, which misrenders leading-zero
// MNCs and is logged when it decides.
func (m *Modem) SynthesizeOperatorCode(mcc, mnc uint16, pcsDigit bool) string {
	if pcsDigit {
		return fmt.Sprintf("%03d%03d", mcc, mnc)
	}
	m.log.Warn().
		Uint16("mcc", mcc).
		Uint16("mnc", mnc).
		Msg("no PCS digit reported, guessing MNC width")
	if mnc >= 100 {
		return fmt.Sprintf("%03d%03d", mcc, mnc)
	}
	return fmt.Sprintf("%03d%02d", mcc, mnc)
}
