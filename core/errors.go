// Package core defines the error taxonomy shared by every modemd component.
package core

import "fmt"

// Kind classifies an error for callers that dispatch on failure class
// rather than on the exact failure site.
type Kind int

const (
	// KindTransport covers ports that could not be opened, broken framing
	// and wire timeouts.
	KindTransport Kind = iota
	// KindProtocol is a negative result reported by the peer, carrying the
	// AT equipment-error number or the QMI result code.
	KindProtocol
	// KindUnsupported marks a feature probed and declared absent.
	KindUnsupported
	// KindInvalidArgument is caller-visible and returned synchronously.
	KindInvalidArgument
	// KindCancelled means the operation observed its cancellation token.
	KindCancelled
	// KindWrongState means the modem is not in a lifecycle state that
	// permits the operation.
	KindWrongState
	// KindNotFound means an object path lookup failed.
	KindNotFound
	// KindTooMany means a list cap was reached.
	KindTooMany
	// KindDispatcherFailed means a helper script run failed.
	KindDispatcherFailed
	// KindSimFailure is a severe SIM read failure; it promotes the owning
	// modem to the failed state.
	KindSimFailure
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindUnsupported:
		return "unsupported"
	case KindInvalidArgument:
		return "invalid-argument"
	case KindCancelled:
		return "cancelled"
	case KindWrongState:
		return "wrong-state"
	case KindNotFound:
		return "not-found"
	case KindTooMany:
		return "too-many"
	case KindDispatcherFailed:
		return "dispatcher-failed"
	case KindSimFailure:
		return "sim-failure"
	default:
		return "unknown"
	}
}

// Error is a structured error record surfaced to users: a kind, an optional
// peer-reported code and a human-readable detail string.
type Error struct {
	Kind   Kind
	Code   int
	Detail string
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Code, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// New builds an Error with no peer code.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Newf builds an Error with a formatted detail string.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// NewCode builds an Error carrying a peer-reported code.
func NewCode(kind Kind, code int, detail string) *Error {
	return &Error{Kind: kind, Code: code, Detail: detail}
}

// KindOf reports the kind of err, or ok=false if err carries no kind.
func KindOf(err error) (Kind, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return 0, false
}

// Is reports whether err is classified under kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
