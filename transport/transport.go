// Package transport fronts the AT and QMI backends with the single
// capability surface the modem logic consumes, so that everything above
// it is agnostic of the control protocol in use.
package transport

import (
	"context"
	"time"

	"github.com/linux-mobile-broadband/modemd/at"
	"github.com/linux-mobile-broadband/modemd/core"
	"github.com/linux-mobile-broadband/modemd/qmi"
)

// Kind tags the backend behind a Transport.
type Kind int

// The supported backends.
const (
	KindAT Kind = iota
	KindQMI
)

func (k Kind) String() string {
	if k == KindQMI {
		return "qmi"
	}
	return "at"
}

// Transport is the uniform session contract. Lifecycle methods are
// idempotent. Command is only served by AT backends and Invoke only by
// QMI backends; the wrong call yields an unsupported error.
type Transport interface {
	Kind() Kind
	IsOpen() bool
	Open() error
	Close() error

	// Command issues an AT command and returns the payload lines.
	Command(ctx context.Context, cmd string, timeout time.Duration, cacheable bool) (string, error)
	// Invoke sends a QMI request on the client of service.
	Invoke(ctx context.Context, service qmi.Service, msgID uint16, in qmi.TLVs, timeout time.Duration) (qmi.TLVs, error)

	// SubscribeUnsolicited registers an AT unsolicited handler by regex.
	SubscribeUnsolicited(pattern string, fn at.URCFunc) error
	// UnsubscribeUnsolicited removes a registered AT handler.
	UnsubscribeUnsolicited(pattern string)
	// SubscribeIndication registers a QMI indication listener.
	SubscribeIndication(service qmi.Service, msgID uint16, fn func(qmi.TLVs))
	// UnsubscribeIndication removes the listeners of (service, msgID).
	UnsubscribeIndication(service qmi.Service, msgID uint16)

	// FlushCache drops memoized command responses after a power change.
	FlushCache()
}

// ATTransport drives a modem over its AT ports. The secondary port is the
// fallback used when the primary is blocked by data traffic.
type ATTransport struct {
	Primary   *at.Port
	Secondary *at.Port
}

// NewAT wraps a primary and an optional secondary port.
func NewAT(primary, secondary *at.Port) *ATTransport {
	return &ATTransport{Primary: primary, Secondary: secondary}
}

// Kind reports the backend type.
func (t *ATTransport) Kind() Kind { return KindAT }

// IsOpen reports whether the command path is usable.
func (t *ATTransport) IsOpen() bool { return t.Primary.IsOpen() }

// Open opens the primary port and, when present, the secondary one. A
// failing secondary is not fatal; the primary alone carries commands.
func (t *ATTransport) Open() error {
	if err := t.Primary.Open(); err != nil {
		return err
	}
	if t.Secondary != nil {
		_ = t.Secondary.Open()
	}
	return nil
}

// Close closes both ports.
func (t *ATTransport) Close() error {
	err := t.Primary.Close()
	if t.Secondary != nil {
		if err2 := t.Secondary.Close(); err == nil {
			err = err2
		}
	}
	return err
}

// Command issues cmd on the first usable port.
func (t *ATTransport) Command(ctx context.Context, cmd string, timeout time.Duration, cacheable bool) (string, error) {
	return t.port().SendFull(ctx, cmd, timeout, cacheable, false)
}

// CommandRaw bypasses line framing for vendor binary commands.
func (t *ATTransport) CommandRaw(ctx context.Context, cmd string, timeout time.Duration) (string, error) {
	return t.port().SendFull(ctx, cmd, timeout, false, true)
}

func (t *ATTransport) port() *at.Port {
	if !t.Primary.IsOpen() && t.Secondary != nil && t.Secondary.IsOpen() {
		return t.Secondary
	}
	return t.Primary
}

// Invoke is not served by the AT backend.
func (t *ATTransport) Invoke(ctx context.Context, service qmi.Service, msgID uint16, in qmi.TLVs, timeout time.Duration) (qmi.TLVs, error) {
	return nil, core.New(core.KindUnsupported, "QMI invoke on an AT transport")
}

// SubscribeUnsolicited registers the handler on the primary port and, when
// present, the secondary one.
func (t *ATTransport) SubscribeUnsolicited(pattern string, fn at.URCFunc) error {
	if err := t.Primary.AddUnsolicited(pattern, fn); err != nil {
		return err
	}
	if t.Secondary != nil {
		return t.Secondary.AddUnsolicited(pattern, fn)
	}
	return nil
}

// UnsubscribeUnsolicited removes the handler from every port.
func (t *ATTransport) UnsubscribeUnsolicited(pattern string) {
	t.Primary.RemoveUnsolicited(pattern)
	if t.Secondary != nil {
		t.Secondary.RemoveUnsolicited(pattern)
	}
}

// SubscribeIndication is not served by the AT backend.
func (t *ATTransport) SubscribeIndication(service qmi.Service, msgID uint16, fn func(qmi.TLVs)) {
}

// UnsubscribeIndication is not served by the AT backend.
func (t *ATTransport) UnsubscribeIndication(service qmi.Service, msgID uint16) {}

// FlushCache drops cached responses on both ports.
func (t *ATTransport) FlushCache() {
	t.Primary.FlushCache()
	if t.Secondary != nil {
		t.Secondary.FlushCache()
	}
}

// QMITransport drives a modem over a QMI control port.
type QMITransport struct {
	Port *qmi.Port
	// Services are allocated at open time; others allocate on first use.
	Services []qmi.Service
}

// NewQMI wraps a QMI control port, pre-allocating clients for services.
func NewQMI(port *qmi.Port, services ...qmi.Service) *QMITransport {
	return &QMITransport{Port: port, Services: services}
}

// Kind reports the backend type.
func (t *QMITransport) Kind() Kind { return KindQMI }

// IsOpen reports whether the control port is usable.
func (t *QMITransport) IsOpen() bool { return t.Port.IsOpen() }

// Open opens the control port and allocates the required service clients.
func (t *QMITransport) Open() error {
	if err := t.Port.Open(); err != nil {
		return err
	}
	for _, svc := range t.Services {
		if _, err := t.Port.AllocateClient(svc); err != nil {
			t.Port.Close()
			return err
		}
	}
	return nil
}

// Close releases the control port.
func (t *QMITransport) Close() error { return t.Port.Close() }

// Command is not served by the QMI backend.
func (t *QMITransport) Command(ctx context.Context, cmd string, timeout time.Duration, cacheable bool) (string, error) {
	return "", core.New(core.KindUnsupported, "AT command on a QMI transport")
}

// Invoke allocates the service client if needed and sends the request.
func (t *QMITransport) Invoke(ctx context.Context, service qmi.Service, msgID uint16, in qmi.TLVs, timeout time.Duration) (qmi.TLVs, error) {
	client, err := t.Port.AllocateClient(service)
	if err != nil {
		return nil, err
	}
	return t.Port.Request(ctx, client, msgID, in, timeout)
}

// Client exposes the allocated client for version gating.
func (t *QMITransport) Client(service qmi.Service) (*qmi.Client, error) {
	return t.Port.AllocateClient(service)
}

// SubscribeUnsolicited is not served by the QMI backend.
func (t *QMITransport) SubscribeUnsolicited(pattern string, fn at.URCFunc) error {
	return core.New(core.KindUnsupported, "AT unsolicited on a QMI transport")
}

// UnsubscribeUnsolicited is not served by the QMI backend.
func (t *QMITransport) UnsubscribeUnsolicited(pattern string) {}

// SubscribeIndication registers the listener on the control port.
func (t *QMITransport) SubscribeIndication(service qmi.Service, msgID uint16, fn func(qmi.TLVs)) {
	t.Port.RegisterIndication(service, msgID, fn)
}

// UnsubscribeIndication removes the listeners of (service, msgID).
func (t *QMITransport) UnsubscribeIndication(service qmi.Service, msgID uint16) {
	t.Port.UnregisterIndications(service, msgID)
}

// FlushCache is a no-op for QMI; nothing is memoized at this layer.
func (t *QMITransport) FlushCache() {}
