package qmi

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/linux-mobile-broadband/modemd/core"
)

// Common errors.
var (
	ErrClosed  = errors.New("qmi: port is closed")
	ErrTimeout = errors.New("qmi: transaction timeout")
)

// ProtocolError is a response whose result TLV reported failure.
type ProtocolError struct {
	Code int
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("qmi: protocol error %d", e.Code)
}

// IsNoEffect reports whether err is the no-effect protocol error, which
// callers setting possibly-already-set state treat as success.
func IsNoEffect(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe) && pe.Code == ProtoErrNoEffect
}

// IsUnsupportedMessage reports whether err means the modem does not know
// the message at all; probe ladders downgrade the capability then.
func IsUnsupportedMessage(err error) bool {
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Code == ProtoErrInvalidQmiCommand || pe.Code == ProtoErrNotSupported
}

// Config describes a QMI control port before it is opened.
type Config struct {
	Name   string
	Device string
	// ReadWriter overrides the character device; used by tests.
	ReadWriter io.ReadWriteCloser

	Logger zerolog.Logger
}

// Client is an allocated (service, client-id) pair with its reported
// service revision.
type Client struct {
	Service Service
	ID      uint8

	port  *Port
	major uint16
	minor uint16

	txnMu sync.Mutex
	txn   uint16
}

// Supports reports whether the service revision is at least major.minor.
// Callers test it before sending messages introduced in later revisions.
func (c *Client) Supports(major, minor uint16) bool {
	if c.major != major {
		return c.major > major
	}
	return c.minor >= minor
}

func (c *Client) nextTxn() uint16 {
	c.txnMu.Lock()
	defer c.txnMu.Unlock()
	c.txn++
	if c.txn == 0 {
		c.txn = 1
	}
	return c.txn
}

type pendingKey struct {
	service Service
	client  uint8
	txn     uint16
}

type indListener struct {
	service Service
	msgID   uint16
	fn      func(TLVs)
}

// Port is an open QMI control channel multiplexing service clients.
type Port struct {
	cfg Config
	log zerolog.Logger

	mu     sync.Mutex
	rw     io.ReadWriteCloser
	opened bool
	closed chan struct{}

	clients  map[Service]*Client
	versions map[Service][2]uint16

	pendingMu sync.Mutex
	pending   map[pendingKey]chan *frame

	listenMu  sync.Mutex
	listeners []*indListener

	writeMu sync.Mutex

	ctlTxnMu sync.Mutex
	ctlTxn   uint8
}

// NewPort builds an unopened port from cfg.
func NewPort(cfg Config) *Port {
	return &Port{
		cfg:      cfg,
		log:      cfg.Logger.With().Str("comp", "qmi-port").Str("port", cfg.Name).Logger(),
		clients:  make(map[Service]*Client),
		versions: make(map[Service][2]uint16),
		pending:  make(map[pendingKey]chan *frame),
	}
}

// IsOpen reports whether the port is usable.
func (p *Port) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opened
}

// Open acquires the device, starts the reader and loads the service
// version table. Open on an open port is a no-op.
func (p *Port) Open() error {
	p.mu.Lock()
	if p.opened {
		p.mu.Unlock()
		return nil
	}
	rw := p.cfg.ReadWriter
	if rw == nil {
		f, err := os.OpenFile(p.cfg.Device, os.O_RDWR, 0)
		if err != nil {
			p.mu.Unlock()
			return core.Newf(core.KindTransport, "open %s: %v", p.cfg.Device, err)
		}
		rw = f
	}
	p.rw = rw
	p.opened = true
	p.closed = make(chan struct{})
	p.mu.Unlock()

	go p.readFrames()

	if err := p.loadVersions(); err != nil {
		p.log.Debug().Err(err).Msg("version info unavailable")
	}
	return nil
}

// Close releases every client-side resource. Pending transactions fail
// with ErrClosed. Close on a closed port is a no-op.
func (p *Port) Close() error {
	p.mu.Lock()
	if !p.opened {
		p.mu.Unlock()
		return nil
	}
	p.opened = false
	close(p.closed)
	err := p.rw.Close()
	p.clients = make(map[Service]*Client)
	p.mu.Unlock()

	p.pendingMu.Lock()
	for key, ch := range p.pending {
		close(ch)
		delete(p.pending, key)
	}
	p.pendingMu.Unlock()
	return err
}

// AllocateClient obtains a client id for service from the control service.
// Allocation is idempotent: subsequent calls return the cached client.
func (p *Port) AllocateClient(service Service) (*Client, error) {
	p.mu.Lock()
	if c, ok := p.clients[service]; ok {
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	in := TLVs{}.AppendUint8(0x01, uint8(service))
	out, err := p.request(context.Background(), ServiceCTL, 0, CtlGetClientID, in, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("allocate %s client: %w", service, err)
	}
	v, ok := out.Get(0x01)
	if !ok || len(v) < 2 || Service(v[0]) != service {
		return nil, core.Newf(core.KindTransport, "allocate %s client: malformed reply", service)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[service]; ok {
		return c, nil
	}
	c := &Client{Service: service, ID: v[1], port: p}
	if ver, ok := p.versions[service]; ok {
		c.major, c.minor = ver[0], ver[1]
	}
	p.clients[service] = c
	return c, nil
}

// Request sends message msgID on client and awaits the matching response.
// A failure result TLV becomes a ProtocolError.
func (p *Port) Request(ctx context.Context, client *Client, msgID uint16, in TLVs, timeout time.Duration) (TLVs, error) {
	return p.request(ctx, client.Service, client.ID, msgID, in, timeout)
}

func (p *Port) request(ctx context.Context, service Service, clientID uint8, msgID uint16, in TLVs, timeout time.Duration) (TLVs, error) {
	if !p.IsOpen() {
		return nil, ErrClosed
	}
	if timeout <= 0 {
		return nil, ErrTimeout
	}
	if err := ctx.Err(); err != nil {
		return nil, core.New(core.KindCancelled, "request cancelled before send")
	}

	var txn uint16
	if service == ServiceCTL {
		p.ctlTxnMu.Lock()
		p.ctlTxn++
		if p.ctlTxn == 0 {
			p.ctlTxn = 1
		}
		txn = uint16(p.ctlTxn)
		p.ctlTxnMu.Unlock()
	} else {
		p.mu.Lock()
		c := p.clients[service]
		p.mu.Unlock()
		if c == nil {
			return nil, core.Newf(core.KindTransport, "no %s client allocated", service)
		}
		txn = c.nextTxn()
	}

	key := pendingKey{service: service, client: clientID, txn: txn}
	ch := make(chan *frame, 1)
	p.pendingMu.Lock()
	p.pending[key] = ch
	p.pendingMu.Unlock()
	defer func() {
		p.pendingMu.Lock()
		delete(p.pending, key)
		p.pendingMu.Unlock()
	}()

	raw := marshalFrame(service, clientID, txn, msgID, in)
	p.writeMu.Lock()
	_, err := p.rw.Write(raw)
	p.writeMu.Unlock()
	if err != nil {
		return nil, core.Newf(core.KindTransport, "write: %v", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		return checkResult(f.tlvs)
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, core.New(core.KindCancelled, "request cancelled while awaiting reply")
	case <-p.closed:
		return nil, ErrClosed
	}
}

// checkResult enforces the mandatory result TLV of every response.
func checkResult(tlvs TLVs) (TLVs, error) {
	v, ok := tlvs.Get(TlvResult)
	if !ok || len(v) < 4 {
		return nil, core.New(core.KindTransport, "response without result TLV")
	}
	result := binary.LittleEndian.Uint16(v[0:2])
	code := binary.LittleEndian.Uint16(v[2:4])
	if result != 0 {
		return tlvs, &ProtocolError{Code: int(code)}
	}
	return tlvs, nil
}

// RegisterIndication attaches fn to indications of (service, msgID).
func (p *Port) RegisterIndication(service Service, msgID uint16, fn func(TLVs)) {
	p.listenMu.Lock()
	p.listeners = append(p.listeners, &indListener{service: service, msgID: msgID, fn: fn})
	p.listenMu.Unlock()
}

// UnregisterIndications drops every listener for (service, msgID).
func (p *Port) UnregisterIndications(service Service, msgID uint16) {
	p.listenMu.Lock()
	defer p.listenMu.Unlock()
	kept := p.listeners[:0]
	for _, l := range p.listeners {
		if l.service != service || l.msgID != msgID {
			kept = append(kept, l)
		}
	}
	p.listeners = kept
}

// loadVersions asks the control service for the version of every service.
func (p *Port) loadVersions() error {
	out, err := p.request(context.Background(), ServiceCTL, 0, CtlGetVersionInfo, nil, 5*time.Second)
	if err != nil {
		return err
	}
	v, ok := out.Get(0x01)
	if !ok || len(v) < 1 {
		return core.New(core.KindTransport, "malformed version info")
	}
	count := int(v[0])
	v = v[1:]
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < count && len(v) >= 5; i++ {
		svc := Service(v[0])
		p.versions[svc] = [2]uint16{
			binary.LittleEndian.Uint16(v[1:3]),
			binary.LittleEndian.Uint16(v[3:5]),
		}
		v = v[5:]
	}
	return nil
}

// Versions returns the reported (major, minor) for service.
func (p *Port) Versions(service Service) (major, minor uint16, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ver, ok := p.versions[service]
	return ver[0], ver[1], ok
}

// readFrames owns the device stream. A framing error or a response with
// no matching transaction closes the port.
func (p *Port) readFrames() {
	for {
		f, err := p.readFrame()
		if err != nil {
			select {
			case <-p.closed:
			default:
				if !errors.Is(err, io.EOF) {
					p.log.Error().Err(err).Msg("closing port")
				}
				p.Close()
			}
			return
		}
		if f.indication {
			p.dispatchIndication(f)
			continue
		}
		key := pendingKey{service: f.service, client: f.client, txn: f.txn}
		p.pendingMu.Lock()
		ch, ok := p.pending[key]
		if ok {
			delete(p.pending, key)
		}
		p.pendingMu.Unlock()
		if !ok {
			p.log.Error().
				Str("service", f.service.String()).
				Uint16("txn", f.txn).
				Msg("response with unknown transaction, closing port")
			p.Close()
			return
		}
		ch <- f
	}
}

func (p *Port) readFrame() (*frame, error) {
	head := make([]byte, 3)
	if _, err := io.ReadFull(p.rw, head); err != nil {
		return nil, err
	}
	if head[0] != qmuxTag {
		return nil, ErrFraming
	}
	length := int(binary.LittleEndian.Uint16(head[1:3]))
	if length < 5 {
		return nil, ErrFraming
	}
	body := make([]byte, length-2)
	if _, err := io.ReadFull(p.rw, body); err != nil {
		return nil, err
	}
	return parseFrame(body)
}

func (p *Port) dispatchIndication(f *frame) {
	p.listenMu.Lock()
	listeners := make([]*indListener, 0, len(p.listeners))
	for _, l := range p.listeners {
		if l.service == f.service && l.msgID == f.msgID {
			listeners = append(listeners, l)
		}
	}
	p.listenMu.Unlock()

	if len(listeners) == 0 {
		p.log.Debug().
			Str("service", f.service.String()).
			Uint16("msg", f.msgID).
			Msg("indication without listener")
		return
	}
	for _, l := range listeners {
		l.fn(f.tlvs)
	}
}
