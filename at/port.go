// Package at implements the line-framed AT command transport: request
// framing, final-result parsing, response caching and dispatch of
// unsolicited result codes.
package at

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	serial "github.com/tarm/goserial"

	"github.com/linux-mobile-broadband/modemd/core"
)

// InitCommand is one step of the open-time init sequence. A tolerated
// command may fail without failing the open.
type InitCommand struct {
	Command  string
	Timeout  time.Duration
	Tolerate bool
}

// Config describes an AT port before it is opened.
type Config struct {
	// Name labels the port in logs (usually the device basename).
	Name string
	// Device is the serial device path.
	Device string
	// Baud is the serial line rate; 115200 when zero.
	Baud int
	// SendDelay is slept before each write, for devices that drop input
	// arriving too soon after the previous command.
	SendDelay time.Duration
	// SendLF appends a line feed after the carriage return.
	SendLF bool
	// Init runs once at open time before any user command.
	Init []InitCommand
	// ReadWriter overrides the serial device; used by tests and by ports
	// handed over from probing.
	ReadWriter io.ReadWriteCloser

	Logger zerolog.Logger
}

type result struct {
	payload string
	err     error
}

type request struct {
	command string
	timeout time.Duration
	raw     bool
	// interactive requests write part2 terminated by Ctrl-Z once the
	// device prompts for it.
	interactive bool
	part2       string
	done        chan result
}

// Ctrl-Z terminates an interactive payload.
const sub = "\x1A"

// Port is a single open AT port. At most one command is outstanding at a
// time; additional commands queue FIFO and complete in submission order.
type Port struct {
	cfg Config
	log zerolog.Logger

	mu     sync.Mutex
	rw     io.ReadWriteCloser
	opened bool
	closed chan struct{}

	reqCh chan *request
	lines chan string

	urcMu sync.Mutex
	urcs  []*urcHandler

	cacheMu sync.Mutex
	cache   map[string]string
}

// NewPort builds an unopened port from cfg.
func NewPort(cfg Config) *Port {
	if cfg.Baud == 0 {
		cfg.Baud = 115200
	}
	return &Port{
		cfg:   cfg,
		log:   cfg.Logger.With().Str("comp", "at-port").Str("port", cfg.Name).Logger(),
		cache: make(map[string]string),
	}
}

// IsOpen reports whether the port is usable.
func (p *Port) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opened
}

// Open acquires the device, starts the reader and runs the init sequence.
// Open on an open port is a no-op.
func (p *Port) Open() error {
	p.mu.Lock()
	if p.opened {
		p.mu.Unlock()
		return nil
	}
	rw := p.cfg.ReadWriter
	if rw == nil {
		var err error
		rw, err = serial.OpenPort(&serial.Config{Name: p.cfg.Device, Baud: p.cfg.Baud})
		if err != nil {
			p.mu.Unlock()
			return core.Newf(core.KindTransport, "open %s: %v", p.cfg.Device, err)
		}
	}
	p.rw = rw
	p.opened = true
	p.closed = make(chan struct{})
	p.reqCh = make(chan *request, 32)
	p.lines = make(chan string, 32)
	p.mu.Unlock()

	go p.readLines()
	go p.loop()

	for _, init := range p.cfg.Init {
		if _, err := p.Send(init.Command, init.Timeout, false); err != nil {
			if init.Tolerate {
				p.log.Debug().Str("cmd", init.Command).Err(err).Msg("tolerated init failure")
				continue
			}
			p.Close()
			return core.Newf(core.KindTransport, "init %q: %v", init.Command, err)
		}
	}
	return nil
}

// Close shuts the port down. Pending commands fail with ErrClosed.
// Close on a closed port is a no-op.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.opened {
		return nil
	}
	p.opened = false
	close(p.closed)
	return p.rw.Close()
}

// Send writes a command and collects lines until a final result token.
// The payload lines are joined with '\n'. A cacheable command hit is
// answered from the cache without touching the wire. A zero timeout
// reports ErrTimeout immediately.
func (p *Port) Send(command string, timeout time.Duration, cacheable bool) (string, error) {
	return p.SendFull(context.Background(), command, timeout, cacheable, false)
}

// SendFull is Send with a cancellation token and a raw mode that bypasses
// line framing for vendor binary commands. Cancellation is observed while
// queued or awaiting completion; wire I/O is never aborted mid-frame.
func (p *Port) SendFull(ctx context.Context, command string, timeout time.Duration, allowCached, raw bool) (string, error) {
	if !p.IsOpen() {
		return "", ErrClosed
	}
	if timeout <= 0 {
		return "", ErrTimeout
	}
	key := normalize(command)
	if allowCached {
		p.cacheMu.Lock()
		cached, ok := p.cache[key]
		p.cacheMu.Unlock()
		if ok {
			return cached, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return "", core.New(core.KindCancelled, "command cancelled before send")
	}

	req := &request{
		command: command,
		timeout: timeout,
		raw:     raw,
		done:    make(chan result, 1),
	}
	select {
	case p.reqCh <- req:
	case <-p.closed:
		return "", ErrClosed
	case <-ctx.Done():
		return "", core.New(core.KindCancelled, "command cancelled while queued")
	}

	select {
	case res := <-req.done:
		if res.err == nil && allowCached {
			p.cacheMu.Lock()
			p.cache[key] = res.payload
			p.cacheMu.Unlock()
		}
		return res.payload, res.err
	case <-ctx.Done():
		return "", core.New(core.KindCancelled, "command cancelled while awaiting reply")
	case <-p.closed:
		return "", ErrClosed
	}
}

// SendInteractive issues a two-stage command like +CMGS: part1 makes the
// device prompt with '>', then part2 goes out terminated with Ctrl-Z.
func (p *Port) SendInteractive(ctx context.Context, part1, part2 string, timeout time.Duration) (string, error) {
	if !p.IsOpen() {
		return "", ErrClosed
	}
	if timeout <= 0 {
		return "", ErrTimeout
	}
	if err := ctx.Err(); err != nil {
		return "", core.New(core.KindCancelled, "command cancelled before send")
	}
	req := &request{
		command:     part1,
		timeout:     timeout,
		interactive: true,
		part2:       part2,
		done:        make(chan result, 1),
	}
	select {
	case p.reqCh <- req:
	case <-p.closed:
		return "", ErrClosed
	case <-ctx.Done():
		return "", core.New(core.KindCancelled, "command cancelled while queued")
	}
	select {
	case res := <-req.done:
		return res.payload, res.err
	case <-ctx.Done():
		return "", core.New(core.KindCancelled, "command cancelled while awaiting reply")
	case <-p.closed:
		return "", ErrClosed
	}
}

// FlushCache drops every memoized response. The modem calls this on any
// power state change.
func (p *Port) FlushCache() {
	p.cacheMu.Lock()
	p.cache = make(map[string]string)
	p.cacheMu.Unlock()
}

func normalize(command string) string {
	return strings.ToUpper(strings.TrimSpace(command))
}

// readLines splits the device stream into trimmed non-empty lines.
func (p *Port) readLines() {
	scanner := bufio.NewScanner(p.rw)
	scanner.Split(scanLines)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		select {
		case p.lines <- text:
		case <-p.closed:
			return
		}
	}
	p.Close()
}

// scanLines splits on CR or LF, swallowing empty segments at the framing
// layer; some modems terminate with bare CR.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i, b := range data {
		if b == '\r' || b == '\n' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// loop owns the line stream: idle lines go to the unsolicited registry,
// queued requests run one at a time.
func (p *Port) loop() {
	for {
		select {
		case <-p.closed:
			p.failPending()
			return
		case line := <-p.lines:
			p.dispatchUnsolicited(line)
		case req := <-p.reqCh:
			req.done <- p.process(req)
		}
	}
}

func (p *Port) failPending() {
	for {
		select {
		case req := <-p.reqCh:
			req.done <- result{err: ErrClosed}
		default:
			return
		}
	}
}

func (p *Port) process(req *request) result {
	if p.cfg.SendDelay > 0 {
		time.Sleep(p.cfg.SendDelay)
	}
	payload := []byte(req.command)
	if !req.raw {
		payload = append(payload, '\r')
		if p.cfg.SendLF {
			payload = append(payload, '\n')
		}
	}
	if _, err := p.rw.Write(payload); err != nil {
		return result{err: core.Newf(core.KindTransport, "write: %v", err)}
	}

	timer := time.NewTimer(req.timeout)
	defer timer.Stop()

	if req.interactive {
		// The '>' prompt is not line-terminated, so wait a short grace
		// period for the device to raise it before the payload goes out.
		prompt := time.NewTimer(200 * time.Millisecond)
		select {
		case <-prompt.C:
		case <-timer.C:
			return result{err: ErrTimeout}
		case <-p.closed:
			prompt.Stop()
			return result{err: ErrClosed}
		}
		if _, err := p.rw.Write([]byte(req.part2 + sub)); err != nil {
			return result{err: core.Newf(core.KindTransport, "write payload: %v", err)}
		}
	}

	var reply strings.Builder
	for {
		select {
		case <-p.closed:
			return result{err: ErrClosed}
		case <-timer.C:
			return result{err: ErrTimeout}
		case line := <-p.lines:
			if line == req.command {
				continue // echo
			}
			if opt := FinalResults.Resolve(line); opt != UnknownStringOpt {
				return result{payload: reply.String(), err: finalToError(opt, line)}
			}
			// Unsolicited lines may arrive mid-response and must reach
			// their handler without touching the pending command.
			if p.tryDispatchUnsolicited(line) {
				continue
			}
			if reply.Len() > 0 {
				reply.WriteByte('\n')
			}
			reply.WriteString(line)
		}
	}
}
