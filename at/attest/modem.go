// Package attest provides a scripted in-memory modem for exercising the
// AT stack without hardware.
package attest

import (
	"io"
	"strings"
	"sync"
)

// Modem is an io.ReadWriteCloser that replies to written commands from a
// scripted table and can inject unsolicited lines.
type Modem struct {
	mu      sync.Mutex
	pr      *io.PipeReader
	pw      *io.PipeWriter
	sent    []string
	replies map[string][]string
	fallbackReply []string
	closed  bool
}

// New builds a modem whose unscripted commands answer with fallback
// (default "OK").
func New() *Modem {
	pr, pw := io.Pipe()
	return &Modem{
		pr:      pr,
		pw:      pw,
		replies: make(map[string][]string),
		fallbackReply: []string{"OK"},
	}
}

// Reply scripts the response lines (including the final result) for cmd.
func (m *Modem) Reply(cmd string, lines ...string) {
	m.mu.Lock()
	m.replies[cmd] = lines
	m.mu.Unlock()
}

// Fallback replaces the response used for unscripted commands.
func (m *Modem) Fallback(lines ...string) {
	m.mu.Lock()
	m.fallbackReply = lines
	m.mu.Unlock()
}

// Sent returns every command written so far.
func (m *Modem) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	copy(out, m.sent)
	return out
}

// Inject delivers an unsolicited line to the host side.
func (m *Modem) Inject(line string) {
	m.pw.Write([]byte("\r\n" + line + "\r\n"))
}

func (m *Modem) Write(b []byte) (int, error) {
	cmd := strings.TrimRight(string(b), "\r\n")
	m.mu.Lock()
	m.sent = append(m.sent, cmd)
	lines, ok := m.replies[cmd]
	if !ok {
		lines = m.fallbackReply
	}
	m.mu.Unlock()

	go func() {
		for _, l := range lines {
			m.pw.Write([]byte("\r\n" + l + "\r\n"))
		}
	}()
	return len(b), nil
}

func (m *Modem) Read(b []byte) (int, error) {
	return m.pr.Read(b)
}

// Close unblocks the host reader.
func (m *Modem) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.pw.Close()
	return m.pr.Close()
}
