package at

import (
	"regexp"
)

// URCFunc handles an unsolicited result code. groups holds the full match
// followed by the capture groups of the registered pattern.
type URCFunc func(groups []string)

type urcHandler struct {
	pattern string
	re      *regexp.Regexp
	fn      URCFunc
}

// AddUnsolicited registers a handler for lines matching pattern. Patterns
// are compiled once here; dispatch tests handlers in registration order
// and the first match wins.
func (p *Port) AddUnsolicited(pattern string, fn URCFunc) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	p.urcMu.Lock()
	p.urcs = append(p.urcs, &urcHandler{pattern: pattern, re: re, fn: fn})
	p.urcMu.Unlock()
	return nil
}

// RemoveUnsolicited drops the handler registered for pattern.
func (p *Port) RemoveUnsolicited(pattern string) {
	p.urcMu.Lock()
	defer p.urcMu.Unlock()
	for i, h := range p.urcs {
		if h.pattern == pattern {
			p.urcs = append(p.urcs[:i], p.urcs[i+1:]...)
			return
		}
	}
}

// ClearUnsolicited drops every handler; used on disable.
func (p *Port) ClearUnsolicited() {
	p.urcMu.Lock()
	p.urcs = nil
	p.urcMu.Unlock()
}

// tryDispatchUnsolicited tests line against the registry and invokes the
// first matching handler. It runs for every line received while no command
// is in flight, and for every line of a pending command's response except
// the echo and the final result code: unsolicited lines never affect a
// pending command.
func (p *Port) tryDispatchUnsolicited(line string) bool {
	p.urcMu.Lock()
	handlers := make([]*urcHandler, len(p.urcs))
	copy(handlers, p.urcs)
	p.urcMu.Unlock()

	for _, h := range handlers {
		if groups := h.re.FindStringSubmatch(line); groups != nil {
			h.fn(groups)
			return true
		}
	}
	return false
}

func (p *Port) dispatchUnsolicited(line string) {
	if !p.tryDispatchUnsolicited(line) {
		p.log.Warn().Str("line", line).Msg("discarding unhandled line")
	}
}
