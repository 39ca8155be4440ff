// Package registry publishes modems, SIMs and bearers as addressable
// objects with stable string identifiers, and fans host sleep signals out
// to every modem.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/linux-mobile-broadband/modemd/core"
	"github.com/linux-mobile-broadband/modemd/modem"
	"github.com/linux-mobile-broadband/modemd/sleepmon"
)

// BasePath roots every object identifier.
const BasePath = "/org/freedesktop/ModemManager1"

// Object path prefixes.
const (
	ModemPrefix  = BasePath + "/Modem/"
	BearerPrefix = BasePath + "/Bearer/"
	SIMPrefix    = BasePath + "/SIM/"
)

// Registry owns the object namespace.
type Registry struct {
	log zerolog.Logger

	mu         sync.Mutex
	modems     []*modem.Modem
	nextModem  int
	nextBearer int
	nextSIM    int
}

// New builds an empty registry.
func New(log zerolog.Logger) *Registry {
	return &Registry{log: log.With().Str("comp", "registry").Logger()}
}

// AddModem publishes m and returns its assigned path.
func (r *Registry) AddModem(m *modem.Modem) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	path := fmt.Sprintf("%s%d", ModemPrefix, r.nextModem)
	r.nextModem++
	m.Path = path
	if sim := m.SIM(); sim != nil && sim.Path == "" {
		sim.Path = fmt.Sprintf("%s%d", SIMPrefix, r.nextSIM)
		r.nextSIM++
	}
	r.modems = append(r.modems, m)
	r.log.Info().Str("path", path).Msg("modem published")
	return path
}

// RemoveModem withdraws the modem at path and tears it down.
func (r *Registry) RemoveModem(ctx context.Context, path string) error {
	r.mu.Lock()
	var found *modem.Modem
	for i, m := range r.modems {
		if m.Path == path {
			found = m
			r.modems = append(r.modems[:i], r.modems[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
	if found == nil {
		return core.Newf(core.KindNotFound, "no modem at %s", path)
	}
	found.Teardown(ctx)
	r.log.Info().Str("path", path).Msg("modem withdrawn")
	return nil
}

// Modems returns a snapshot of the published modems.
func (r *Registry) Modems() []*modem.Modem {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*modem.Modem, len(r.modems))
	copy(out, r.modems)
	return out
}

// ModemByPath resolves a modem identifier.
func (r *Registry) ModemByPath(path string) (*modem.Modem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.modems {
		if m.Path == path {
			return m, nil
		}
	}
	return nil, core.Newf(core.KindNotFound, "no modem at %s", path)
}

// CreateBearer adds a bearer to m's list and publishes it.
func (r *Registry) CreateBearer(m *modem.Modem, cfg modem.BearerConfig) (*modem.Bearer, error) {
	b, err := m.CreateBearer(cfg)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	b.Path = fmt.Sprintf("%s%d", BearerPrefix, r.nextBearer)
	r.nextBearer++
	r.mu.Unlock()
	r.log.Info().Str("path", b.Path).Str("apn", cfg.APN).Msg("bearer published")
	return b, nil
}

// DeleteBearer locates a bearer by exact path, removes it from its modem
// and releases its resources. Paths outside the bearer namespace are an
// invalid argument; unknown paths are not found.
func (r *Registry) DeleteBearer(ctx context.Context, path string) error {
	if !strings.HasPrefix(path, BearerPrefix) {
		return core.Newf(core.KindInvalidArgument, "%s is not a bearer path", path)
	}
	for _, m := range r.Modems() {
		for _, b := range m.Bearers() {
			if b.Path == path {
				return m.RemoveBearer(ctx, b)
			}
		}
	}
	return core.Newf(core.KindNotFound, "no bearer at %s", path)
}

// ModemCount implements the sleep monitor registry contract.
func (r *Registry) ModemCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.modems)
}

// Sleeping fans the quiesce request out; every modem signals the context
// when its transports are down.
func (r *Registry) Sleeping(sleepCtx *sleepmon.SleepContext) {
	for _, m := range r.Modems() {
		go func(m *modem.Modem) {
			if err := m.Quiesce(context.Background()); err != nil {
				r.log.Warn().Err(err).Str("path", m.Path).Msg("quiesce failed")
			}
			sleepCtx.Complete()
		}(m)
	}
}

// Resuming reopens every modem after host wake.
func (r *Registry) Resuming() {
	for _, m := range r.Modems() {
		go func(m *modem.Modem) {
			if err := m.Resume(context.Background()); err != nil {
				r.log.Warn().Err(err).Str("path", m.Path).Msg("resume failed")
			}
		}(m)
	}
}
