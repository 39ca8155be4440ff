package sleepmon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInhibitor struct {
	mu       sync.Mutex
	held     bool
	acquires int
	releases int
}

func (f *fakeInhibitor) Acquire(reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held = true
	f.acquires++
	return nil
}

func (f *fakeInhibitor) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held = false
	f.releases++
}

func (f *fakeInhibitor) isHeld() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held
}

type fakeRegistry struct {
	mu       sync.Mutex
	count    int
	delay    time.Duration
	contexts []*SleepContext
	resumes  int
	complete bool
}

func (f *fakeRegistry) Sleeping(ctx *SleepContext) {
	f.mu.Lock()
	f.contexts = append(f.contexts, ctx)
	count, delay, complete := f.count, f.delay, f.complete
	f.mu.Unlock()
	for i := 0; i < count; i++ {
		go func() {
			time.Sleep(delay)
			if complete {
				ctx.Complete()
			}
		}()
	}
}

func (f *fakeRegistry) Resuming() {
	f.mu.Lock()
	f.resumes++
	f.mu.Unlock()
}

func (f *fakeRegistry) ModemCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

func (f *fakeRegistry) contextAt(i int) *SleepContext {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.contexts) {
		return nil
	}
	return f.contexts[i]
}

func TestMonitorAcquiresOnConstruction(t *testing.T) {
	t.Parallel()

	inhibitor := &fakeInhibitor{}
	m, err := NewMonitor(inhibitor, &fakeRegistry{}, time.Second, zerolog.Nop())
	require.NoError(t, err)
	defer m.Close()
	assert.True(t, inhibitor.isHeld())
}

func TestSleepWaitsForCompletions(t *testing.T) {
	t.Parallel()

	inhibitor := &fakeInhibitor{}
	reg := &fakeRegistry{count: 3, delay: 20 * time.Millisecond, complete: true}
	m, err := NewMonitor(inhibitor, reg, time.Second, zerolog.Nop())
	require.NoError(t, err)
	defer m.Close()

	start := time.Now()
	m.HandleSleep(context.Background())
	assert.False(t, inhibitor.isHeld())
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestSleepTimeoutDropsInhibitor(t *testing.T) {
	t.Parallel()

	inhibitor := &fakeInhibitor{}
	// Modems that never report in.
	reg := &fakeRegistry{count: 2, complete: false}
	m, err := NewMonitor(inhibitor, reg, 50*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)
	defer m.Close()

	m.HandleSleep(context.Background())
	assert.False(t, inhibitor.isHeld())

	// A straggler completing after the timeout must not panic.
	require.Len(t, reg.contexts, 1)
	reg.contexts[0].Complete()
	reg.contexts[0].Complete()
}

func TestResumeReacquiresAndRescans(t *testing.T) {
	t.Parallel()

	inhibitor := &fakeInhibitor{}
	reg := &fakeRegistry{}
	m, err := NewMonitor(inhibitor, reg, time.Second, zerolog.Nop())
	require.NoError(t, err)
	defer m.Close()

	m.HandleSleep(context.Background())
	assert.False(t, inhibitor.isHeld())

	m.HandleResume(context.Background())
	assert.True(t, inhibitor.isHeld())
	assert.Equal(t, 1, reg.resumes)
}

func TestExtendTimeout(t *testing.T) {
	t.Parallel()

	inhibitor := &fakeInhibitor{}
	reg := &fakeRegistry{count: 1, complete: false}
	m, err := NewMonitor(inhibitor, reg, 60*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)
	defer m.Close()

	done := make(chan struct{})
	go func() {
		m.HandleSleep(context.Background())
		close(done)
	}()

	// Push the deadline out, then complete inside the extension window.
	time.Sleep(20 * time.Millisecond)
	ctx := reg.contextAt(0)
	require.NotNil(t, ctx)
	ctx.ExtendTimeout(200 * time.Millisecond)
	time.Sleep(80 * time.Millisecond)
	ctx.Complete()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sleep handler did not finish")
	}
	assert.False(t, inhibitor.isHeld())
}

func TestSleepContextCompleteIdempotentAfterFinish(t *testing.T) {
	t.Parallel()

	c := newSleepContext(1, time.Second)
	c.Complete()
	c.Complete()
	select {
	case <-c.finished:
	default:
		t.Fatal("context not finished")
	}
}
