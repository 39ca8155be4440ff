package modem

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/linux-mobile-broadband/modemd/core"
)

// OpFunc is a resumable computation run against a modem. It must observe
// ctx at every suspension point and return core.KindCancelled then.
type OpFunc func(ctx context.Context) (interface{}, error)

// OpResult delivers an operation's outcome.
type OpResult struct {
	Value interface{}
	Err   error
}

type operation struct {
	id   string
	name string
	fn   OpFunc
	ctx  context.Context
	done chan OpResult
}

// Serializer runs operations against one modem strictly one at a time, in
// submission order. Completions are delivered in submission order as well.
// Sub-operations invoked from inside a running operation must be called
// directly rather than submitted, or they would deadlock behind their
// parent.
type Serializer struct {
	log zerolog.Logger

	mu     sync.Mutex
	queue  []*operation
	kick   chan struct{}
	closed bool
	stop   chan struct{}

	inFlight int
}

// NewSerializer starts the worker for one modem.
func NewSerializer(log zerolog.Logger) *Serializer {
	s := &Serializer{
		log:  log.With().Str("comp", "ops").Logger(),
		kick: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
	go s.run()
	return s
}

// Submit enqueues fn and returns a channel delivering its single result.
// Cancellation via ctx makes a queued operation complete with
// core.KindCancelled without running.
func (s *Serializer) Submit(ctx context.Context, name string, fn OpFunc) <-chan OpResult {
	op := &operation{
		id:   uuid.NewString(),
		name: name,
		fn:   fn,
		ctx:  ctx,
		done: make(chan OpResult, 1),
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		op.done <- OpResult{Err: core.New(core.KindWrongState, "modem is shutting down")}
		return op.done
	}
	s.queue = append(s.queue, op)
	s.mu.Unlock()

	select {
	case s.kick <- struct{}{}:
	default:
	}
	return op.done
}

// Run submits fn and waits for its completion.
func (s *Serializer) Run(ctx context.Context, name string, fn OpFunc) (interface{}, error) {
	res := <-s.Submit(ctx, name, fn)
	return res.Value, res.Err
}

// InFlight reports the number of operations currently running; by
// construction it never exceeds one.
func (s *Serializer) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Close drains the queue with wrong-state errors and stops the worker.
func (s *Serializer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pending := s.queue
	s.queue = nil
	s.mu.Unlock()

	close(s.stop)
	for _, op := range pending {
		op.done <- OpResult{Err: core.New(core.KindWrongState, "modem is shutting down")}
	}
}

func (s *Serializer) run() {
	for {
		op := s.next()
		if op == nil {
			select {
			case <-s.kick:
				continue
			case <-s.stop:
				return
			}
		}

		if err := op.ctx.Err(); err != nil {
			op.done <- OpResult{Err: core.New(core.KindCancelled, "operation cancelled while queued")}
			continue
		}

		s.mu.Lock()
		s.inFlight = 1
		s.mu.Unlock()

		s.log.Debug().Str("op", op.name).Str("id", op.id).Msg("operation started")
		value, err := op.fn(op.ctx)
		if err != nil {
			s.log.Debug().Str("op", op.name).Err(err).Msg("operation failed")
		} else {
			s.log.Debug().Str("op", op.name).Msg("operation completed")
		}

		s.mu.Lock()
		s.inFlight = 0
		s.mu.Unlock()

		op.done <- OpResult{Value: value, Err: err}
	}
}

func (s *Serializer) next() *operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	op := s.queue[0]
	s.queue = s.queue[1:]
	return op
}
