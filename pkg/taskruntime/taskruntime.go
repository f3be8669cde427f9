// Package taskruntime implements the Task Runtime (spec.md §4.I): a
// bounded pool of workers plus a dispatch queue, exposing Submit/Cancel/
// Events/Await. Bounded concurrency is grounded on the errgroup.Group
// SetLimit pattern used for parallel LLM calls in the attack-engine
// example (other_examples/fc0512ee_storbeck-augustus__internal-attackengine-engine.go.go),
// generalised from one-shot fan-out into a long-lived pool that keeps
// accepting Submit calls for the life of the Runtime.
package taskruntime

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Event is one item on a task's event stream. Kind is one of the
// Dialogue Engine's {status, stream-delta, turn-complete, error,
// finished} values, or a caller-defined kind for other task types (e.g.
// background model-list fetches); Payload carries the kind-specific
// detail.
type Event struct {
	Kind    string
	Payload any
}

// Task is the unit of work submitted to a Runtime. It must poll ctx and
// return promptly after cancellation; emit delivers an Event to the
// handle's event stream, blocking under back-pressure but honouring ctx.
type Task func(ctx context.Context, emit func(Event)) error

// Handle is returned by Submit and lets the caller observe and control
// one running task.
type Handle struct {
	// ID uniquely identifies this task instance, for callers correlating
	// it against log lines or a history record written once it finishes.
	ID string

	mu        sync.Mutex
	cancel    context.CancelFunc
	cancelled bool

	events chan Event
	done   chan struct{}
	err    error
}

func newHandle(cancel context.CancelFunc) *Handle {
	return &Handle{
		ID:     uuid.NewString(),
		cancel: cancel,
		events: make(chan Event, 32),
		done:   make(chan struct{}),
	}
}

// Cancel requests cancellation of the task's context. Idempotent.
func (h *Handle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled {
		return
	}
	h.cancelled = true
	h.cancel()
}

// Events returns the task's event stream, closed once the task finishes.
func (h *Handle) Events() <-chan Event { return h.events }

// Await blocks until the task finishes and returns its error, if any.
func (h *Handle) Await() error {
	<-h.done
	return h.err
}

func (h *Handle) finish(err error) {
	h.err = err
	close(h.events)
	close(h.done)
}

// Runtime is a bounded pool of workers executing submitted Tasks.
type Runtime struct {
	mu      sync.Mutex
	g       *errgroup.Group
	ctx     context.Context
	stopFn  context.CancelFunc
	stopped bool
}

// New creates a Runtime that runs at most poolSize tasks concurrently;
// additional Submit calls block until a slot frees, acting as the
// dispatch queue spec.md §4.I asks for.
func New(poolSize int) *Runtime {
	ctx, cancel := context.WithCancel(context.Background())
	g := &errgroup.Group{}
	g.SetLimit(poolSize)
	return &Runtime{g: g, ctx: ctx, stopFn: cancel}
}

// Submit starts task and returns its Handle. When poolSize tasks are
// already running, Submit blocks until one of them finishes before it
// starts task and returns.
func (r *Runtime) Submit(task Task) *Handle {
	taskCtx, cancelTask := context.WithCancel(r.ctx)
	h := newHandle(cancelTask)

	// An event is delivered whenever the buffer has room, even after
	// cancellation, so closing events such as finished/cancelled reach the
	// caller; only a send that would block gives way to ctx.
	emit := func(e Event) {
		select {
		case h.events <- e:
			return
		default:
		}
		select {
		case h.events <- e:
		case <-taskCtx.Done():
		}
	}

	r.g.Go(func() error {
		err := task(taskCtx, emit)
		h.finish(err)
		return nil
	})

	return h
}

// Stop shuts the Runtime down. With wait=false, every in-flight task's
// context is cancelled immediately and Stop returns once they have all
// observed that and exited. With wait=true, no new cancellation is
// forced; Stop blocks until every submitted task has finished on its own.
func (r *Runtime) Stop(wait bool) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	if !wait {
		r.stopFn()
	}
	_ = r.g.Wait()
	if wait {
		r.stopFn()
	}
}
