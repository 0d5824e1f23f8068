package audit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/klingon-exchange/klingon-swap/pkg/logging"
)

// ErrQueueFull is returned when an Async sink drops an event.
var ErrQueueFull = errors.New("audit queue full")

// ErrClosed is returned by Notify after Close.
var ErrClosed = errors.New("audit sink closed")

// Async delivers events to a sink from a background goroutine. When the
// queue is full the event is dropped.
type Async struct {
	sink  Sink
	queue chan Event
	log   *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

// NewAsync starts a dispatcher with the given queue size.
func NewAsync(sink Sink, size int, log *logging.Logger) *Async {
	if size <= 0 {
		size = 256
	}
	if log == nil {
		log = logging.GetDefault()
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &Async{
		sink:   sink,
		queue:  make(chan Event, size),
		log:    log.Component("audit"),
		ctx:    ctx,
		cancel: cancel,
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// Notify queues e without blocking.
func (a *Async) Notify(_ context.Context, e Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- e:
		return nil
	default:
		a.dropped.Add(1)
		return ErrQueueFull
	}
}

// Dropped returns how many events were discarded.
func (a *Async) Dropped() uint64 {
	return a.dropped.Load()
}

// Close stops accepting events, drains the queue and waits for the worker.
func (a *Async) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	a.wg.Wait()
	a.cancel()
}

func (a *Async) run() {
	defer a.wg.Done()
	for e := range a.queue {
		if err := a.sink.Notify(a.ctx, e); err != nil {
			a.log.Warn("Audit sink failed", "swap_id", e.SwapID, "type", e.Type, "error", err)
		}
	}
}
