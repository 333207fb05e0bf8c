package queue

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/ftb/pkg/metrics"
	"github.com/cuemby/ftb/pkg/types"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// ErrClosed is returned by operations on a queue whose subscription is gone
var ErrClosed = fmt.Errorf("queue closed: %w", types.ErrSubscriptionNotFound)

// ErrUnavailable is returned by a callback whose consumer has gone away.
// The delivery goes back to the head of the queue and the queue returns to
// polling.
var ErrUnavailable = errors.New("callback consumer unavailable")

// errBreakerOpen marks a delivery the breaker refused to hand to the callback
var errBreakerOpen = errors.New("callback breaker open")

// Callback receives deliveries for a subscription in push mode.
// A returned error is logged and counted and does not stop delivery,
// except ErrUnavailable.
type Callback func(types.Delivery) error

// worker is one generation of the push-mode mailbox loop
type worker struct {
	cb   Callback
	wake chan struct{}
	quit chan struct{}
}

// Queue is the bounded FIFO of events owned by one subscription
type Queue struct {
	name string

	mu      sync.Mutex
	ring    []*types.Event
	head    int
	size    int
	pending map[types.EventHandle]struct{}
	dropped uint64
	closed  bool
	w       *worker
	done    chan struct{}

	// serializes callbacks across worker generations
	deliverMu sync.Mutex

	breaker  *gobreaker.CircuitBreaker
	cooldown time.Duration
	logger   zerolog.Logger
}

// New creates a queue holding at most depth events
func New(name string, depth int, opts ...Option) *Queue {
	if depth <= 0 {
		depth = DefaultDepth
	}
	cfg := defaultConfig(name)
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Queue{
		name:    name,
		ring:    make([]*types.Event, depth),
		pending: make(map[types.EventHandle]struct{}),
		done:    make(chan struct{}),
		breaker:  gobreaker.NewCircuitBreaker(cfg.breaker),
		cooldown: cfg.cooldown(),
		logger:  cfg.logger,
	}
}

// Enqueue appends ev to the tail. A full queue drops ev and returns
// types.ErrQueueOverflow; the loss is reported on the next delivery.
// Enqueueing on a closed queue is a silent drop.
func (q *Queue) Enqueue(ev *types.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	if _, dup := q.pending[ev.Handle]; dup {
		return nil
	}
	if q.size == len(q.ring) {
		q.dropped++
		metrics.QueueOverflows.Inc()
		return types.ErrQueueOverflow
	}

	q.ring[(q.head+q.size)%len(q.ring)] = ev
	q.size++
	q.pending[ev.Handle] = struct{}{}

	if q.w != nil {
		select {
		case q.w.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

// pop removes the head event. Callers hold q.mu.
func (q *Queue) pop() (types.Delivery, bool) {
	if q.size == 0 {
		return types.Delivery{}, false
	}
	ev := q.ring[q.head]
	q.ring[q.head] = nil
	q.head = (q.head + 1) % len(q.ring)
	q.size--
	delete(q.pending, ev.Handle)

	d := types.Delivery{Event: ev, Dropped: q.dropped}
	q.dropped = 0
	return d, true
}

// Poll dequeues the head event without blocking. It returns
// types.ErrNoEvent when the queue is empty.
func (q *Queue) Poll() (types.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return types.Delivery{}, ErrClosed
	}
	d, ok := q.pop()
	if !ok {
		return types.Delivery{}, types.ErrNoEvent
	}
	metrics.EventsDelivered.WithLabelValues(string(types.SubscriptionPolling)).Inc()
	return d, nil
}

// SetCallback switches the queue to push mode. Events already buffered are
// delivered first, in order. Replacing a callback takes effect after the
// in-flight invocation returns.
func (q *Queue) SetCallback(cb Callback) error {
	if cb == nil {
		return fmt.Errorf("%w: nil callback", types.ErrInvalidCallback)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if q.w != nil {
		close(q.w.quit)
	}
	w := &worker{
		cb:   cb,
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
	}
	q.w = w
	go q.run(w)
	return nil
}

// ClearCallback returns the queue to polling. Undelivered events stay queued.
func (q *Queue) ClearCallback() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.w != nil {
		close(q.w.quit)
		q.w = nil
	}
}

// HasCallback reports whether the queue is in push mode
func (q *Queue) HasCallback() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.w != nil
}

func (q *Queue) run(w *worker) {
	for {
		q.deliverMu.Lock()
		q.mu.Lock()
		if q.w != w {
			q.mu.Unlock()
			q.deliverMu.Unlock()
			return
		}
		d, ok := q.pop()
		q.mu.Unlock()

		var err error
		if ok {
			err = q.invoke(w.cb, d)
		}
		switch {
		case errors.Is(err, ErrUnavailable):
			q.requeue(w, d)
			q.deliverMu.Unlock()
			return
		case errors.Is(err, errBreakerOpen):
			// Hold the event until the breaker lets a trial call through.
			q.restore(d)
			q.deliverMu.Unlock()
			timer := time.NewTimer(q.cooldown)
			select {
			case <-timer.C:
				continue
			case <-w.quit:
				timer.Stop()
				return
			}
		}
		q.deliverMu.Unlock()

		if ok {
			continue
		}
		select {
		case <-w.wake:
		case <-w.quit:
			return
		}
	}
}

func (q *Queue) invoke(cb Callback, d types.Delivery) error {
	var unavailable bool
	_, err := q.breaker.Execute(func() (interface{}, error) {
		err := safeCall(cb, d)
		if errors.Is(err, ErrUnavailable) {
			unavailable = true
			return nil, nil
		}
		return nil, err
	})
	if unavailable {
		return ErrUnavailable
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		q.logger.Debug().
			Str("event", d.Event.Handle.String()).
			Dur("retry_in", q.cooldown).
			Msg("Callback breaker open, holding event")
		return errBreakerOpen
	}
	if err != nil {
		metrics.CallbackFailures.Inc()
		q.logger.Warn().
			Err(err).
			Str("event", d.Event.Handle.String()).
			Str("breaker", q.breaker.State().String()).
			Msg("Callback failed")
		return err
	}
	metrics.EventsDelivered.WithLabelValues(string(types.SubscriptionCallback)).Inc()
	return nil
}

// requeue puts a delivery refused by w back at the head and ends push mode
// if w is still the current worker.
func (q *Queue) requeue(w *worker, d types.Delivery) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.w == w {
		close(w.quit)
		q.w = nil
	}
	q.pushFront(d)

	if q.w != nil {
		select {
		case q.w.wake <- struct{}{}:
		default:
		}
	}
}

// restore puts a delivery back at the head without leaving push mode
func (q *Queue) restore(d types.Delivery) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pushFront(d)
}

func (q *Queue) pushFront(d types.Delivery) {
	if q.closed {
		return
	}
	q.dropped += d.Dropped
	if q.size == len(q.ring) {
		q.dropped++
		metrics.QueueOverflows.Inc()
		return
	}
	q.head = (q.head - 1 + len(q.ring)) % len(q.ring)
	q.ring[q.head] = d.Event
	q.size++
	q.pending[d.Event.Handle] = struct{}{}
}

func safeCall(cb Callback, d types.Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panic: %v", r)
		}
	}()
	return cb(d)
}

// Len returns the number of buffered events
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap returns the maximum depth
func (q *Queue) Cap() int {
	return len(q.ring)
}

// Close drops pending events and stops push delivery. It is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	if q.w != nil {
		close(q.w.quit)
		q.w = nil
	}
	for i := range q.ring {
		q.ring[i] = nil
	}
	q.size = 0
	q.pending = nil
	close(q.done)

	q.logger.Debug().Msg("Queue closed")
}

// Done is closed when the queue is closed
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Name returns the queue name, the owning subscription ID
func (q *Queue) Name() string {
	return q.name
}
