package queue

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/ftb/pkg/types"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEvent(seq uint64) *types.Event {
	h := types.NewEventHandle("FTB.TEST", seq)
	return &types.Event{Handle: h, EventSpace: h.EventSpace, Name: "E", Seqnum: seq}
}

func TestPollFIFO(t *testing.T) {
	q := New("sub-1", 4)

	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, q.Enqueue(newEvent(i)))
	}
	assert.Equal(t, 3, q.Len())

	for i := uint64(1); i <= 3; i++ {
		d, err := q.Poll()
		require.NoError(t, err)
		assert.Equal(t, i, d.Event.Seqnum)
		assert.Zero(t, d.Dropped)
	}

	_, err := q.Poll()
	assert.ErrorIs(t, err, types.ErrNoEvent)
}

func TestEnqueueDeduplicates(t *testing.T) {
	q := New("sub-1", 4)
	ev := newEvent(1)

	require.NoError(t, q.Enqueue(ev))
	require.NoError(t, q.Enqueue(ev))
	assert.Equal(t, 1, q.Len())
}

func TestOverflowReportedOnNextDelivery(t *testing.T) {
	q := New("sub-1", 2)

	require.NoError(t, q.Enqueue(newEvent(1)))
	require.NoError(t, q.Enqueue(newEvent(2)))
	assert.ErrorIs(t, q.Enqueue(newEvent(3)), types.ErrQueueOverflow)
	assert.ErrorIs(t, q.Enqueue(newEvent(4)), types.ErrQueueOverflow)

	d, err := q.Poll()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), d.Event.Seqnum)
	assert.Equal(t, uint64(2), d.Dropped)

	d, err = q.Poll()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), d.Event.Seqnum)
	assert.Zero(t, d.Dropped)
}

func TestRingWrapsAround(t *testing.T) {
	q := New("sub-1", 3)

	var next uint64 = 1
	for round := 0; round < 5; round++ {
		require.NoError(t, q.Enqueue(newEvent(next)))
		require.NoError(t, q.Enqueue(newEvent(next+1)))
		for i := 0; i < 2; i++ {
			d, err := q.Poll()
			require.NoError(t, err)
			assert.Equal(t, next, d.Event.Seqnum)
			next++
		}
	}
}

func TestDefaultDepth(t *testing.T) {
	assert.Equal(t, DefaultDepth, New("sub-1", 0).Cap())
}

func TestClose(t *testing.T) {
	q := New("sub-1", 4)
	require.NoError(t, q.Enqueue(newEvent(1)))

	q.Close()
	q.Close()

	select {
	case <-q.Done():
	default:
		t.Fatal("done channel not closed")
	}

	assert.NoError(t, q.Enqueue(newEvent(2)), "enqueue after close is a silent drop")
	_, err := q.Poll()
	assert.ErrorIs(t, err, types.ErrSubscriptionNotFound)
	assert.ErrorIs(t, q.SetCallback(func(types.Delivery) error { return nil }), types.ErrSubscriptionNotFound)
}

type recorder struct {
	mu   sync.Mutex
	seqs []uint64
}

func (r *recorder) callback(d types.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seqs = append(r.seqs, d.Event.Seqnum)
	return nil
}

func (r *recorder) got() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.seqs...)
}

func TestCallbackFlushesBufferedThenLive(t *testing.T) {
	q := New("sub-1", 8)
	defer q.Close()

	require.NoError(t, q.Enqueue(newEvent(1)))
	require.NoError(t, q.Enqueue(newEvent(2)))

	rec := &recorder{}
	require.NoError(t, q.SetCallback(rec.callback))
	assert.True(t, q.HasCallback())

	require.NoError(t, q.Enqueue(newEvent(3)))

	require.Eventually(t, func() bool { return len(rec.got()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []uint64{1, 2, 3}, rec.got())
	assert.Zero(t, q.Len())
}

func TestSetCallbackRejectsNil(t *testing.T) {
	q := New("sub-1", 8)
	err := q.SetCallback(nil)
	assert.ErrorIs(t, err, types.ErrInvalidCallback)
	assert.NotErrorIs(t, err, types.ErrInvalidClientInfo)
}

func TestCallbackFailureDoesNotStopDelivery(t *testing.T) {
	q := New("sub-1", 8)
	defer q.Close()

	rec := &recorder{}
	require.NoError(t, q.SetCallback(func(d types.Delivery) error {
		if d.Event.Seqnum == 1 {
			return errors.New("consumer down")
		}
		if d.Event.Seqnum == 2 {
			panic("consumer bug")
		}
		return rec.callback(d)
	}))

	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, q.Enqueue(newEvent(i)))
	}

	require.Eventually(t, func() bool { return len(rec.got()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []uint64{3}, rec.got())
}

func TestOpenBreakerHoldsEvents(t *testing.T) {
	q := New("sub-1", 8, WithBreaker(gobreaker.Settings{
		Timeout: time.Hour,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
	}))
	defer q.Close()

	var mu sync.Mutex
	invoked := 0
	require.NoError(t, q.SetCallback(func(types.Delivery) error {
		mu.Lock()
		defer mu.Unlock()
		invoked++
		return errors.New("always failing")
	}))

	for i := uint64(1); i <= 4; i++ {
		require.NoError(t, q.Enqueue(newEvent(i)))
	}

	// The first event reached the failing callback; the rest wait behind
	// the open breaker.
	require.Eventually(t, func() bool { return q.Len() == 3 }, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, invoked)
	mu.Unlock()

	q.ClearCallback()
	require.NoError(t, q.Enqueue(newEvent(5)))
	for i := uint64(2); i <= 5; i++ {
		d, err := q.Poll()
		require.NoError(t, err)
		assert.Equal(t, i, d.Event.Seqnum)
		assert.Zero(t, d.Dropped)
	}
}

func TestBreakerRecoversAndDeliversHeldEvents(t *testing.T) {
	q := New("sub-1", 8, WithBreaker(gobreaker.Settings{
		Timeout: 50 * time.Millisecond,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
	}))
	defer q.Close()

	var mu sync.Mutex
	var got []uint64
	failed := false
	require.NoError(t, q.SetCallback(func(d types.Delivery) error {
		mu.Lock()
		defer mu.Unlock()
		if !failed {
			failed = true
			return errors.New("first call fails")
		}
		got = append(got, d.Event.Seqnum)
		return nil
	}))

	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, q.Enqueue(newEvent(i)))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint64{2, 3}, got)
}

func TestClearCallbackReturnsToPolling(t *testing.T) {
	q := New("sub-1", 8)
	defer q.Close()

	rec := &recorder{}
	require.NoError(t, q.SetCallback(rec.callback))
	require.NoError(t, q.Enqueue(newEvent(1)))
	require.Eventually(t, func() bool { return len(rec.got()) == 1 }, time.Second, 5*time.Millisecond)

	q.ClearCallback()
	assert.False(t, q.HasCallback())

	require.NoError(t, q.Enqueue(newEvent(2)))
	d, err := q.Poll()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), d.Event.Seqnum)
	assert.Equal(t, []uint64{1}, rec.got())
}

func TestReplaceCallbackKeepsOrder(t *testing.T) {
	q := New("sub-1", 64)
	defer q.Close()

	first, second := &recorder{}, &recorder{}
	require.NoError(t, q.SetCallback(first.callback))
	for i := uint64(1); i <= 10; i++ {
		require.NoError(t, q.Enqueue(newEvent(i)))
	}
	require.NoError(t, q.SetCallback(second.callback))
	for i := uint64(11); i <= 20; i++ {
		require.NoError(t, q.Enqueue(newEvent(i)))
	}

	require.Eventually(t, func() bool {
		return len(first.got())+len(second.got()) == 20
	}, time.Second, 5*time.Millisecond)

	all := append(first.got(), second.got()...)
	for i, seq := range all {
		assert.Equal(t, uint64(i+1), seq)
	}
}

func TestConcurrentEnqueuePoll(t *testing.T) {
	q := New("sub-1", 16)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(base uint64) {
			defer wg.Done()
			for i := uint64(0); i < 100; i++ {
				_ = q.Enqueue(newEvent(base + i))
			}
		}(uint64(p) * 1000)
	}

	received := 0
	stop := make(chan struct{})
	var pollWg sync.WaitGroup
	pollWg.Add(1)
	go func() {
		defer pollWg.Done()
		for {
			if _, err := q.Poll(); err == nil {
				received++
				continue
			}
			select {
			case <-stop:
				return
			default:
			}
		}
	}()

	wg.Wait()
	close(stop)
	pollWg.Wait()

	assert.LessOrEqual(t, received, 400)
}

func TestUnavailableCallbackRequeues(t *testing.T) {
	q := New("sub-unavailable", 8)
	defer q.Close()

	for i := 1; i <= 3; i++ {
		require.NoError(t, q.Enqueue(newEvent(uint64(i))))
	}

	calls := make(chan uint64, 8)
	require.NoError(t, q.SetCallback(func(d types.Delivery) error {
		calls <- d.Event.Seqnum
		return ErrUnavailable
	}))

	select {
	case seq := <-calls:
		assert.Equal(t, uint64(1), seq)
	case <-time.After(2 * time.Second):
		t.Fatal("callback not invoked")
	}

	assert.Eventually(t, func() bool { return !q.HasCallback() }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, q.Len())

	d, err := q.Poll()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), d.Event.Seqnum, "refused delivery stays at the head")
}
