package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerBroadcast(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	s1 := b.Subscribe(4)
	s2 := b.Subscribe(4)
	assert.Equal(t, 2, b.SubscriberCount())

	b.Publish(&Event{Type: EventClientConnected, ClientID: "c1"})

	for _, sub := range []Subscriber{s1, s2} {
		select {
		case ev := <-sub:
			assert.Equal(t, EventClientConnected, ev.Type)
			assert.Equal(t, "c1", ev.ClientID)
			assert.False(t, ev.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestBrokerUnsubscribe(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe(1)
	b.Unsubscribe(sub)
	b.Unsubscribe(sub)
	assert.Zero(t, b.SubscriberCount())

	_, open := <-sub
	assert.False(t, open)
}

func TestBrokerStopClosesSubscribers(t *testing.T) {
	b := NewBroker()
	b.Start()
	sub := b.Subscribe(1)

	b.Stop()
	b.Stop()

	_, open := <-sub
	assert.False(t, open)

	require.NotPanics(t, func() {
		b.Publish(&Event{Type: EventSchemaLoaded})
	})
}

func TestBrokerSlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	_ = b.Subscribe(1)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Publish(&Event{Type: EventQueueOverflow})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
}
