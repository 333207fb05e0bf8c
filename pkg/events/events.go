package events

import (
	"sync"
	"time"
)

// EventType represents the type of lifecycle event
type EventType string

const (
	EventClientConnected     EventType = "client.connected"
	EventClientDisconnected  EventType = "client.disconnected"
	EventClientEvicted       EventType = "client.evicted"
	EventSubscriptionCreated EventType = "subscription.created"
	EventSubscriptionRemoved EventType = "subscription.removed"
	EventSchemaLoaded        EventType = "schema.loaded"
	EventQueueOverflow       EventType = "queue.overflow"
)

// Event is a backplane lifecycle notification. These never enter the
// publish pipeline; they describe it.
type Event struct {
	Type       EventType
	Timestamp  time.Time
	ClientID   string
	EventSpace string
	Message    string
	Metadata   map[string]string
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker fans lifecycle events out to local subscribers
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 256),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's distribution loop
func (b *Broker) Start() {
	b.wg.Add(1)
	go b.run()
}

// Stop stops the broker and closes every subscriber channel
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
		b.wg.Wait()

		b.mu.Lock()
		defer b.mu.Unlock()
		for sub := range b.subscribers {
			close(sub)
		}
		b.subscribers = make(map[Subscriber]bool)
	})
}

// Subscribe creates a new subscription with the given buffer size
func (b *Broker) Subscribe(buffer int) Subscriber {
	if buffer <= 0 {
		buffer = 64
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, buffer)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish queues an event for broadcast. It never blocks: when the broker
// is backed up or stopped the event is discarded.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case <-b.stopCh:
	case b.eventCh <- event:
	default:
	}
}

func (b *Broker) run() {
	defer b.wg.Done()
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
