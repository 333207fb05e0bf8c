package backplane

import (
	"time"

	"github.com/cuemby/ftb/pkg/events"
	"github.com/cuemby/ftb/pkg/filter"
	"github.com/cuemby/ftb/pkg/log"
	"github.com/cuemby/ftb/pkg/queue"
	"github.com/cuemby/ftb/pkg/registry"
	"github.com/cuemby/ftb/pkg/types"
	"github.com/google/uuid"
)

// Subscribe compiles filterExpr and creates a subscription with its own
// delivery queue. Events published after Subscribe returns are never
// missed while the subscription lives.
func (b *Backplane) Subscribe(clientID, filterExpr string) (string, error) {
	client, err := b.registry.Get(clientID)
	if err != nil {
		return "", err
	}
	b.registry.Touch(clientID)

	f, err := filter.Compile(filterExpr, b.cfg.filterOpts...)
	if err != nil {
		return "", err
	}

	depth := b.cfg.queueDepth
	if client.PollingQueueLen > 0 {
		depth = client.PollingQueueLen
	}

	id := uuid.New().String()
	qopts := []queue.Option{queue.WithLogger(log.WithSubscriptionID(id).With().Str("client_id", clientID).Logger())}
	if b.cfg.breaker != nil {
		qopts = append(qopts, queue.WithBreaker(*b.cfg.breaker))
	}

	sub := &registry.Subscription{
		ID:        id,
		ClientID:  clientID,
		Filter:    f,
		Style:     client.SubscriptionStyle,
		Queue:     queue.New(id, depth, qopts...),
		CreatedAt: time.Now(),
	}
	if err := b.registry.AddSubscription(sub); err != nil {
		sub.Queue.Close()
		return "", err
	}

	b.logger.Debug().
		Str("client_id", clientID).
		Str("subscription_id", id).
		Str("filter", f.String()).
		Bool("match_all", f.MatchesAll()).
		Int("depth", depth).
		Msg("Subscription created")
	b.notify(events.EventSubscriptionCreated, clientID, client.EventSpace, id)
	return id, nil
}

// Unsubscribe destroys a subscription and drops its undelivered events
func (b *Backplane) Unsubscribe(subscriptionID string) error {
	sub, err := b.registry.RemoveSubscription(subscriptionID)
	if err != nil {
		return err
	}
	sub.Queue.Close()
	b.registry.Touch(sub.ClientID)

	b.logger.Debug().
		Str("client_id", sub.ClientID).
		Str("subscription_id", subscriptionID).
		Msg("Subscription removed")
	b.notify(events.EventSubscriptionRemoved, sub.ClientID, "", subscriptionID)
	return nil
}

// PollEvent dequeues the oldest pending event of a subscription without
// blocking. It returns types.ErrNoEvent when nothing is pending.
func (b *Backplane) PollEvent(subscriptionID string) (types.Delivery, error) {
	sub, err := b.registry.Subscription(subscriptionID)
	if err != nil {
		return types.Delivery{}, err
	}
	b.registry.Touch(sub.ClientID)
	return sub.Queue.Poll()
}

// RegisterCallback switches a subscription to push delivery. The callback
// runs on a goroutine owned by the subscription, never on the publisher's.
func (b *Backplane) RegisterCallback(subscriptionID string, cb queue.Callback) error {
	sub, err := b.registry.Subscription(subscriptionID)
	if err != nil {
		return err
	}
	b.registry.Touch(sub.ClientID)
	return sub.Queue.SetCallback(cb)
}

// UnregisterCallback returns a subscription to polling
func (b *Backplane) UnregisterCallback(subscriptionID string) error {
	sub, err := b.registry.Subscription(subscriptionID)
	if err != nil {
		return err
	}
	sub.Queue.ClearCallback()
	return nil
}

// SubscriptionDone returns a channel closed when the subscription ends
func (b *Backplane) SubscriptionDone(subscriptionID string) (<-chan struct{}, error) {
	sub, err := b.registry.Subscription(subscriptionID)
	if err != nil {
		return nil, err
	}
	return sub.Queue.Done(), nil
}

// Subscription returns the public view of an active subscription
func (b *Backplane) Subscription(subscriptionID string) (types.Subscription, error) {
	sub, err := b.registry.Subscription(subscriptionID)
	if err != nil {
		return types.Subscription{}, err
	}
	return sub.View(), nil
}
