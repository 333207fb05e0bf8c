package backplane

import (
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/ftb/pkg/events"
	"github.com/cuemby/ftb/pkg/metrics"
	"github.com/cuemby/ftb/pkg/types"
)

// Publish stamps an event declared by the client with the next sequence
// number of its event space and enqueues it on every matching
// subscription. It returns once fan-out has been attempted; delivery to
// pollers and callbacks happens afterwards.
func (b *Backplane) Publish(clientID, eventName string, payload []byte) (types.EventHandle, error) {
	return b.PublishEvent(clientID, eventName, types.EventProperties{Type: types.EventNormal, Payload: payload})
}

// PublishEvent is Publish with explicit event properties
func (b *Backplane) PublishEvent(clientID, eventName string, props types.EventProperties) (types.EventHandle, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PublishDuration)

	handle, err := b.publish(clientID, eventName, props)
	if err != nil {
		metrics.PublishErrors.WithLabelValues(types.ErrorKind(err)).Inc()
		return types.EventHandle{}, err
	}
	return handle, nil
}

func (b *Backplane) publish(clientID, eventName string, props types.EventProperties) (types.EventHandle, error) {
	client, err := b.registry.Get(clientID)
	if err != nil {
		return types.EventHandle{}, err
	}
	b.registry.Touch(clientID)

	typ, err := types.ParseEventType(string(props.Type))
	if err != nil {
		return types.EventHandle{}, err
	}
	payload := props.Payload
	if len(payload) > b.cfg.maxPayload {
		return types.EventHandle{}, fmt.Errorf("%w: %d bytes exceeds %d", types.ErrPayloadTooLarge, len(payload), b.cfg.maxPayload)
	}

	decl, err := b.catalog.CanPublish(clientID, client.EventSpace, eventName)
	if err != nil {
		return types.EventHandle{}, err
	}

	seqr := b.sequencer(client.EventSpace)
	seqr.mu.Lock()
	defer seqr.mu.Unlock()

	seq, err := b.next(client.EventSpace, seqr)
	if err != nil {
		return types.EventHandle{}, err
	}

	handle := types.NewEventHandle(client.EventSpace, seq)
	ev := &types.Event{
		Handle:       handle,
		EventSpace:   client.EventSpace,
		Name:         decl.Name,
		Severity:     decl.Severity,
		Type:         typ,
		ClientID:     client.ID,
		ClientName:   client.ClientName,
		JobID:        client.JobID,
		Hostname:     client.Hostname,
		PID:          client.PID,
		PIDStartTime: client.PIDStartTime,
		Seqnum:       seq,
		Payload:      append([]byte(nil), payload...),
		PublishedAt:  time.Now(),
	}

	matched := b.fanout(ev)

	metrics.EventsPublished.WithLabelValues(string(typ)).Inc()
	metrics.FanoutSize.Observe(float64(matched))

	b.logger.Debug().
		Str("client_id", clientID).
		Str("event_space", client.EventSpace).
		Str("event_name", eventName).
		Str("event_type", string(typ)).
		Uint64("seqnum", seq).
		Int("matched", matched).
		Msg("Event published")
	return handle, nil
}

// fanout enqueues ev on every subscription whose filter matches. An
// overflow affects only the overflowing subscription.
func (b *Backplane) fanout(ev *types.Event) int {
	matched := 0
	for _, sub := range b.registry.Subscriptions() {
		if !sub.Filter.Match(ev) {
			continue
		}
		matched++

		err := sub.Queue.Enqueue(ev)
		if errors.Is(err, types.ErrQueueOverflow) {
			b.logger.Warn().
				Str("subscription_id", sub.ID).
				Str("client_id", sub.ClientID).
				Uint64("seqnum", ev.Seqnum).
				Msg("Delivery queue full, event dropped")
			b.notify(events.EventQueueOverflow, sub.ClientID, ev.EventSpace, sub.ID)
		}
	}
	return matched
}
