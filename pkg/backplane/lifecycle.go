package backplane

import (
	"time"

	"github.com/cuemby/ftb/pkg/events"
	"github.com/cuemby/ftb/pkg/metrics"
	"github.com/cuemby/ftb/pkg/types"
)

// Connect registers a client and returns its record. The client ID is the
// handle for every other operation.
func (b *Backplane) Connect(info types.ClientInfo) (types.Client, error) {
	if info.Hostname == "" {
		info.Hostname = b.cfg.hostname
	}

	client, err := b.registry.Connect(info)
	if err != nil {
		return types.Client{}, err
	}

	b.logger.Info().
		Str("client_id", client.ID).
		Str("event_space", client.EventSpace).
		Str("client_name", client.ClientName).
		Str("style", string(client.SubscriptionStyle)).
		Msg("Client connected")
	b.notify(events.EventClientConnected, client.ID, client.EventSpace, client.ClientName)
	return client, nil
}

// Disconnect removes a client together with its declarations and
// subscriptions. Undelivered events are dropped. Disconnecting an unknown
// or already disconnected client is a no-op.
func (b *Backplane) Disconnect(clientID string) error {
	b.disconnect(clientID, events.EventClientDisconnected, "")
	return nil
}

func (b *Backplane) disconnect(clientID string, typ events.EventType, reason string) bool {
	client, subs, ok := b.registry.Disconnect(clientID)
	if !ok {
		return false
	}

	for _, sub := range subs {
		sub.Queue.Close()
	}
	undeclared := b.catalog.Undeclare(clientID, client.EventSpace)

	b.logger.Info().
		Str("client_id", clientID).
		Str("event_space", client.EventSpace).
		Int("subscriptions", len(subs)).
		Int("declarations", undeclared).
		Str("reason", reason).
		Msg("Client disconnected")
	b.notify(typ, clientID, client.EventSpace, reason)
	return true
}

// janitor evicts clients that stopped talking to the backplane
func (b *Backplane) janitor() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.evictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.evictIdle()
		case <-b.stopCh:
			return
		}
	}
}

func (b *Backplane) evictIdle() int {
	evicted := 0
	for _, id := range b.registry.Idle(b.cfg.idleTimeout) {
		if b.disconnect(id, events.EventClientEvicted, "idle timeout") {
			metrics.ClientsEvicted.Inc()
			evicted++
		}
	}
	return evicted
}
