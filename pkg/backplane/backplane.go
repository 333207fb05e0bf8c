package backplane

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/ftb/pkg/events"
	"github.com/cuemby/ftb/pkg/registry"
	"github.com/cuemby/ftb/pkg/schema"
	"github.com/cuemby/ftb/pkg/types"
	"github.com/rs/zerolog"
)

// Backplane is the event backplane core: client registry, schema catalog,
// subscription filters and delivery queues behind the FTB operations.
type Backplane struct {
	cfg      config
	logger   zerolog.Logger
	registry *registry.Registry
	catalog  *schema.Catalog
	broker   *events.Broker

	sequencers sync.Map // event space -> *sequencer

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a backplane. With a store configured, persisted schemas are
// pre-loaded and sequence numbering resumes after the stored leases.
func New(opts ...Option) (*Backplane, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	b := &Backplane{
		cfg:      cfg,
		logger:   cfg.logger,
		registry: registry.New(),
		catalog:  schema.NewCatalog(),
		broker:   events.NewBroker(),
		stopCh:   make(chan struct{}),
	}

	if err := b.restore(); err != nil {
		return nil, err
	}

	b.broker.Start()

	if cfg.idleTimeout > 0 {
		b.wg.Add(1)
		go b.janitor()
	}

	b.logger.Info().
		Str("hostname", cfg.hostname).
		Int("queue_depth", cfg.queueDepth).
		Int("max_payload", cfg.maxPayload).
		Dur("idle_timeout", cfg.idleTimeout).
		Msg("Backplane started")
	return b, nil
}

func (b *Backplane) restore() error {
	store := b.cfg.store
	if store == nil {
		return nil
	}

	files, err := store.ListSchemas()
	if err != nil {
		return fmt.Errorf("failed to load schemas: %w", err)
	}
	for _, f := range files {
		if err := b.catalog.Preload(f.EventSpace, f.Events); err != nil {
			return fmt.Errorf("failed to restore schema %s: %w", f.EventSpace, err)
		}
	}

	leases, err := store.ListSequences()
	if err != nil {
		return fmt.Errorf("failed to load sequence leases: %w", err)
	}
	for space, lease := range leases {
		b.sequencers.Store(space, &sequencer{last: lease, lease: lease})
	}

	b.logger.Info().
		Int("schemas", len(files)).
		Int("sequences", len(leases)).
		Msg("Restored backplane state")
	return nil
}

// Resync reloads schemas and sequence leases from the store after it was
// changed by another node, e.g. when this node gains Raft leadership.
// Every sequencer gives up its current lease, so the next publish in each
// space persists a fresh one above anything handed out elsewhere.
func (b *Backplane) Resync() error {
	store := b.cfg.store
	if store == nil {
		return nil
	}

	files, err := store.ListSchemas()
	if err != nil {
		return fmt.Errorf("failed to load schemas: %w", err)
	}
	for _, f := range files {
		if err := b.catalog.Preload(f.EventSpace, f.Events); err != nil {
			b.logger.Warn().Err(err).Str("event_space", f.EventSpace).Msg("Skipping conflicting schema")
		}
	}

	leases, err := store.ListSequences()
	if err != nil {
		return fmt.Errorf("failed to load sequence leases: %w", err)
	}
	for space := range leases {
		b.sequencer(space)
	}
	b.sequencers.Range(func(k, v any) bool {
		s := v.(*sequencer)
		s.mu.Lock()
		if lease := leases[k.(string)]; lease > s.last {
			s.last = lease
		}
		s.lease = s.last
		s.mu.Unlock()
		return true
	})

	b.logger.Info().
		Int("schemas", len(files)).
		Int("sequences", len(leases)).
		Msg("Resynced backplane state")
	return nil
}

// Close disconnects every client and stops background work. The store,
// if any, is left open for its owner to close.
func (b *Backplane) Close() error {
	b.closeOnce.Do(func() {
		close(b.stopCh)
		b.wg.Wait()

		for _, c := range b.registry.Clients() {
			b.disconnect(c.ID, events.EventClientDisconnected, "backplane shutting down")
		}
		b.broker.Stop()
		b.logger.Info().Msg("Backplane stopped")
	})
	return nil
}

// Events returns the broker carrying lifecycle notifications
func (b *Backplane) Events() *events.Broker {
	return b.broker
}

// Clients returns every connected client
func (b *Backplane) Clients() []types.Client {
	return b.registry.Clients()
}

// Subscriptions returns the subscriptions of a connected client
func (b *Backplane) Subscriptions(clientID string) ([]types.Subscription, error) {
	if _, err := b.registry.Get(clientID); err != nil {
		return nil, err
	}
	subs := b.registry.ClientSubscriptions(clientID)
	views := make([]types.Subscription, 0, len(subs))
	for _, sub := range subs {
		views = append(views, sub.View())
	}
	return views, nil
}

// Declarations returns the publishable events of an event space
func (b *Backplane) Declarations(eventSpace string) []types.EventDeclaration {
	return b.catalog.Declarations(eventSpace)
}

// Stats returns a point-in-time summary of backplane state
func (b *Backplane) Stats() types.Stats {
	clients, subs := b.registry.Len()
	decls, spaces := b.catalog.Len()

	seqs := make(map[string]uint64)
	b.sequencers.Range(func(k, v any) bool {
		seqs[k.(string)] = v.(*sequencer).current()
		return true
	})

	return types.Stats{
		Clients:       clients,
		Subscriptions: subs,
		Declarations:  decls,
		EventSpaces:   spaces,
		Sequences:     seqs,
	}
}

func (b *Backplane) notify(typ events.EventType, clientID, space, msg string) {
	b.broker.Publish(&events.Event{
		Type:       typ,
		Timestamp:  time.Now(),
		ClientID:   clientID,
		EventSpace: space,
		Message:    msg,
	})
}
