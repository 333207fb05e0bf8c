package backplane

import (
	"fmt"

	"github.com/cuemby/ftb/pkg/events"
	"github.com/cuemby/ftb/pkg/schema"
	"github.com/cuemby/ftb/pkg/types"
)

// DeclarePublishableEvents registers the events a client may publish in its
// event space. An empty list is valid and relies on a pre-loaded schema.
func (b *Backplane) DeclarePublishableEvents(clientID string, infos []types.EventInfo) error {
	client, err := b.registry.Get(clientID)
	if err != nil {
		return err
	}
	b.registry.Touch(clientID)

	if err := b.catalog.Declare(clientID, client.EventSpace, infos); err != nil {
		return err
	}

	// A disconnect that raced this call has already run its undeclare.
	if _, err := b.registry.Get(clientID); err != nil {
		b.catalog.Undeclare(clientID, client.EventSpace)
		return err
	}

	b.logger.Debug().
		Str("client_id", clientID).
		Str("event_space", client.EventSpace).
		Int("events", len(infos)).
		Msg("Declared publishable events")
	return nil
}

// LoadSchema pre-loads schema files. Their events may be published by any
// client of the event space and outlive client connections. With a store
// configured the schemas are persisted and restored on the next start.
func (b *Backplane) LoadSchema(files ...schema.File) error {
	for _, f := range files {
		if err := f.Validate(); err != nil {
			return err
		}
	}

	for _, f := range files {
		if err := b.catalog.Preload(f.EventSpace, f.Events); err != nil {
			return err
		}
		if b.cfg.store != nil {
			if err := b.cfg.store.SaveSchema(f); err != nil {
				return fmt.Errorf("failed to persist schema %s: %w", f.EventSpace, err)
			}
		}

		b.logger.Info().
			Str("event_space", f.EventSpace).
			Int("events", len(f.Events)).
			Msg("Schema loaded")
		b.notify(events.EventSchemaLoaded, "", f.EventSpace, fmt.Sprintf("%d events", len(f.Events)))
	}
	return nil
}
