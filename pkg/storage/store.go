package storage

import (
	"github.com/cuemby/ftb/pkg/schema"
)

// Store defines the durable state of a backplane: pre-loaded schemas
// and the sequence leases that keep numbering monotonic across restarts.
type Store interface {
	// Schemas
	SaveSchema(file schema.File) error
	GetSchema(eventSpace string) (*schema.File, error)
	ListSchemas() ([]schema.File, error)
	DeleteSchema(eventSpace string) error

	// Sequence leases
	SaveSequence(eventSpace string, lease uint64) error
	ListSequences() (map[string]uint64, error)

	// Utility
	Close() error
}
