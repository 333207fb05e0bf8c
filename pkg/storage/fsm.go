package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/cuemby/ftb/pkg/schema"
	"github.com/hashicorp/raft"
)

// Replicated operations
const (
	opSaveSchema   = "save_schema"
	opDeleteSchema = "delete_schema"
	opSaveSequence = "save_sequence"
)

// Command is one replicated state change in the Raft log
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

type sequenceLease struct {
	EventSpace string `json:"event_space"`
	Lease      uint64 `json:"lease"`
}

// fsm applies committed commands to the node's local BoltStore
type fsm struct {
	mu    sync.RWMutex
	store *BoltStore
}

func newFSM(store *BoltStore) *fsm {
	return &fsm{store: store}
}

// Apply is called by Raft once a log entry is committed
func (f *fsm) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case opSaveSchema:
		var file schema.File
		if err := json.Unmarshal(cmd.Data, &file); err != nil {
			return err
		}
		return f.store.SaveSchema(file)

	case opDeleteSchema:
		var eventSpace string
		if err := json.Unmarshal(cmd.Data, &eventSpace); err != nil {
			return err
		}
		return f.store.DeleteSchema(eventSpace)

	case opSaveSequence:
		var l sequenceLease
		if err := json.Unmarshal(cmd.Data, &l); err != nil {
			return err
		}
		return f.store.SaveSequence(l.EventSpace, l.Lease)

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

// Snapshot captures every schema and sequence lease
func (f *fsm) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	schemas, err := f.store.ListSchemas()
	if err != nil {
		return nil, fmt.Errorf("failed to list schemas: %w", err)
	}
	sequences, err := f.store.ListSequences()
	if err != nil {
		return nil, fmt.Errorf("failed to list sequences: %w", err)
	}
	return &snapshot{Schemas: schemas, Sequences: sequences}, nil
}

// Restore replaces the schemas with the snapshot's. Sequence leases only
// ever grow, so they are merged.
func (f *fsm) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap snapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	existing, err := f.store.ListSchemas()
	if err != nil {
		return err
	}
	for _, file := range existing {
		if err := f.store.DeleteSchema(file.EventSpace); err != nil {
			return fmt.Errorf("failed to drop schema %s: %w", file.EventSpace, err)
		}
	}
	for _, file := range snap.Schemas {
		if err := f.store.SaveSchema(file); err != nil {
			return fmt.Errorf("failed to restore schema %s: %w", file.EventSpace, err)
		}
	}
	for space, lease := range snap.Sequences {
		if err := f.store.SaveSequence(space, lease); err != nil {
			return fmt.Errorf("failed to restore sequence %s: %w", space, err)
		}
	}
	return nil
}

// snapshot is a point-in-time copy of the replicated state
type snapshot struct {
	Schemas   []schema.File     `json:"schemas"`
	Sequences map[string]uint64 `json:"sequences"`
}

// Persist writes the snapshot to the given SnapshotSink
func (s *snapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()

	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *snapshot) Release() {}
