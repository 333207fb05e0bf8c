package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/ftb/pkg/log"
	"github.com/cuemby/ftb/pkg/schema"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"
)

// ErrNotLeader is returned for writes submitted to a node that does not
// lead the Raft cluster
var ErrNotLeader = errors.New("not the raft leader")

// RaftPeer is a voting member of the cluster
type RaftPeer struct {
	ID      string
	Address string
}

// RaftConfig configures a RaftStore
type RaftConfig struct {
	// NodeID must be unique and stable across restarts
	NodeID string

	// BindAddr is the Raft transport listen address. AdvertiseAddr, when
	// set, is the address peers dial instead.
	BindAddr      string
	AdvertiseAddr string

	// DataDir holds the Raft log and snapshots
	DataDir string

	// Bootstrap forms a new cluster of this node plus Peers when no Raft
	// state exists yet. Every initial member bootstraps with the same peers.
	Bootstrap bool
	Peers     []RaftPeer

	// ApplyTimeout bounds a single replicated write
	ApplyTimeout time.Duration
}

// RaftStore replicates schema and sequence lease writes through Raft. Each
// node applies committed writes to its own BoltStore, which serves reads.
type RaftStore struct {
	local     *BoltStore
	fsm       *fsm
	raft      *raft.Raft
	logStore  *raftboltdb.BoltStore
	transport *raft.NetworkTransport
	timeout   time.Duration
	leaderCh  chan bool
	logger    zerolog.Logger
}

var _ Store = (*RaftStore)(nil)

// NewRaftStore starts a Raft node on top of local. The RaftStore owns
// local from then on and closes it in Close.
func NewRaftStore(local *BoltStore, cfg RaftConfig) (*RaftStore, error) {
	if cfg.NodeID == "" {
		return nil, errors.New("raft node id is required")
	}
	if cfg.ApplyTimeout <= 0 {
		cfg.ApplyTimeout = 5 * time.Second
	}
	logger := log.WithComponent("raft").With().Str("node_id", cfg.NodeID).Logger()

	dir := filepath.Join(cfg.DataDir, "raft")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create raft directory: %w", err)
	}

	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(cfg.NodeID)
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond
	config.LogOutput = logger
	config.LogLevel = "INFO"
	leaderCh := make(chan bool, 1)
	config.NotifyCh = leaderCh

	var advertise net.Addr
	if cfg.AdvertiseAddr != "" {
		addr, err := net.ResolveTCPAddr("tcp", cfg.AdvertiseAddr)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve advertise address: %w", err)
		}
		advertise = addr
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, advertise, 3, 10*time.Second, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	snapshots, err := raft.NewFileSnapshotStore(dir, 2, logger)
	if err != nil {
		transport.Close()
		return nil, fmt.Errorf("failed to create snapshot store: %w", err)
	}

	// The bolt store serves as both log store and stable store.
	logStore, err := raftboltdb.NewBoltStore(filepath.Join(dir, "raft.db"))
	if err != nil {
		transport.Close()
		return nil, fmt.Errorf("failed to create log store: %w", err)
	}

	f := newFSM(local)
	r, err := raft.NewRaft(config, f, logStore, logStore, snapshots, transport)
	if err != nil {
		logStore.Close()
		transport.Close()
		return nil, fmt.Errorf("failed to create raft: %w", err)
	}

	s := &RaftStore{
		local:     local,
		fsm:       f,
		raft:      r,
		logStore:  logStore,
		transport: transport,
		timeout:   cfg.ApplyTimeout,
		leaderCh:  leaderCh,
		logger:    logger,
	}

	if cfg.Bootstrap {
		if err := s.bootstrap(cfg, snapshots); err != nil {
			s.Close()
			return nil, err
		}
	}

	logger.Info().
		Str("addr", string(transport.LocalAddr())).
		Bool("bootstrap", cfg.Bootstrap).
		Int("peers", len(cfg.Peers)).
		Msg("Raft node started")
	return s, nil
}

func (s *RaftStore) bootstrap(cfg RaftConfig, snapshots raft.SnapshotStore) error {
	existing, err := raft.HasExistingState(s.logStore, s.logStore, snapshots)
	if err != nil {
		return fmt.Errorf("failed to inspect raft state: %w", err)
	}
	if existing {
		s.logger.Debug().Msg("Raft state exists, skipping bootstrap")
		return nil
	}

	servers := []raft.Server{{
		ID:      raft.ServerID(cfg.NodeID),
		Address: s.transport.LocalAddr(),
	}}
	for _, p := range cfg.Peers {
		if p.ID == cfg.NodeID {
			continue
		}
		servers = append(servers, raft.Server{
			ID:      raft.ServerID(p.ID),
			Address: raft.ServerAddress(p.Address),
		})
	}

	future := s.raft.BootstrapCluster(raft.Configuration{Servers: servers})
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to bootstrap cluster: %w", err)
	}
	return nil
}

// Apply submits a command to the cluster and waits until it is committed
// and applied locally
func (s *RaftStore) Apply(cmd Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	future := s.raft.Apply(data, s.timeout)
	if err := future.Error(); err != nil {
		if errors.Is(err, raft.ErrNotLeader) || errors.Is(err, raft.ErrLeadershipLost) {
			return fmt.Errorf("%w: leader is %q", ErrNotLeader, s.Leader())
		}
		return fmt.Errorf("failed to apply command: %w", err)
	}

	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}
	return nil
}

func (s *RaftStore) apply(op string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", op, err)
	}
	return s.Apply(Command{Op: op, Data: data})
}

// SaveSchema replicates a schema file
func (s *RaftStore) SaveSchema(file schema.File) error {
	if err := file.Validate(); err != nil {
		return err
	}
	return s.apply(opSaveSchema, file)
}

func (s *RaftStore) GetSchema(eventSpace string) (*schema.File, error) {
	return s.local.GetSchema(eventSpace)
}

func (s *RaftStore) ListSchemas() ([]schema.File, error) {
	return s.local.ListSchemas()
}

func (s *RaftStore) DeleteSchema(eventSpace string) error {
	return s.apply(opDeleteSchema, eventSpace)
}

// SaveSequence replicates a sequence lease. Only the leader can hand out
// leases, so at most one node numbers the events of a space at a time.
func (s *RaftStore) SaveSequence(eventSpace string, lease uint64) error {
	return s.apply(opSaveSequence, sequenceLease{EventSpace: eventSpace, Lease: lease})
}

func (s *RaftStore) ListSequences() (map[string]uint64, error) {
	return s.local.ListSequences()
}

// IsLeader reports whether this node currently leads the cluster
func (s *RaftStore) IsLeader() bool {
	return s.raft.State() == raft.Leader
}

// Leader returns the address of the current leader, or "" if unknown
func (s *RaftStore) Leader() string {
	addr, _ := s.raft.LeaderWithID()
	return string(addr)
}

// LeaderChanges delivers true when this node gains leadership and false
// when it loses it. Only the latest change is kept if nobody reads.
func (s *RaftStore) LeaderChanges() <-chan bool {
	return s.leaderCh
}

// WaitForLeader blocks until the cluster has a leader or ctx ends
func (s *RaftStore) WaitForLeader(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s.Leader() != "" {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("no raft leader: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Stats returns Raft state for diagnostics
func (s *RaftStore) Stats() map[string]string {
	return s.raft.Stats()
}

// Close stops the Raft node and closes its log and the local store
func (s *RaftStore) Close() error {
	var errs []error
	if err := s.raft.Shutdown().Error(); err != nil {
		errs = append(errs, fmt.Errorf("failed to shut down raft: %w", err))
	}
	if err := s.transport.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.logStore.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.local.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
