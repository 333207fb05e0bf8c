/*
Package storage provides BoltDB-backed persistence for backplane state.

Only state that must survive a restart is stored: schema files loaded
through the API, and the sequence leases of every event space. Client
connections, subscriptions and queued events are deliberately volatile.

Each concern lives in its own bucket with JSON or fixed-width values:

	schemas    event space -> schema.File (JSON)
	sequences  event space -> uint64 lease (big endian)

A sequence lease is the highest number the backplane may hand out before
writing a new lease. After a crash numbering resumes at the stored lease,
so sequence numbers never go backwards even if some are skipped.

	store, err := storage.NewBoltStore("/var/lib/ftb")
	if err != nil {
		return err
	}
	defer store.Close()

RaftStore replicates the same writes across nodes with hashicorp/raft. The
Raft log lives in raft-boltdb under <data_dir>/raft, and each node applies
committed commands to its own BoltStore. Writes on a follower fail with
ErrNotLeader; reads are always local.
*/
package storage
