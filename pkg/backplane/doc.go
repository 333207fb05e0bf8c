/*
Package backplane implements the fault tolerance backplane core.

A Backplane is created once at startup and owns every piece of shared
state: the client registry, the schema catalog, per event space sequencers
and the delivery queues of all subscriptions. Every operation takes the
client or subscription handle it acts on; there is no ambient global state.

# Operations

	Connect                  register a client, returns its handle
	Disconnect               remove a client, its declarations and subscriptions
	DeclarePublishableEvents declare (name, severity) pairs for the client's space
	Publish                  sequence an event and fan it out to matching queues
	Subscribe                compile a filter and create a delivery queue
	Unsubscribe              destroy a subscription and its queue
	PollEvent                non-blocking dequeue, ErrNoEvent when empty
	RegisterCallback         push delivery on a goroutine owned by the queue

# Ordering

Sequence numbers are strictly increasing per event space. The sequencer of
a space is held while the number is assigned and the event is enqueued, so
every queue sees events of one space in sequence order. Unrelated spaces
never share a lock.

# Failure model

Callers get a typed error for every rejected operation, matched with
errors.Is against the sentinels in package types. A full queue drops the
event for that subscription only and reports the loss on its next delivery.
A broken internal invariant fails the single operation with ErrInternal;
binaries built with the ftbdebug tag panic instead.

# Persistence

With a store configured, schemas loaded through LoadSchema survive restarts
and sequence numbers are leased in blocks so numbering never goes backwards
after a crash. Clients, subscriptions and queued events are volatile.
*/
package backplane
