package registry

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/ftb/pkg/filter"
	"github.com/cuemby/ftb/pkg/queue"
	"github.com/cuemby/ftb/pkg/types"
	"github.com/google/uuid"
)

const shardCount = 32

// Subscription is an active subscription and the queue it owns
type Subscription struct {
	ID        string
	ClientID  string
	Filter    *filter.Filter
	Style     types.SubscriptionStyle
	Queue     *queue.Queue
	CreatedAt time.Time
}

// View returns the public form of the subscription
func (s *Subscription) View() types.Subscription {
	return types.Subscription{
		ID:        s.ID,
		ClientID:  s.ClientID,
		Filter:    s.Filter.String(),
		Style:     s.Style,
		CreatedAt: s.CreatedAt,
		Pushing:   s.Queue.HasCallback(),
		Pending:   s.Queue.Len(),
	}
}

type entry struct {
	mu     sync.Mutex
	client types.Client
	subs   map[string]*Subscription
}

type shard struct {
	mu      sync.RWMutex
	clients map[string]*entry
}

// Registry tracks connected clients and their subscriptions
type Registry struct {
	shards [shardCount]shard

	subs     sync.Map // subscription ID -> *Subscription
	snapMu   sync.Mutex
	snapshot atomic.Pointer[[]*Subscription]
	nsubs    atomic.Int64
}

// New creates an empty registry
func New() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].clients = make(map[string]*entry)
	}
	empty := []*Subscription{}
	r.snapshot.Store(&empty)
	return r
}

func (r *Registry) shard(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &r.shards[h.Sum32()%shardCount]
}

func (r *Registry) lookup(id string) (*entry, bool) {
	s := r.shard(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.clients[id]
	return e, ok
}

// Connect registers a new client and returns its record
func (r *Registry) Connect(info types.ClientInfo) (types.Client, error) {
	if err := info.Validate(); err != nil {
		return types.Client{}, err
	}
	style, err := types.ParseSubscriptionStyle(string(info.SubscriptionStyle))
	if err != nil {
		return types.Client{}, err
	}

	now := time.Now()
	client := types.Client{
		ID:                uuid.New().String(),
		EventSpace:        info.EventSpace,
		SchemaVersion:     info.SchemaVersion,
		ClientName:        info.ClientName,
		JobID:             info.JobID,
		SubscriptionStyle: style,
		Hostname:          info.Hostname,
		PID:               info.PID,
		PIDStartTime:      info.PIDStartTime,
		PollingQueueLen:   info.PollingQueueLen,
		State:             types.ClientConnected,
		ConnectedAt:       now,
		LastSeen:          now,
	}

	s := r.shard(client.ID)
	s.mu.Lock()
	s.clients[client.ID] = &entry{client: client, subs: make(map[string]*Subscription)}
	s.mu.Unlock()

	return client, nil
}

// Get returns the client record, or types.ErrClientNotConnected
func (r *Registry) Get(id string) (types.Client, error) {
	e, ok := r.lookup(id)
	if !ok {
		return types.Client{}, fmt.Errorf("%w: %s", types.ErrClientNotConnected, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client.State != types.ClientConnected {
		return types.Client{}, fmt.Errorf("%w: %s", types.ErrClientNotConnected, id)
	}
	return e.client, nil
}

// Touch records activity for a connected client
func (r *Registry) Touch(id string) {
	if e, ok := r.lookup(id); ok {
		e.mu.Lock()
		e.client.LastSeen = time.Now()
		e.mu.Unlock()
	}
}

// Disconnect removes the client and returns its final record and the
// subscriptions it owned. ok is false if the client was not connected.
func (r *Registry) Disconnect(id string) (client types.Client, subs []*Subscription, ok bool) {
	s := r.shard(id)
	s.mu.Lock()
	e, found := s.clients[id]
	delete(s.clients, id)
	s.mu.Unlock()

	if !found {
		return types.Client{}, nil, false
	}

	e.mu.Lock()
	e.client.State = types.ClientDisconnected
	for _, sub := range e.subs {
		subs = append(subs, sub)
	}
	e.subs = nil
	client = e.client
	e.mu.Unlock()

	for _, sub := range subs {
		if _, loaded := r.subs.LoadAndDelete(sub.ID); loaded {
			r.nsubs.Add(-1)
		}
	}
	if len(subs) > 0 {
		r.rebuild()
	}
	return client, subs, true
}

// AddSubscription attaches sub to its client. It fails with
// types.ErrClientNotConnected if the client is gone or going.
func (r *Registry) AddSubscription(sub *Subscription) error {
	e, ok := r.lookup(sub.ClientID)
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrClientNotConnected, sub.ClientID)
	}

	e.mu.Lock()
	if e.client.State != types.ClientConnected {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrClientNotConnected, sub.ClientID)
	}
	e.subs[sub.ID] = sub
	r.subs.Store(sub.ID, sub)
	r.nsubs.Add(1)
	e.mu.Unlock()

	r.rebuild()
	return nil
}

// RemoveSubscription detaches and returns the subscription
func (r *Registry) RemoveSubscription(id string) (*Subscription, error) {
	v, ok := r.subs.LoadAndDelete(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrSubscriptionNotFound, id)
	}
	sub := v.(*Subscription)
	r.nsubs.Add(-1)

	if e, ok := r.lookup(sub.ClientID); ok {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}

	r.rebuild()
	return sub, nil
}

// Subscription returns an active subscription by ID
func (r *Registry) Subscription(id string) (*Subscription, error) {
	v, ok := r.subs.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrSubscriptionNotFound, id)
	}
	return v.(*Subscription), nil
}

// Subscriptions returns a snapshot of every active subscription. The
// returned slice is shared and must not be modified.
func (r *Registry) Subscriptions() []*Subscription {
	return *r.snapshot.Load()
}

// ClientSubscriptions returns the active subscriptions of one client
func (r *Registry) ClientSubscriptions(clientID string) []*Subscription {
	e, ok := r.lookup(clientID)
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	subs := make([]*Subscription, 0, len(e.subs))
	for _, sub := range e.subs {
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool {
		return subs[i].CreatedAt.Before(subs[j].CreatedAt)
	})
	return subs
}

func (r *Registry) rebuild() {
	r.snapMu.Lock()
	defer r.snapMu.Unlock()

	subs := make([]*Subscription, 0, r.nsubs.Load())
	r.subs.Range(func(_, v any) bool {
		subs = append(subs, v.(*Subscription))
		return true
	})
	r.snapshot.Store(&subs)
}

// Clients returns every connected client ordered by connect time
func (r *Registry) Clients() []types.Client {
	var clients []types.Client
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		for _, e := range s.clients {
			e.mu.Lock()
			clients = append(clients, e.client)
			e.mu.Unlock()
		}
		s.mu.RUnlock()
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].ConnectedAt.Before(clients[j].ConnectedAt)
	})
	return clients
}

// Idle returns the IDs of clients with no activity for longer than timeout
func (r *Registry) Idle(timeout time.Duration) []string {
	cutoff := time.Now().Add(-timeout)
	var ids []string
	for _, c := range r.Clients() {
		if c.LastSeen.Before(cutoff) {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// Len returns the number of connected clients and active subscriptions
func (r *Registry) Len() (clients, subscriptions int) {
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		clients += len(s.clients)
		s.mu.RUnlock()
	}
	return clients, len(r.Subscriptions())
}
