package client

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/ftb/pkg/api"
	"github.com/cuemby/ftb/pkg/backplane"
	"github.com/cuemby/ftb/pkg/schema"
	"github.com/cuemby/ftb/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/test/bufconn"
)

func newTestClient(t *testing.T) (*Client, *backplane.Backplane) {
	t.Helper()

	bp, err := backplane.New(backplane.WithHostname("node-1"))
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	srv := api.NewServer(bp)
	go func() { _ = srv.Serve(lis) }()

	c, err := NewClient("passthrough:///bufnet",
		WithTimeout(5*time.Second),
		WithDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)

	t.Cleanup(func() {
		c.Close()
		srv.Stop()
		bp.Close()
	})
	return c, bp
}

func connect(t *testing.T, c *Client, space, name string) string {
	t.Helper()
	me, err := c.Connect(types.ClientInfo{EventSpace: space, SchemaVersion: "0.5", ClientName: name})
	require.NoError(t, err)
	return me.ID
}

func TestPublishAndPoll(t *testing.T) {
	c, _ := newTestClient(t)

	pub := connect(t, c, "FTB.DEMO", "publisher")
	require.NoError(t, c.DeclarePublishableEvents(pub, []types.EventInfo{{Name: "FAIL", Severity: "INFO"}}))

	sub := connect(t, c, "FTB.DEMO", "subscriber")
	id, err := c.Subscribe(sub, "event_name=FAIL")
	require.NoError(t, err)

	_, err = c.PollEvent(id)
	assert.ErrorIs(t, err, types.ErrNoEvent)

	handle, err := c.Publish(pub, "FAIL", []byte("x=1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), handle.Seqnum)

	d, err := c.PollEvent(id)
	require.NoError(t, err)
	assert.Equal(t, handle, d.Event.Handle)
	assert.Equal(t, "FAIL", d.Event.Name)
	assert.Equal(t, []byte("x=1"), d.Event.Payload)
	assert.Equal(t, "node-1", d.Event.Hostname)
	assert.Equal(t, types.EventNormal, d.Event.Type)
	assert.Equal(t, uint32(os.Getpid()), d.Event.PID)
	assert.NotEmpty(t, d.Event.PIDStartTime)
}

func TestPublishResponseEvent(t *testing.T) {
	c, _ := newTestClient(t)

	pub := connect(t, c, "FTB.DEMO", "publisher")
	require.NoError(t, c.DeclarePublishableEvents(pub, []types.EventInfo{{Name: "HYBRID_FAIL", Severity: "INFO"}}))
	sub := connect(t, c, "FTB.DEMO", "subscriber")
	id, err := c.Subscribe(sub, "")
	require.NoError(t, err)

	_, err = c.PublishEvent(pub, "HYBRID_FAIL", types.EventProperties{
		Type:    types.EventResponse,
		Payload: []byte("PARTITION=ANL-R00-1024"),
	})
	require.NoError(t, err)

	d, err := c.PollEvent(id)
	require.NoError(t, err)
	assert.Equal(t, types.EventResponse, d.Event.Type)
	assert.Equal(t, fmt.Sprintf("node-1-%d", os.Getpid()), d.Event.Source())

	_, err = c.PublishEvent(pub, "HYBRID_FAIL", types.EventProperties{Type: "urgent"})
	assert.ErrorIs(t, err, types.ErrInvalidEventInfo)
}

func TestErrorKindsCrossTheWire(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.Connect(types.ClientInfo{EventSpace: "FTB", ClientName: "x"})
	assert.ErrorIs(t, err, types.ErrInvalidClientInfo)

	_, err = c.Publish("missing", "FAIL", nil)
	assert.ErrorIs(t, err, types.ErrClientNotConnected)

	pub := connect(t, c, "FTB.DEMO", "publisher")
	_, err = c.Publish(pub, "FAIL", nil)
	assert.ErrorIs(t, err, types.ErrEventNotDeclared)

	_, err = c.Subscribe(pub, "event_name")
	assert.ErrorIs(t, err, types.ErrInvalidFilterSyntax)

	err = c.Unsubscribe("no-such-subscription")
	assert.ErrorIs(t, err, types.ErrSubscriptionNotFound)

	var remote *api.RemoteError
	assert.ErrorAs(t, err, &remote)
}

func TestRegisterCallbackStreamsInOrder(t *testing.T) {
	c, _ := newTestClient(t)

	pub := connect(t, c, "FTB.DEMO", "publisher")
	require.NoError(t, c.DeclarePublishableEvents(pub, []types.EventInfo{{Name: "FAIL", Severity: "INFO"}}))
	sub := connect(t, c, "FTB.DEMO", "subscriber")
	id, err := c.Subscribe(sub, "")
	require.NoError(t, err)

	var mu sync.Mutex
	var seqs []uint64
	require.NoError(t, c.RegisterCallback(id, func(d types.Delivery) error {
		mu.Lock()
		defer mu.Unlock()
		seqs = append(seqs, d.Event.Seqnum)
		return nil
	}))

	for i := 0; i < 10; i++ {
		_, err := c.Publish(pub, "FAIL", nil)
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seqs) == 10
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	for i, s := range seqs {
		assert.Equal(t, uint64(i+1), s)
	}
	mu.Unlock()

	require.NoError(t, c.UnregisterCallback(id))
	assert.ErrorIs(t, c.UnregisterCallback(id), types.ErrSubscriptionNotFound)
}

func TestRegisterCallbackUnknownSubscription(t *testing.T) {
	c, _ := newTestClient(t)

	err := c.RegisterCallback("no-such-subscription", func(types.Delivery) error { return nil })
	assert.ErrorIs(t, err, types.ErrSubscriptionNotFound)

	err = c.RegisterCallback("x", nil)
	assert.ErrorIs(t, err, types.ErrInvalidCallback)
}

func TestUnregisterCallbackReturnsToPolling(t *testing.T) {
	c, bp := newTestClient(t)

	pub := connect(t, c, "FTB.DEMO", "publisher")
	require.NoError(t, c.DeclarePublishableEvents(pub, []types.EventInfo{{Name: "FAIL", Severity: "INFO"}}))
	sub := connect(t, c, "FTB.DEMO", "subscriber")
	id, err := c.Subscribe(sub, "")
	require.NoError(t, err)

	require.NoError(t, c.RegisterCallback(id, func(types.Delivery) error { return nil }))
	s, err := bp.Subscription(id)
	require.NoError(t, err)
	assert.True(t, s.Pushing)

	require.NoError(t, c.UnregisterCallback(id))
	assert.Eventually(t, func() bool {
		s, err := bp.Subscription(id)
		return err == nil && !s.Pushing
	}, 5*time.Second, 10*time.Millisecond)

	_, err = c.Publish(pub, "FAIL", nil)
	require.NoError(t, err)
	d, err := c.PollEvent(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), d.Event.Seqnum)
}

func TestDisconnectEndsStreams(t *testing.T) {
	c, _ := newTestClient(t)

	sub := connect(t, c, "FTB.DEMO", "subscriber")
	id, err := c.Subscribe(sub, "")
	require.NoError(t, err)
	require.NoError(t, c.RegisterCallback(id, func(types.Delivery) error { return nil }))

	require.NoError(t, c.Disconnect(sub))

	assert.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.streams) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestLoadSchemaAndStats(t *testing.T) {
	c, _ := newTestClient(t)

	require.NoError(t, c.LoadSchema(schema.File{
		EventSpace: "FTB.FTB_EXAMPLES.watchdog",
		Events:     []types.EventInfo{{Name: "WATCH_DOG_EVENT", Severity: "INFO"}},
	}))

	decls, err := c.Declarations("FTB.FTB_EXAMPLES.watchdog")
	require.NoError(t, err)
	require.Len(t, decls, 1)
	assert.Equal(t, "WATCH_DOG_EVENT", decls[0].Name)

	connect(t, c, "FTB.FTB_EXAMPLES.watchdog", "watchdog")

	stats, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Stats.Clients)
	assert.Equal(t, 1, stats.Stats.Declarations)
	assert.Len(t, stats.Clients, 1)
}
