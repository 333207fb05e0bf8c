package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/ftb/pkg/filter"
	"github.com/cuemby/ftb/pkg/queue"
	"github.com/cuemby/ftb/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func demoInfo() types.ClientInfo {
	return types.ClientInfo{
		EventSpace:    "FTB.DEMO",
		SchemaVersion: "0.5",
		ClientName:    "demo",
	}
}

func newSub(clientID string) *Subscription {
	id := uuid.New().String()
	return &Subscription{
		ID:        id,
		ClientID:  clientID,
		Filter:    filter.MustCompile("event_name=FAIL"),
		Style:     types.SubscriptionPolling,
		Queue:     queue.New(id, 8),
		CreatedAt: time.Now(),
	}
}

func TestConnect(t *testing.T) {
	r := New()

	c, err := r.Connect(demoInfo())
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, types.ClientConnected, c.State)
	assert.Equal(t, types.SubscriptionPolling, c.SubscriptionStyle)

	got, err := r.Get(c.ID)
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestConnectInvalid(t *testing.T) {
	r := New()

	info := demoInfo()
	info.ClientName = ""
	_, err := r.Connect(info)
	assert.ErrorIs(t, err, types.ErrInvalidClientInfo)

	info = demoInfo()
	info.SubscriptionStyle = "push"
	_, err = r.Connect(info)
	assert.ErrorIs(t, err, types.ErrInvalidClientInfo)

	clients, _ := r.Len()
	assert.Zero(t, clients)
}

func TestConnectNormalizesStyle(t *testing.T) {
	r := New()

	info := demoInfo()
	info.SubscriptionStyle = "FTB_SUBSCRIPTION_NOTIFY"
	c, err := r.Connect(info)
	require.NoError(t, err)
	assert.Equal(t, types.SubscriptionCallback, c.SubscriptionStyle)
}

func TestDisconnectCascades(t *testing.T) {
	r := New()
	c, err := r.Connect(demoInfo())
	require.NoError(t, err)

	s1, s2 := newSub(c.ID), newSub(c.ID)
	require.NoError(t, r.AddSubscription(s1))
	require.NoError(t, r.AddSubscription(s2))
	assert.Len(t, r.Subscriptions(), 2)
	assert.Len(t, r.ClientSubscriptions(c.ID), 2)

	final, subs, ok := r.Disconnect(c.ID)
	require.True(t, ok)
	assert.Equal(t, types.ClientDisconnected, final.State)
	assert.Len(t, subs, 2)
	assert.Empty(t, r.Subscriptions())

	_, err = r.Get(c.ID)
	assert.ErrorIs(t, err, types.ErrClientNotConnected)
	_, err = r.Subscription(s1.ID)
	assert.ErrorIs(t, err, types.ErrSubscriptionNotFound)

	_, _, ok = r.Disconnect(c.ID)
	assert.False(t, ok, "second disconnect is a no-op")
}

func TestAddSubscriptionUnknownClient(t *testing.T) {
	r := New()
	assert.ErrorIs(t, r.AddSubscription(newSub("nobody")), types.ErrClientNotConnected)
}

func TestRemoveSubscription(t *testing.T) {
	r := New()
	c, err := r.Connect(demoInfo())
	require.NoError(t, err)

	sub := newSub(c.ID)
	require.NoError(t, r.AddSubscription(sub))

	got, err := r.Subscription(sub.ID)
	require.NoError(t, err)
	assert.Same(t, sub, got)

	removed, err := r.RemoveSubscription(sub.ID)
	require.NoError(t, err)
	assert.Same(t, sub, removed)
	assert.Empty(t, r.Subscriptions())
	assert.Empty(t, r.ClientSubscriptions(c.ID))

	_, err = r.RemoveSubscription(sub.ID)
	assert.ErrorIs(t, err, types.ErrSubscriptionNotFound)
}

func TestSubscriptionView(t *testing.T) {
	sub := newSub("c1")
	v := sub.View()
	assert.Equal(t, sub.ID, v.ID)
	assert.Equal(t, "c1", v.ClientID)
	assert.Equal(t, "event_name=FAIL", v.Filter)
	assert.Equal(t, types.SubscriptionPolling, v.Style)
}

func TestTouchAndIdle(t *testing.T) {
	r := New()
	stale, err := r.Connect(demoInfo())
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	fresh, err := r.Connect(demoInfo())
	require.NoError(t, err)

	idle := r.Idle(20 * time.Millisecond)
	assert.Equal(t, []string{stale.ID}, idle)

	r.Touch(stale.ID)
	assert.Empty(t, r.Idle(20*time.Millisecond))

	clients := r.Clients()
	require.Len(t, clients, 2)
	assert.Equal(t, stale.ID, clients[0].ID)
	assert.Equal(t, fresh.ID, clients[1].ID)
}

func TestConcurrentConnectDisconnect(t *testing.T) {
	r := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			info := demoInfo()
			info.ClientName = fmt.Sprintf("c%d", i)
			c, err := r.Connect(info)
			if !assert.NoError(t, err) {
				return
			}
			sub := newSub(c.ID)
			var addErr error
			done := make(chan struct{})
			go func() {
				addErr = r.AddSubscription(sub)
				close(done)
			}()
			_, subs, ok := r.Disconnect(c.ID)
			<-done
			assert.True(t, ok)

			// The subscription either made it in and was cascaded, or was refused.
			if addErr == nil {
				assert.Len(t, subs, 1)
			} else {
				assert.ErrorIs(t, addErr, types.ErrClientNotConnected)
				assert.Empty(t, subs)
			}
		}(i)
	}
	wg.Wait()

	clients, subs := r.Len()
	assert.Zero(t, clients)
	assert.Zero(t, subs)
}
