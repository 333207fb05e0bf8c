package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/cuemby/ftb/pkg/api"
	"github.com/cuemby/ftb/pkg/log"
	"github.com/cuemby/ftb/pkg/queue"
	"github.com/cuemby/ftb/pkg/schema"
	"github.com/cuemby/ftb/pkg/security"
	"github.com/cuemby/ftb/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// DefaultTimeout bounds every unary call
const DefaultTimeout = 10 * time.Second

// processStart approximates the start time of this process
var processStart = time.Now().UTC().Format(time.RFC3339)

// Client talks to a remote backplane over gRPC. Its methods mirror
// backplane.Backplane so callers can switch between the two.
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
	logger  zerolog.Logger

	mu      sync.Mutex
	streams map[string]*stream
}

type stream struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Client
type Option func(*options) error

type options struct {
	tls     *tls.Config
	timeout time.Duration
	dialer  func(context.Context, string) (net.Conn, error)
}

// WithTLS dials with the given TLS configuration
func WithTLS(cfg *tls.Config) Option {
	return func(o *options) error {
		o.tls = cfg
		return nil
	}
}

// WithCertDir dials with mutual TLS using the certificates in dir
func WithCertDir(dir string) Option {
	return func(o *options) error {
		cfg, err := security.ClientTLSConfig(dir)
		if err != nil {
			return fmt.Errorf("failed to load client certificates: %w", err)
		}
		o.tls = cfg
		return nil
	}
}

// WithTimeout overrides DefaultTimeout
func WithTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d > 0 {
			o.timeout = d
		}
		return nil
	}
}

// WithDialer replaces the network dialer, e.g. for in-memory listeners
func WithDialer(dialer func(context.Context, string) (net.Conn, error)) Option {
	return func(o *options) error {
		o.dialer = dialer
		return nil
	}
}

// NewClient creates a client for the backplane at addr. The connection is
// established lazily on the first call.
func NewClient(addr string, opts ...Option) (*Client, error) {
	o := options{timeout: DefaultTimeout}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}

	creds := insecure.NewCredentials()
	if o.tls != nil {
		creds = credentials.NewTLS(o.tls)
	}
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(api.CodecName)),
	}
	if o.dialer != nil {
		dialOpts = append(dialOpts, grpc.WithContextDialer(o.dialer))
	}

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", addr, err)
	}

	return &Client{
		conn:    conn,
		timeout: o.timeout,
		logger:  log.WithComponent("client"),
		streams: make(map[string]*stream),
	}, nil
}

// Close stops all event streams and closes the connection
func (c *Client) Close() error {
	c.stopStreams()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) invoke(method string, req, resp any) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	var trailer metadata.MD
	err := c.conn.Invoke(ctx, method, req, resp, grpc.Trailer(&trailer))
	return api.FromStatus(err, trailer)
}

// Connect registers a client with the backplane. The calling process is
// reported as the client's location unless info already names one.
func (c *Client) Connect(info types.ClientInfo) (types.Client, error) {
	if info.PID == 0 {
		info.PID = uint32(os.Getpid())
		info.PIDStartTime = processStart
	}

	var resp api.ConnectResponse
	if err := c.invoke(api.MethodConnect, &api.ConnectRequest{Info: info}, &resp); err != nil {
		return types.Client{}, err
	}
	return resp.Client, nil
}

// Disconnect ends the session. Local event streams of the client's
// subscriptions end when the server removes them.
func (c *Client) Disconnect(clientID string) error {
	return c.invoke(api.MethodDisconnect, &api.DisconnectRequest{ClientID: clientID}, &api.Empty{})
}

// DeclarePublishableEvents declares the events the client may publish
func (c *Client) DeclarePublishableEvents(clientID string, infos []types.EventInfo) error {
	return c.invoke(api.MethodDeclare, &api.DeclareRequest{ClientID: clientID, Events: infos}, &api.Empty{})
}

// Publish publishes a declared event
func (c *Client) Publish(clientID, eventName string, payload []byte) (types.EventHandle, error) {
	return c.PublishEvent(clientID, eventName, types.EventProperties{Type: types.EventNormal, Payload: payload})
}

// PublishEvent publishes a declared event with explicit properties
func (c *Client) PublishEvent(clientID, eventName string, props types.EventProperties) (types.EventHandle, error) {
	var resp api.PublishResponse
	req := &api.PublishRequest{ClientID: clientID, EventName: eventName, EventType: props.Type, Payload: props.Payload}
	if err := c.invoke(api.MethodPublish, req, &resp); err != nil {
		return types.EventHandle{}, err
	}
	return resp.Handle, nil
}

// Subscribe creates a subscription and returns its ID
func (c *Client) Subscribe(clientID, filterExpr string) (string, error) {
	var resp api.SubscribeResponse
	if err := c.invoke(api.MethodSubscribe, &api.SubscribeRequest{ClientID: clientID, Filter: filterExpr}, &resp); err != nil {
		return "", err
	}
	return resp.SubscriptionID, nil
}

// Unsubscribe removes a subscription
func (c *Client) Unsubscribe(subscriptionID string) error {
	err := c.invoke(api.MethodUnsubscribe, &api.UnsubscribeRequest{SubscriptionID: subscriptionID}, &api.Empty{})
	c.stopStream(subscriptionID, false)
	return err
}

// PollEvent returns the oldest pending delivery, or types.ErrNoEvent
func (c *Client) PollEvent(subscriptionID string) (types.Delivery, error) {
	var resp api.PollResponse
	if err := c.invoke(api.MethodPollEvent, &api.PollRequest{SubscriptionID: subscriptionID}, &resp); err != nil {
		return types.Delivery{}, err
	}
	if !resp.Found {
		return types.Delivery{}, types.ErrNoEvent
	}
	return resp.Delivery, nil
}

// LoadSchema preloads schema files on the server
func (c *Client) LoadSchema(files ...schema.File) error {
	return c.invoke(api.MethodLoadSchema, &api.LoadSchemaRequest{Files: files}, &api.Empty{})
}

// Stats returns the server's counters and connected clients
func (c *Client) Stats() (*api.StatsResponse, error) {
	var resp api.StatsResponse
	if err := c.invoke(api.MethodStats, &api.Empty{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Declarations lists the declarations of an event space
func (c *Client) Declarations(eventSpace string) ([]types.EventDeclaration, error) {
	var resp api.ListDeclarationsResponse
	if err := c.invoke(api.MethodListDeclarations, &api.ListDeclarationsRequest{EventSpace: eventSpace}, &resp); err != nil {
		return nil, err
	}
	return resp.Declarations, nil
}

// RegisterCallback switches a subscription to push delivery. cb runs on a
// goroutine owned by the client, one delivery at a time, until
// UnregisterCallback, Unsubscribe or Close, or until the server ends the
// subscription. Registering again replaces the previous callback.
func (c *Client) RegisterCallback(subscriptionID string, cb queue.Callback) error {
	if cb == nil {
		return fmt.Errorf("%w: nil callback", types.ErrInvalidCallback)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cs, err := c.openStream(ctx, subscriptionID)
	if err != nil {
		cancel()
		return err
	}

	st := &stream{cancel: cancel, done: make(chan struct{})}
	c.mu.Lock()
	prev := c.streams[subscriptionID]
	c.streams[subscriptionID] = st
	c.mu.Unlock()
	if prev != nil {
		prev.cancel()
	}

	go c.receive(subscriptionID, cs, st, cb)
	return nil
}

// openStream starts StreamEvents and waits until the server has installed
// the callback, so registration errors surface here.
func (c *Client) openStream(ctx context.Context, subscriptionID string) (grpc.ClientStream, error) {
	cs, err := c.conn.NewStream(ctx, &api.StreamEventsDesc, api.MethodStreamEvents)
	if err != nil {
		return nil, err
	}
	if err := cs.SendMsg(&api.StreamEventsRequest{SubscriptionID: subscriptionID}); err != nil {
		return nil, c.streamError(cs, err)
	}
	if err := cs.CloseSend(); err != nil {
		return nil, c.streamError(cs, err)
	}

	md, err := cs.Header()
	if err != nil {
		return nil, c.streamError(cs, err)
	}
	if len(md.Get(api.StreamReadyKey)) == 0 {
		// Trailers-only response: the call failed before any event.
		var d types.Delivery
		err := cs.RecvMsg(&d)
		if err == nil || errors.Is(err, io.EOF) {
			err = fmt.Errorf("%w: event stream closed", types.ErrSubscriptionNotFound)
		}
		return nil, c.streamError(cs, err)
	}
	return cs, nil
}

func (c *Client) streamError(cs grpc.ClientStream, err error) error {
	if errors.Is(err, io.EOF) {
		var d types.Delivery
		err = cs.RecvMsg(&d)
	}
	return api.FromStatus(err, cs.Trailer())
}

func (c *Client) receive(subscriptionID string, cs grpc.ClientStream, st *stream, cb queue.Callback) {
	defer close(st.done)
	defer c.forget(subscriptionID, st)

	logger := c.logger.With().Str("subscription_id", subscriptionID).Logger()
	for {
		var d types.Delivery
		if err := cs.RecvMsg(&d); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
				logger.Debug().Err(err).Msg("Event stream ended")
			}
			return
		}
		if err := cb(d); err != nil {
			logger.Warn().Err(err).Uint64("seqnum", d.Event.Seqnum).Msg("Callback failed")
		}
	}
}

// forget drops st from the stream table unless it was already replaced
func (c *Client) forget(subscriptionID string, st *stream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streams[subscriptionID] == st {
		delete(c.streams, subscriptionID)
	}
	st.cancel()
}

// UnregisterCallback returns the subscription to polling. Events not yet
// pushed stay queued on the server. It waits for a running callback to
// return, so it must not be called from inside the callback.
func (c *Client) UnregisterCallback(subscriptionID string) error {
	if !c.stopStream(subscriptionID, true) {
		return fmt.Errorf("%w: no callback registered for %s", types.ErrSubscriptionNotFound, subscriptionID)
	}
	return nil
}

func (c *Client) stopStream(subscriptionID string, wait bool) bool {
	c.mu.Lock()
	st, ok := c.streams[subscriptionID]
	delete(c.streams, subscriptionID)
	c.mu.Unlock()

	if !ok {
		return false
	}
	st.cancel()
	if wait {
		<-st.done
	}
	return true
}

func (c *Client) stopStreams() {
	c.mu.Lock()
	streams := c.streams
	c.streams = make(map[string]*stream)
	c.mu.Unlock()

	for _, st := range streams {
		st.cancel()
		<-st.done
	}
}
