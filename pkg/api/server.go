package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/cuemby/ftb/pkg/log"
	"github.com/cuemby/ftb/pkg/queue"
	"github.com/cuemby/ftb/pkg/schema"
	"github.com/cuemby/ftb/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

// Backplane is the set of operations the server exposes remotely
type Backplane interface {
	Connect(info types.ClientInfo) (types.Client, error)
	Disconnect(clientID string) error
	DeclarePublishableEvents(clientID string, infos []types.EventInfo) error
	PublishEvent(clientID, eventName string, props types.EventProperties) (types.EventHandle, error)
	Subscribe(clientID, filterExpr string) (string, error)
	Unsubscribe(subscriptionID string) error
	PollEvent(subscriptionID string) (types.Delivery, error)
	RegisterCallback(subscriptionID string, cb queue.Callback) error
	UnregisterCallback(subscriptionID string) error
	SubscriptionDone(subscriptionID string) (<-chan struct{}, error)
	LoadSchema(files ...schema.File) error
	Declarations(eventSpace string) []types.EventDeclaration
	Clients() []types.Client
	Stats() types.Stats
}

// Server implements the ftb.Backplane gRPC service
type Server struct {
	bp     Backplane
	grpc   *grpc.Server
	local  *grpc.Server
	logger zerolog.Logger

	// streamMu guards streams, the generation of the stream currently
	// owning each subscription's callback.
	streamMu sync.Mutex
	streams  map[string]uint64
	streamN  uint64
}

// StreamReadyKey is the header sent once a stream's callback is installed
const StreamReadyKey = "ftb-stream"

var _ BackplaneServer = (*Server)(nil)

// ServerOption configures a Server
type ServerOption func(*serverConfig)

type serverConfig struct {
	tls *tls.Config
}

// WithTLS serves the TCP listener over TLS
func WithTLS(cfg *tls.Config) ServerOption {
	return func(c *serverConfig) {
		c.tls = cfg
	}
}

// NewServer creates a new API server for bp
func NewServer(bp Backplane, opts ...ServerOption) *Server {
	var cfg serverConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	grpcOpts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(RecoveryInterceptor(), MetricsInterceptor()),
		grpc.ChainStreamInterceptor(StreamMetricsInterceptor()),
	}
	if cfg.tls != nil {
		grpcOpts = append(grpcOpts, grpc.Creds(credentials.NewTLS(cfg.tls)))
	}

	local := grpc.NewServer(
		grpc.ChainUnaryInterceptor(ReadOnlyInterceptor(), RecoveryInterceptor(), MetricsInterceptor()),
		grpc.ChainStreamInterceptor(ReadOnlyStreamInterceptor()),
	)

	s := &Server{
		bp:      bp,
		grpc:    grpc.NewServer(grpcOpts...),
		local:   local,
		logger:  log.WithComponent("api"),
		streams: make(map[string]uint64),
	}
	s.grpc.RegisterService(&ServiceDesc, s)
	s.local.RegisterService(&ServiceDesc, s)
	return s
}

// Start listens on addr and serves until Stop
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// Serve serves on an existing listener
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC API listening")
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// StartUnix serves a read-only copy of the service on a Unix socket for
// local inspection tools.
func (s *Server) StartUnix(path string) error {
	_ = os.Remove(path)
	lis, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("failed to listen on unix socket: %w", err)
	}
	if err := os.Chmod(path, 0660); err != nil {
		lis.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.logger.Info().Str("path", path).Msg("Read-only API listening on unix socket")
	if err := s.local.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// stopGrace bounds how long Stop waits for open callback streams.
const stopGrace = 5 * time.Second

// Stop gracefully stops the gRPC servers. Streams still open after
// stopGrace are cancelled.
func (s *Server) Stop() {
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		s.local.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(stopGrace):
		s.logger.Warn().Msg("Callback streams still open, forcing stop")
		s.grpc.Stop()
		s.local.Stop()
		<-done
	}
}

// Connect registers a client. A client that reports no hostname is
// stamped with its peer address.
func (s *Server) Connect(ctx context.Context, req *ConnectRequest) (*ConnectResponse, error) {
	info := req.Info
	if info.Hostname == "" {
		info.Hostname = peerHost(ctx)
	}

	client, err := s.bp.Connect(info)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return &ConnectResponse{Client: client}, nil
}

func peerHost(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(p.Addr.String())
	if err != nil || len(host) > types.MaxHostnameLen {
		return ""
	}
	return host
}

func (s *Server) Disconnect(ctx context.Context, req *DisconnectRequest) (*Empty, error) {
	return &Empty{}, toStatus(ctx, s.bp.Disconnect(req.ClientID))
}

func (s *Server) DeclarePublishableEvents(ctx context.Context, req *DeclareRequest) (*Empty, error) {
	if err := s.bp.DeclarePublishableEvents(req.ClientID, req.Events); err != nil {
		return nil, toStatus(ctx, err)
	}
	return &Empty{}, nil
}

func (s *Server) Publish(ctx context.Context, req *PublishRequest) (*PublishResponse, error) {
	props := types.EventProperties{Type: req.EventType, Payload: req.Payload}
	handle, err := s.bp.PublishEvent(req.ClientID, req.EventName, props)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return &PublishResponse{Handle: handle}, nil
}

func (s *Server) Subscribe(ctx context.Context, req *SubscribeRequest) (*SubscribeResponse, error) {
	id, err := s.bp.Subscribe(req.ClientID, req.Filter)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return &SubscribeResponse{SubscriptionID: id}, nil
}

func (s *Server) Unsubscribe(ctx context.Context, req *UnsubscribeRequest) (*Empty, error) {
	if err := s.bp.Unsubscribe(req.SubscriptionID); err != nil {
		return nil, toStatus(ctx, err)
	}
	return &Empty{}, nil
}

// PollEvent answers Found false instead of an error when nothing is pending
func (s *Server) PollEvent(ctx context.Context, req *PollRequest) (*PollResponse, error) {
	d, err := s.bp.PollEvent(req.SubscriptionID)
	if errors.Is(err, types.ErrNoEvent) {
		return &PollResponse{}, nil
	}
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return &PollResponse{Found: true, Delivery: d}, nil
}

func (s *Server) LoadSchema(ctx context.Context, req *LoadSchemaRequest) (*Empty, error) {
	if err := s.bp.LoadSchema(req.Files...); err != nil {
		return nil, toStatus(ctx, err)
	}
	return &Empty{}, nil
}

func (s *Server) Stats(ctx context.Context, _ *Empty) (*StatsResponse, error) {
	return &StatsResponse{Stats: s.bp.Stats(), Clients: s.bp.Clients()}, nil
}

func (s *Server) ListDeclarations(ctx context.Context, req *ListDeclarationsRequest) (*ListDeclarationsResponse, error) {
	return &ListDeclarationsResponse{Declarations: s.bp.Declarations(req.EventSpace)}, nil
}

// StreamEvents is the remote form of RegisterCallback. Deliveries for the
// subscription are pushed on the stream until the client goes away or the
// subscription ends; the subscription then returns to polling.
func (s *Server) StreamEvents(req *StreamEventsRequest, stream grpc.ServerStream) error {
	ctx := stream.Context()

	done, err := s.bp.SubscriptionDone(req.SubscriptionID)
	if err != nil {
		return streamStatus(stream, err)
	}

	deliveries := make(chan types.Delivery)
	gen, err := s.attach(req.SubscriptionID, func(d types.Delivery) error {
		select {
		case deliveries <- d:
			return nil
		case <-ctx.Done():
			return queue.ErrUnavailable
		}
	})
	if err != nil {
		return streamStatus(stream, err)
	}
	defer s.detach(req.SubscriptionID, gen)

	if err := stream.SendHeader(metadata.Pairs(StreamReadyKey, req.SubscriptionID)); err != nil {
		return err
	}

	s.logger.Debug().Str("subscription_id", req.SubscriptionID).Msg("Event stream opened")
	for {
		select {
		case d := <-deliveries:
			if err := stream.SendMsg(&d); err != nil {
				return err
			}
		case <-done:
			s.logger.Debug().Str("subscription_id", req.SubscriptionID).Msg("Subscription ended, closing stream")
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// attach installs cb as the subscription's callback on behalf of a new
// stream, superseding any earlier stream for the same subscription.
func (s *Server) attach(subscriptionID string, cb queue.Callback) (uint64, error) {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()

	if err := s.bp.RegisterCallback(subscriptionID, cb); err != nil {
		return 0, err
	}
	s.streamN++
	s.streams[subscriptionID] = s.streamN
	return s.streamN, nil
}

// detach returns the subscription to polling unless a newer stream took
// it over.
func (s *Server) detach(subscriptionID string, gen uint64) {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()

	if s.streams[subscriptionID] != gen {
		return
	}
	delete(s.streams, subscriptionID)
	_ = s.bp.UnregisterCallback(subscriptionID)
}

func streamStatus(stream grpc.ServerStream, err error) error {
	if kind := types.ErrorKind(err); kind != "" {
		stream.SetTrailer(kindTrailer(kind))
	}
	return statusError(err)
}
