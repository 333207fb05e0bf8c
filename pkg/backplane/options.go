package backplane

import (
	"os"
	"time"

	"github.com/cuemby/ftb/pkg/filter"
	"github.com/cuemby/ftb/pkg/log"
	"github.com/cuemby/ftb/pkg/queue"
	"github.com/cuemby/ftb/pkg/storage"
	"github.com/cuemby/ftb/pkg/types"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

type config struct {
	queueDepth       int
	maxPayload       int
	hostname         string
	logger           zerolog.Logger
	store            storage.Store
	filterOpts       []filter.Option
	idleTimeout      time.Duration
	evictionInterval time.Duration
	leaseSize        uint64
	breaker          *gobreaker.Settings
}

func defaultConfig() config {
	hostname, err := os.Hostname()
	if err != nil || len(hostname) > types.MaxHostnameLen {
		hostname = "localhost"
	}
	return config{
		queueDepth:       queue.DefaultDepth,
		maxPayload:       types.DefaultMaxPayload,
		hostname:         hostname,
		logger:           log.WithComponent("backplane"),
		evictionInterval: time.Minute,
		leaseSize:        1000,
	}
}

// Option configures a Backplane
type Option func(*config)

// WithQueueDepth sets the default depth of subscription queues. A client's
// polling queue length overrides it for that client's subscriptions.
func WithQueueDepth(depth int) Option {
	return func(c *config) {
		if depth > 0 {
			c.queueDepth = depth
		}
	}
}

// WithMaxPayload sets the largest accepted payload in bytes
func WithMaxPayload(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxPayload = n
		}
	}
}

// WithHostname sets the hostname stamped on events from clients that did
// not report one.
func WithHostname(hostname string) Option {
	return func(c *config) {
		if hostname != "" {
			c.hostname = hostname
		}
	}
}

// WithLogger overrides the backplane logger
func WithLogger(logger zerolog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithStore persists loaded schemas and sequence leases
func WithStore(store storage.Store) Option {
	return func(c *config) {
		c.store = store
	}
}

// WithFilterOptions configures how subscription filters are compiled
func WithFilterOptions(opts ...filter.Option) Option {
	return func(c *config) {
		c.filterOpts = append(c.filterOpts, opts...)
	}
}

// WithIdleTimeout enables eviction of clients silent for longer than d
func WithIdleTimeout(d time.Duration) Option {
	return func(c *config) {
		c.idleTimeout = d
	}
}

// WithEvictionInterval sets how often idle clients are looked for
func WithEvictionInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.evictionInterval = d
		}
	}
}

// WithSequenceLease sets how many sequence numbers are reserved per store write
func WithSequenceLease(n uint64) Option {
	return func(c *config) {
		if n > 0 {
			c.leaseSize = n
		}
	}
}

// WithCallbackBreaker sets the circuit breaker used for callback subscriptions
func WithCallbackBreaker(settings gobreaker.Settings) Option {
	return func(c *config) {
		c.breaker = &settings
	}
}
