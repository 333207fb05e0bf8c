package queue

import (
	"time"

	"github.com/cuemby/ftb/pkg/log"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// DefaultDepth is the queue depth used when none is configured
const DefaultDepth = 1024

type config struct {
	logger  zerolog.Logger
	breaker gobreaker.Settings
}

func defaultConfig(name string) config {
	return config{
		logger: log.WithSubscriptionID(name).With().Str("component", "queue").Logger(),
		breaker: gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		},
	}
}

// cooldown is how long a queue holds events while its breaker is open
func (c config) cooldown() time.Duration {
	if c.breaker.Timeout <= 0 {
		// gobreaker's own default
		return 60 * time.Second
	}
	return c.breaker.Timeout
}

// Option configures a Queue
type Option func(*config)

// WithLogger overrides the queue logger
func WithLogger(logger zerolog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithBreaker sets the circuit breaker guarding callback invocations.
// The breaker name is always the queue name.
func WithBreaker(settings gobreaker.Settings) Option {
	return func(c *config) {
		name := c.breaker.Name
		c.breaker = settings
		c.breaker.Name = name
	}
}
