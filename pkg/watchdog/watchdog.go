package watchdog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/ftb/pkg/health"
	"github.com/cuemby/ftb/pkg/log"
	"github.com/cuemby/ftb/pkg/metrics"
	"github.com/cuemby/ftb/pkg/types"
	"github.com/rs/zerolog"
)

// ErrUnhealthy is returned by Run once the configured number of
// consecutive cycles failed
var ErrUnhealthy = errors.New("backplane unhealthy")

// Backplane is the part of the backplane API the watchdog drives. Both the
// in-process backplane and the remote client satisfy it.
type Backplane interface {
	Connect(info types.ClientInfo) (types.Client, error)
	Disconnect(clientID string) error
	DeclarePublishableEvents(clientID string, infos []types.EventInfo) error
	Publish(clientID, eventName string, payload []byte) (types.EventHandle, error)
	Subscribe(clientID, filterExpr string) (string, error)
	PollEvent(subscriptionID string) (types.Delivery, error)
}

// Config describes the watchdog client and its heartbeat
type Config struct {
	EventSpace string
	ClientName string
	EventName  string
	Severity   string
	Filter     string

	// Preloaded skips declaring EventName and relies on a loaded schema
	Preloaded bool

	Health health.Config
}

// DefaultConfig is the classic FTB watchdog
func DefaultConfig() Config {
	return Config{
		EventSpace: "FTB.FTB_EXAMPLES.watchdog",
		ClientName: "watchdog",
		EventName:  "WATCH_DOG_EVENT",
		Severity:   "INFO",
		Filter:     "event_space=FTB.all.watchdog",
		Health:     health.DefaultConfig(),
	}
}

// Option configures a Watchdog
type Option func(*Watchdog)

// WithTicks drives cycles from ticks instead of a ticker at the health
// interval
func WithTicks(ticks <-chan time.Time) Option {
	return func(w *Watchdog) {
		w.ticks = ticks
	}
}

// WithHealthChecker reports the watchdog verdict as a component of hc
func WithHealthChecker(hc *metrics.HealthChecker, component string) Option {
	return func(w *Watchdog) {
		w.checker = hc
		w.component = component
	}
}

// Watchdog periodically publishes a heartbeat event and expects to read it
// back from its own subscription
type Watchdog struct {
	bp        Backplane
	cfg       Config
	ticks     <-chan time.Time
	checker   *metrics.HealthChecker
	component string
	logger    zerolog.Logger

	mu       sync.Mutex
	status   *health.Status
	clientID string
	subID    string
}

var _ health.Checker = (*Watchdog)(nil)

// New creates a watchdog for bp
func New(bp Backplane, cfg Config, opts ...Option) *Watchdog {
	w := &Watchdog{
		bp:     bp,
		cfg:    cfg,
		status: health.NewStatus(),
		logger: log.WithEventSpace(cfg.EventSpace).With().Str("component", "watchdog").Logger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run connects, then runs one cycle per tick until ctx is cancelled or the
// backplane is deemed unhealthy. It always disconnects before returning.
func (w *Watchdog) Run(ctx context.Context) error {
	if err := w.setup(); err != nil {
		return err
	}
	defer w.teardown()

	ticks := w.ticks
	if ticks == nil {
		interval := w.cfg.Health.Interval
		if interval <= 0 {
			interval = health.DefaultConfig().Interval
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		ticks = ticker.C
	}

	w.logger.Info().Str("event", w.cfg.EventName).Msg("Watchdog started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Watchdog stopped")
			return nil
		case <-ticks:
			result := health.Run(ctx, w, w.cfg.Health)
			if !w.record(result) {
				return fmt.Errorf("%w: %s", ErrUnhealthy, result.Message)
			}
		}
	}
}

func (w *Watchdog) setup() error {
	client, err := w.bp.Connect(types.ClientInfo{
		EventSpace:        w.cfg.EventSpace,
		SchemaVersion:     "0.5",
		ClientName:        w.cfg.ClientName,
		SubscriptionStyle: types.SubscriptionPolling,
	})
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	var infos []types.EventInfo
	if !w.cfg.Preloaded {
		infos = []types.EventInfo{{Name: w.cfg.EventName, Severity: w.cfg.Severity}}
	}
	if err := w.bp.DeclarePublishableEvents(client.ID, infos); err != nil {
		_ = w.bp.Disconnect(client.ID)
		return fmt.Errorf("failed to declare %s: %w", w.cfg.EventName, err)
	}

	subID, err := w.bp.Subscribe(client.ID, w.cfg.Filter)
	if err != nil {
		_ = w.bp.Disconnect(client.ID)
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	w.mu.Lock()
	w.clientID = client.ID
	w.subID = subID
	w.mu.Unlock()
	return nil
}

func (w *Watchdog) teardown() {
	w.mu.Lock()
	clientID := w.clientID
	w.clientID, w.subID = "", ""
	w.mu.Unlock()

	if clientID == "" {
		return
	}
	if err := w.bp.Disconnect(clientID); err != nil {
		w.logger.Warn().Err(err).Msg("Failed to disconnect")
	}
}

// Check runs one publish/poll cycle. It passes when the event just
// published is read back; events of other watchdogs are skipped.
func (w *Watchdog) Check(ctx context.Context) health.Result {
	start := time.Now()
	w.mu.Lock()
	clientID, subID := w.clientID, w.subID
	w.mu.Unlock()

	if clientID == "" {
		return result(start, false, "watchdog not connected")
	}

	handle, err := w.bp.Publish(clientID, w.cfg.EventName, nil)
	if err != nil {
		return result(start, false, fmt.Sprintf("publish failed: %v", err))
	}

	for ctx.Err() == nil {
		d, err := w.bp.PollEvent(subID)
		if errors.Is(err, types.ErrNoEvent) {
			return result(start, false, fmt.Sprintf("event %s not caught", handle))
		}
		if err != nil {
			return result(start, false, fmt.Sprintf("poll failed: %v", err))
		}
		if d.Dropped > 0 {
			w.logger.Warn().Uint64("dropped", d.Dropped).Msg("Watchdog queue overflowed")
		}
		if d.Event != nil && d.Event.Handle.Equal(handle) {
			return result(start, true, fmt.Sprintf("caught seqnum %d", d.Event.Seqnum))
		}
	}
	return result(start, false, ctx.Err().Error())
}

// Type identifies the watchdog as a backplane check
func (w *Watchdog) Type() health.CheckType {
	return health.CheckTypeBackplane
}

// Status returns a copy of the folded health status
func (w *Watchdog) Status() health.Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return *w.status
}

// record folds result into the status and reports whether the backplane
// is still considered healthy
func (w *Watchdog) record(result health.Result) bool {
	w.mu.Lock()
	w.status.Update(result, w.cfg.Health)
	healthy := w.status.Healthy
	w.mu.Unlock()

	if result.Healthy {
		metrics.WatchdogCycles.WithLabelValues("success").Inc()
		w.logger.Debug().Dur("duration", result.Duration).Msg(result.Message)
	} else {
		metrics.WatchdogCycles.WithLabelValues("failure").Inc()
		w.logger.Warn().Dur("duration", result.Duration).Msg(result.Message)
	}

	if w.checker != nil {
		w.checker.Update(w.component, healthy, result.Message)
	}
	return healthy
}

func result(start time.Time, healthy bool, msg string) health.Result {
	return health.Result{
		Healthy:   healthy,
		Message:   msg,
		CheckedAt: time.Now(),
		Duration:  time.Since(start),
	}
}
