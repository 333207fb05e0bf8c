package metrics

import (
	"time"

	"github.com/cuemby/ftb/pkg/types"
)

// StatsSource is anything that can report backplane state
type StatsSource interface {
	Stats() types.Stats
}

// Collector periodically copies backplane state into gauges
type Collector struct {
	source   StatsSource
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source StatsSource, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

// Collect samples the source once
func (c *Collector) Collect() {
	stats := c.source.Stats()
	ClientsConnected.Set(float64(stats.Clients))
	SubscriptionsActive.Set(float64(stats.Subscriptions))
	DeclarationsTotal.Set(float64(stats.Declarations))
	EventSpacesTotal.Set(float64(stats.EventSpaces))
}
