// Package watchdog implements the FTB watchdog: a client that publishes a
// heartbeat event into its own event space on every tick and expects to
// poll it back. Each cycle is a health check; the verdict follows
// health.Status, so the backplane is declared unhealthy only after
// Health.Retries consecutive misses.
package watchdog
