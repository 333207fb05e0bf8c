package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/ftb/pkg/client"
	"github.com/cuemby/ftb/pkg/watchdog"
	"github.com/spf13/cobra"
)

var watchdogCmd = &cobra.Command{
	Use:   "watchdog",
	Short: "Publish and poll a heartbeat event against a server",
	Long: `Run the FTB watchdog against a backplane server.

Every interval the watchdog publishes WATCH_DOG_EVENT into its event space
and polls it back from its own subscription. It exits with an error after
--retries consecutive cycles in which the event was not caught.`,
	RunE: runWatchdog,
}

func init() {
	f := watchdogCmd.Flags()
	f.String("server", "127.0.0.1:7946", "Backplane server address")
	f.String("cert-dir", "", "Directory with client certificates for mutual TLS")
	f.Duration("interval", time.Second, "Time between heartbeats")
	f.Int("retries", 1, "Consecutive misses before giving up")
	f.String("event-space", "FTB.FTB_EXAMPLES.watchdog", "Event space of the watchdog")
	f.String("name", "watchdog", "Client name")
	f.Bool("preloaded", false, "Rely on a schema loaded on the server instead of declaring the event")
}

func runWatchdog(cmd *cobra.Command, args []string) error {
	c, err := dialServer(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	cfg := watchdog.DefaultConfig()
	cfg.EventSpace, _ = cmd.Flags().GetString("event-space")
	cfg.ClientName, _ = cmd.Flags().GetString("name")
	cfg.Preloaded, _ = cmd.Flags().GetBool("preloaded")
	cfg.Health.Interval, _ = cmd.Flags().GetDuration("interval")
	cfg.Health.Retries, _ = cmd.Flags().GetInt("retries")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return watchdog.New(c, cfg).Run(ctx)
}

// dialServer builds a client from the --server and --cert-dir flags
func dialServer(cmd *cobra.Command) (*client.Client, error) {
	addr, _ := cmd.Flags().GetString("server")
	certDir, _ := cmd.Flags().GetString("cert-dir")

	var opts []client.Option
	if certDir != "" {
		opts = append(opts, client.WithCertDir(certDir))
	}
	return client.NewClient(addr, opts...)
}
