package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/ftb/pkg/api"
	"github.com/cuemby/ftb/pkg/backplane"
	"github.com/cuemby/ftb/pkg/config"
	"github.com/cuemby/ftb/pkg/events"
	"github.com/cuemby/ftb/pkg/log"
	"github.com/cuemby/ftb/pkg/metrics"
	"github.com/cuemby/ftb/pkg/schema"
	"github.com/cuemby/ftb/pkg/security"
	"github.com/cuemby/ftb/pkg/storage"
	"github.com/cuemby/ftb/pkg/watchdog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

const (
	componentWatchdog = "watchdog"
	componentRaft     = "raft"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the backplane server",
	Long: `Run the backplane server.

Configuration is read from --config (YAML), FTB_* environment variables and
the flags below, in increasing precedence. Schema files listed under
schema_files are pre-loaded before the API starts accepting clients.`,
	RunE: runServer,
}

func init() {
	f := serverCmd.Flags()
	f.StringP("config", "c", "", "Path to a YAML config file")
	f.String("api-addr", "127.0.0.1:7946", "Address for the gRPC API")
	f.String("metrics-addr", "127.0.0.1:9090", "Address for health and metrics (empty to disable)")
	f.String("unix-socket", "", "Path of a read-only local API socket")
	f.String("data-dir", "./ftb-data", "Directory for persistent state")
	f.String("cert-dir", "", "Directory with tls.crt, tls.key and ca.crt to enable mutual TLS")
	f.StringSlice("schema", nil, "Schema file to pre-load (repeatable)")
	f.Bool("watchdog", false, "Run an in-process watchdog and report it in /ready")
	f.String("raft-bind", "", "Raft address to replicate schemas and sequence leases (empty to disable)")
	f.String("raft-node-id", "", "Stable Raft node ID")
	f.Bool("raft-bootstrap", false, "Bootstrap a new Raft cluster from this node and raft.peers")
	f.StringSlice("raft-peer", nil, "Initial Raft peer as id=host:port (repeatable)")
}

// bindServerFlags maps explicitly set flags onto their config keys
func bindServerFlags(cmd *cobra.Command, v *viper.Viper) error {
	bindings := map[string]string{
		"api_addr":       "api-addr",
		"metrics_addr":   "metrics-addr",
		"unix_socket":    "unix-socket",
		"data_dir":       "data-dir",
		"cert_dir":       "cert-dir",
		"schema_files":   "schema",
		"log.level":      "log-level",
		"log.json":       "log-json",
		"raft.bind_addr": "raft-bind",
		"raft.node_id":   "raft-node-id",
		"raft.bootstrap": "raft-bootstrap",
		"raft.peers":     "raft-peer",
	}
	for key, name := range bindings {
		flag := cmd.Flags().Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", name, err)
		}
	}
	return nil
}

func runServer(cmd *cobra.Command, args []string) error {
	v := config.New()
	if err := bindServerFlags(cmd, v); err != nil {
		return err
	}
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	log.Init(cfg.LogSettings())
	logger := log.WithComponent("server")

	health := metrics.Default()
	health.SetVersion(Version)
	critical := []string{metrics.ComponentBackplane, metrics.ComponentStore, metrics.ComponentAPI}
	runWatchdog, _ := cmd.Flags().GetBool("watchdog")
	if runWatchdog {
		critical = append(critical, componentWatchdog)
	}
	health.SetCritical(critical...)

	bolt, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	var (
		store   storage.Store = bolt
		replica *storage.RaftStore
	)
	if cfg.Raft.Enabled() {
		replica, err = openRaft(bolt, cfg)
		if err != nil {
			bolt.Close()
			return err
		}
		store = replica
	}
	defer store.Close()
	health.Update(metrics.ComponentStore, true, cfg.DataDir)

	bp, err := backplane.New(append(cfg.BackplaneOptions(), backplane.WithStore(store))...)
	if err != nil {
		return fmt.Errorf("failed to start backplane: %w", err)
	}
	defer bp.Close()

	for _, path := range cfg.SchemaFiles {
		files, err := schema.LoadFile(path)
		if err != nil {
			return err
		}
		if err := bp.LoadSchema(files...); err != nil {
			if replica != nil && errors.Is(err, storage.ErrNotLeader) {
				logger.Info().Str("file", path).Msg("Schema loaded locally, the Raft leader replicates it")
				continue
			}
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
		logger.Info().Str("file", path).Int("event_spaces", len(files)).Msg("Schema loaded")
	}
	health.Update(metrics.ComponentBackplane, true, "")

	audit := bp.Events().Subscribe(256)
	go auditLog(audit)

	var serverOpts []api.ServerOption
	if cfg.CertDir != "" {
		tlsCfg, err := security.ServerTLSConfig(cfg.CertDir)
		if err != nil {
			return err
		}
		serverOpts = append(serverOpts, api.WithTLS(tlsCfg))
		logger.Info().Str("cert_dir", cfg.CertDir).Msg("Mutual TLS enabled")

		if cert, err := security.LoadCertFromFile(cfg.CertDir); err == nil && security.CertNeedsRotation(cert.Leaf) {
			logger.Warn().Time("not_after", cert.Leaf.NotAfter).Msg("Server certificate expires soon, rotate it")
		}
	}
	srv := api.NewServer(bp, serverOpts...)
	hs := api.NewHealthServer(health, bp)

	collector := metrics.NewCollector(bp, 15*time.Second)
	collector.Start()
	defer collector.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Start(cfg.APIAddr)
	})
	if cfg.UnixSocket != "" {
		g.Go(func() error {
			return srv.StartUnix(cfg.UnixSocket)
		})
	}
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("Health and metrics listening")
			return hs.Start(cfg.MetricsAddr)
		})
	}
	if runWatchdog {
		wd := watchdog.New(bp, watchdog.DefaultConfig(), watchdog.WithHealthChecker(health, componentWatchdog))
		g.Go(func() error {
			if err := wd.Run(gctx); err != nil {
				logger.Error().Err(err).Msg("Watchdog stopped")
				health.Update(componentWatchdog, false, err.Error())
			}
			return nil
		})
	}
	if replica != nil {
		g.Go(func() error {
			followLeadership(gctx, replica, bp, health)
			return nil
		})
	}
	health.Update(metrics.ComponentAPI, true, cfg.APIAddr)

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down")
		health.Update(metrics.ComponentAPI, false, "shutting down")

		srv.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return hs.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("Shutdown complete")
	return nil
}

func openRaft(bolt *storage.BoltStore, cfg *config.Config) (*storage.RaftStore, error) {
	rc, err := cfg.RaftSettings()
	if err != nil {
		return nil, err
	}
	replica, err := storage.NewRaftStore(bolt, rc)
	if err != nil {
		return nil, fmt.Errorf("failed to start raft: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := replica.WaitForLeader(ctx); err != nil {
		logger := log.WithComponent("server")
		logger.Warn().Err(err).Msg("Starting without a Raft leader")
	}
	return replica, nil
}

// followLeadership resyncs the backplane from the replicated store each
// time this node becomes leader, so sequence numbers continue above the
// leases the previous leader handed out
func followLeadership(ctx context.Context, replica *storage.RaftStore, bp *backplane.Backplane, health *metrics.HealthChecker) {
	logger := log.WithComponent("server")
	report := func(leader bool) {
		if leader {
			health.Update(componentRaft, true, "leader")
			return
		}
		health.Update(componentRaft, true, "follower of "+replica.Leader())
	}
	report(replica.IsLeader())

	for {
		select {
		case <-ctx.Done():
			return
		case leader := <-replica.LeaderChanges():
			if leader {
				if err := bp.Resync(); err != nil {
					logger.Error().Err(err).Msg("Failed to resync after gaining Raft leadership")
					health.Update(componentRaft, false, err.Error())
					continue
				}
				logger.Info().Msg("Gained Raft leadership")
			} else {
				logger.Warn().Str("leader", replica.Leader()).Msg("Lost Raft leadership")
			}
			report(leader)
		}
	}
}

// auditLog writes backplane lifecycle notifications to the log until the
// broker stops
func auditLog(sub events.Subscriber) {
	logger := log.WithComponent("audit")
	for ev := range sub {
		e := logger.Info()
		if ev.Type == events.EventQueueOverflow || ev.Type == events.EventClientEvicted {
			e = logger.Warn()
		}
		for k, v := range ev.Metadata {
			e = e.Str(k, v)
		}
		e.Str("type", string(ev.Type)).
			Str("client_id", ev.ClientID).
			Str("event_space", ev.EventSpace).
			Msg(ev.Message)
	}
}
