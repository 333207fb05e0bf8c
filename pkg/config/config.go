package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/ftb/pkg/backplane"
	"github.com/cuemby/ftb/pkg/filter"
	"github.com/cuemby/ftb/pkg/log"
	"github.com/cuemby/ftb/pkg/queue"
	"github.com/cuemby/ftb/pkg/storage"
	"github.com/cuemby/ftb/pkg/types"
	"github.com/sony/gobreaker"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. FTB_LOG_LEVEL
const EnvPrefix = "FTB"

// Config is the server configuration
type Config struct {
	APIAddr     string `mapstructure:"api_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	UnixSocket  string `mapstructure:"unix_socket"`
	DataDir     string `mapstructure:"data_dir"`
	CertDir     string `mapstructure:"cert_dir"`
	Hostname    string `mapstructure:"hostname"`

	Log       LogConfig       `mapstructure:"log"`
	Backplane BackplaneConfig `mapstructure:"backplane"`
	Filter    FilterConfig    `mapstructure:"filter"`
	Raft      RaftConfig      `mapstructure:"raft"`

	// SchemaFiles are pre-loaded at startup
	SchemaFiles []string `mapstructure:"schema_files"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

type BackplaneConfig struct {
	QueueDepth       int           `mapstructure:"queue_depth"`
	MaxPayload       int           `mapstructure:"max_payload"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	EvictionInterval time.Duration `mapstructure:"eviction_interval"`
	SequenceLease    uint64        `mapstructure:"sequence_lease"`

	// CallbackTrip consecutive callback failures open a subscription's
	// breaker for CallbackCooldown
	CallbackTrip     uint32        `mapstructure:"callback_trip"`
	CallbackCooldown time.Duration `mapstructure:"callback_cooldown"`
}

type FilterConfig struct {
	HierarchicalSpaces bool     `mapstructure:"hierarchical_spaces"`
	SpaceCaseFolding   bool     `mapstructure:"space_case_folding"`
	Wildcards          []string `mapstructure:"wildcards"`
}

// RaftConfig enables replication of schemas and sequence leases when
// BindAddr is set
type RaftConfig struct {
	BindAddr      string `mapstructure:"bind_addr"`
	AdvertiseAddr string `mapstructure:"advertise_addr"`
	NodeID        string `mapstructure:"node_id"`
	Bootstrap     bool   `mapstructure:"bootstrap"`

	// Peers lists the other initial members as id=host:port
	Peers        []string      `mapstructure:"peers"`
	ApplyTimeout time.Duration `mapstructure:"apply_timeout"`
}

// Enabled reports whether the node joins a Raft cluster
func (r RaftConfig) Enabled() bool {
	return r.BindAddr != ""
}

var defaults = map[string]any{
	"api_addr":                    "127.0.0.1:7946",
	"metrics_addr":                "127.0.0.1:9090",
	"unix_socket":                 "",
	"data_dir":                    "./ftb-data",
	"cert_dir":                    "",
	"hostname":                    "",
	"log.level":                   "info",
	"log.json":                    false,
	"backplane.queue_depth":       queue.DefaultDepth,
	"backplane.max_payload":       types.DefaultMaxPayload,
	"backplane.idle_timeout":      "0s",
	"backplane.eviction_interval": "1m",
	"backplane.sequence_lease":    1000,
	"backplane.callback_trip":     5,
	"backplane.callback_cooldown": "30s",
	"filter.hierarchical_spaces":  true,
	"filter.space_case_folding":   false,
	"filter.wildcards":            []string{"all", "*"},
	"raft.bind_addr":              "",
	"raft.advertise_addr":         "",
	"raft.node_id":                "",
	"raft.bootstrap":              false,
	"raft.peers":                  []string{},
	"raft.apply_timeout":          "5s",
	"schema_files":                []string{},
}

// New returns a viper instance carrying the defaults and FTB_* environment
// bindings. Callers may bind command-line flags into it before Load.
func New() *viper.Viper {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the YAML file at path, if any, over the defaults in v and
// validates the result. Flags and environment variables take precedence
// over the file.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	var errs []error
	if c.APIAddr == "" {
		errs = append(errs, errors.New("api_addr is required"))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	switch log.Level(c.Log.Level) {
	case log.DebugLevel, log.InfoLevel, log.WarnLevel, log.ErrorLevel:
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Log.Level))
	}
	if c.Backplane.QueueDepth <= 0 {
		errs = append(errs, fmt.Errorf("backplane.queue_depth must be positive, got %d", c.Backplane.QueueDepth))
	}
	if c.Backplane.MaxPayload <= 0 {
		errs = append(errs, fmt.Errorf("backplane.max_payload must be positive, got %d", c.Backplane.MaxPayload))
	}
	if c.Backplane.IdleTimeout < 0 {
		errs = append(errs, errors.New("backplane.idle_timeout must not be negative"))
	}
	if c.Backplane.IdleTimeout > 0 && c.Backplane.EvictionInterval <= 0 {
		errs = append(errs, errors.New("backplane.eviction_interval must be positive when idle_timeout is set"))
	}
	if c.Backplane.CallbackTrip == 0 {
		errs = append(errs, errors.New("backplane.callback_trip must be positive"))
	}
	if len(c.Hostname) > types.MaxHostnameLen {
		errs = append(errs, fmt.Errorf("hostname longer than %d bytes", types.MaxHostnameLen))
	}
	if len(c.Filter.Wildcards) == 0 {
		errs = append(errs, errors.New("filter.wildcards must not be empty"))
	}
	if c.Raft.Enabled() {
		if c.Raft.NodeID == "" {
			errs = append(errs, errors.New("raft.node_id is required when raft.bind_addr is set"))
		}
		if c.Raft.ApplyTimeout <= 0 {
			errs = append(errs, errors.New("raft.apply_timeout must be positive"))
		}
		if _, err := parsePeers(c.Raft.Peers); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LogSettings returns the logger settings
func (c *Config) LogSettings() log.Config {
	return log.Config{Level: log.Level(c.Log.Level), JSONOutput: c.Log.JSON}
}

// RaftSettings returns the replicated store settings. Only meaningful when
// c.Raft.Enabled().
func (c *Config) RaftSettings() (storage.RaftConfig, error) {
	peers, err := parsePeers(c.Raft.Peers)
	if err != nil {
		return storage.RaftConfig{}, err
	}
	return storage.RaftConfig{
		NodeID:        c.Raft.NodeID,
		BindAddr:      c.Raft.BindAddr,
		AdvertiseAddr: c.Raft.AdvertiseAddr,
		DataDir:       c.DataDir,
		Bootstrap:     c.Raft.Bootstrap,
		Peers:         peers,
		ApplyTimeout:  c.Raft.ApplyTimeout,
	}, nil
}

func parsePeers(specs []string) ([]storage.RaftPeer, error) {
	peers := make([]storage.RaftPeer, 0, len(specs))
	for _, s := range specs {
		id, addr, ok := strings.Cut(s, "=")
		if !ok || id == "" || addr == "" {
			return nil, fmt.Errorf("raft peer %q must be id=host:port", s)
		}
		peers = append(peers, storage.RaftPeer{ID: id, Address: addr})
	}
	return peers, nil
}

// FilterOptions returns the filter compilation options
func (c *Config) FilterOptions() []filter.Option {
	return []filter.Option{
		filter.WithHierarchicalSpaces(c.Filter.HierarchicalSpaces),
		filter.WithSpaceCaseFolding(c.Filter.SpaceCaseFolding),
		filter.WithWildcards(c.Filter.Wildcards...),
	}
}

// BackplaneOptions translates the configuration into backplane options.
// The store is wired separately.
func (c *Config) BackplaneOptions() []backplane.Option {
	opts := []backplane.Option{
		backplane.WithQueueDepth(c.Backplane.QueueDepth),
		backplane.WithMaxPayload(c.Backplane.MaxPayload),
		backplane.WithFilterOptions(c.FilterOptions()...),
		backplane.WithIdleTimeout(c.Backplane.IdleTimeout),
		backplane.WithEvictionInterval(c.Backplane.EvictionInterval),
		backplane.WithSequenceLease(c.Backplane.SequenceLease),
		backplane.WithCallbackBreaker(c.breakerSettings()),
	}
	if c.Hostname != "" {
		opts = append(opts, backplane.WithHostname(c.Hostname))
	}
	return opts
}

func (c *Config) breakerSettings() gobreaker.Settings {
	trip := c.Backplane.CallbackTrip
	return gobreaker.Settings{
		MaxRequests: 1,
		Timeout:     c.Backplane.CallbackCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trip
		},
	}
}
