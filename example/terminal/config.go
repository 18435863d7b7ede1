package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bibsdb/bibselv/fbs"
)

const (
	storageDriverBadger   = "badger"
	storageDriverPostgres = "postgres"

	defaultMetricsAddress = ":9464"
	defaultQueueCapacity  = 1024
)

// Config is the on-disk configuration of the terminal gateway.
type Config struct {
	Backend        BackendConfig        `yaml:"backend"`
	Storage        StorageConfig        `yaml:"storage"`
	Reconciliation ReconciliationConfig `yaml:"reconciliation"`
	Metrics        MetricsConfig        `yaml:"metrics"`
}

// BackendConfig describes the circulation back end and the monitor tunables.
type BackendConfig struct {
	Endpoint           string            `yaml:"endpoint"`
	Username           string            `yaml:"username"`
	Password           string            `yaml:"password"`
	EnableOnlineChecks bool              `yaml:"enable_online_checks"`
	OnlineState        OnlineStateConfig `yaml:"online_state"`
}

// OnlineStateConfig mirrors fbs.OnlineStateConfig with YAML-parseable
// durations. Zero values fall back to the built-in defaults.
type OnlineStateConfig struct {
	Threshold                int      `yaml:"threshold"`
	OnlineTimeout            duration `yaml:"online_timeout"`
	OfflineTimeout           duration `yaml:"offline_timeout"`
	EnsureOnlineCheckTimeout duration `yaml:"ensure_online_check_timeout"`
}

// StorageConfig selects and configures the durable offline transaction store.
type StorageConfig struct {
	Driver      string `yaml:"driver"`
	Path        string `yaml:"path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ReconciliationConfig tunes the replay worker.
type ReconciliationConfig struct {
	QueueCapacity   int      `yaml:"queue_capacity"`
	ReplayAttempts  int      `yaml:"replay_attempts"`
	ReplayBaseDelay duration `yaml:"replay_base_delay"`
}

// MetricsConfig configures the Prometheus scrape endpoint.
type MetricsConfig struct {
	ListenAddress string `yaml:"listen_address"`
}

// duration wraps time.Duration so values like "30s" parse from YAML.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}

	*d = duration(parsed)

	return nil
}

// LoadConfig reads and validates a gateway configuration file.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err = yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err = cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Storage.Driver == "" {
		c.Storage.Driver = storageDriverBadger
	}
	if c.Metrics.ListenAddress == "" {
		c.Metrics.ListenAddress = defaultMetricsAddress
	}
	if c.Reconciliation.QueueCapacity == 0 {
		c.Reconciliation.QueueCapacity = defaultQueueCapacity
	}
}

func (c Config) validate() error {
	var errs []error

	if c.Backend.Endpoint == "" && c.Backend.EnableOnlineChecks {
		errs = append(errs, errors.New("backend.endpoint is required when online checks are enabled"))
	}

	switch c.Storage.Driver {
	case storageDriverBadger:
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for the badger driver"))
		}
	case storageDriverPostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be %q or %q, got %q",
			storageDriverBadger, storageDriverPostgres, c.Storage.Driver))
	}

	if c.Reconciliation.QueueCapacity < 0 {
		errs = append(errs, errors.New("reconciliation.queue_capacity must not be negative"))
	}

	return errors.Join(errs...)
}

// backendConfig converts the file representation into the runtime Config the
// facade and monitor consume.
func (c Config) backendConfig() fbs.Config {
	return fbs.Config{
		Endpoint:           c.Backend.Endpoint,
		Username:           c.Backend.Username,
		Password:           c.Backend.Password,
		EnableOnlineChecks: c.Backend.EnableOnlineChecks,
		OnlineState: fbs.OnlineStateConfig{
			Threshold:                c.Backend.OnlineState.Threshold,
			OnlineTimeout:            time.Duration(c.Backend.OnlineState.OnlineTimeout),
			OfflineTimeout:           time.Duration(c.Backend.OnlineState.OfflineTimeout),
			EnsureOnlineCheckTimeout: time.Duration(c.Backend.OnlineState.EnsureOnlineCheckTimeout),
		},
	}
}
