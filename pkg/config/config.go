// Package config loads the manager configuration file
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"git.srvlab.io/whiskey/arraysync/pkg/db"
	"git.srvlab.io/whiskey/arraysync/pkg/lock"
	"git.srvlab.io/whiskey/arraysync/pkg/scheduler"
	"git.srvlab.io/whiskey/arraysync/pkg/task"
)

// Lock backends
const (
	LockBackendDatabase = "database"
	LockBackendLocal    = "local"
	LockBackendLease    = "lease"
)

// DefaultPath is read when no config file is given and it exists
const DefaultPath = "/etc/arraysync/config.yaml"

type Config struct {
	DatabasePath      string `yaml:"database_path"`
	EncryptionKeyFile string `yaml:"encryption_key_file"`

	Sync   Sync   `yaml:"sync"`
	Lock   Lock   `yaml:"lock"`
	Remote Remote `yaml:"remote"`

	MetricsAddress string `yaml:"metrics_address"`
	HealthAddress  string `yaml:"health_address"`
	TrapAddress    string `yaml:"trap_address"`
}

type Sync struct {
	Interval        time.Duration `yaml:"interval"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	Workers         int           `yaml:"workers"`
	AlertWindow     time.Duration `yaml:"alert_window"`
}

type Lock struct {
	// Backend is "database" for leases in the manager database, "local" for
	// in-process leases or "lease" for Kubernetes leases. Only "database" and
	// "lease" exclude arraysyncctl running beside the manager.
	Backend        string        `yaml:"backend"`
	Wait           time.Duration `yaml:"wait"`
	LeaseDuration  time.Duration `yaml:"lease_duration"`
	LeaseNamespace string        `yaml:"lease_namespace"`
	Kubeconfig     string        `yaml:"kubeconfig,omitempty"`
}

type Remote struct {
	CommandTimeout     time.Duration `yaml:"command_timeout"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	MaxSessions        int           `yaml:"max_sessions"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		DatabasePath:      db.DefaultPath,
		EncryptionKeyFile: "/etc/arraysync/key",
		Sync: Sync{
			Interval:        scheduler.DefaultInterval,
			CleanupInterval: scheduler.DefaultCleanupInterval,
			Workers:         scheduler.DefaultWorkers,
			AlertWindow:     task.DefaultAlertWindow,
		},
		Lock: Lock{
			Backend:        LockBackendDatabase,
			Wait:           scheduler.DefaultLockWait,
			LeaseDuration:  lock.DefaultLeaseDuration,
			LeaseNamespace: "arraysync",
		},
		Remote: Remote{
			CommandTimeout: 60 * time.Second,
			MaxSessions:    4,
		},
		MetricsAddress: ":9809",
		HealthAddress:  ":9810",
		TrapAddress:    "0.0.0.0:162",
	}
}

// Load reads path over the defaults. An empty path falls back to DefaultPath
// when that file exists, and to the defaults alone otherwise.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat(DefaultPath); err != nil {
			return &cfg, nil
		}
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// applyDefaults fills zero values a partial file left behind
func (c *Config) applyDefaults() {
	d := Default()
	if c.DatabasePath == "" {
		c.DatabasePath = d.DatabasePath
	}
	if c.Sync.Interval == 0 {
		c.Sync.Interval = d.Sync.Interval
	}
	if c.Sync.CleanupInterval == 0 {
		c.Sync.CleanupInterval = d.Sync.CleanupInterval
	}
	if c.Sync.Workers == 0 {
		c.Sync.Workers = d.Sync.Workers
	}
	if c.Sync.AlertWindow == 0 {
		c.Sync.AlertWindow = d.Sync.AlertWindow
	}
	if c.Lock.Backend == "" {
		c.Lock.Backend = d.Lock.Backend
	}
	if c.Lock.Wait == 0 {
		c.Lock.Wait = d.Lock.Wait
	}
	if c.Lock.LeaseDuration == 0 {
		c.Lock.LeaseDuration = d.Lock.LeaseDuration
	}
	if c.Lock.LeaseNamespace == "" {
		c.Lock.LeaseNamespace = d.Lock.LeaseNamespace
	}
	if c.Remote.CommandTimeout == 0 {
		c.Remote.CommandTimeout = d.Remote.CommandTimeout
	}
	if c.Remote.MaxSessions == 0 {
		c.Remote.MaxSessions = d.Remote.MaxSessions
	}
}

// Validate rejects settings the manager cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Sync.Interval < time.Second {
		errs = append(errs, fmt.Errorf("sync.interval must be at least 1s, got %v", c.Sync.Interval))
	}
	if c.Sync.Workers < 1 {
		errs = append(errs, fmt.Errorf("sync.workers must be positive, got %d", c.Sync.Workers))
	}
	if c.Sync.AlertWindow < c.Sync.Interval {
		errs = append(errs, fmt.Errorf("sync.alert_window must cover sync.interval %v, got %v", c.Sync.Interval, c.Sync.AlertWindow))
	}
	switch c.Lock.Backend {
	case LockBackendDatabase, LockBackendLocal, LockBackendLease:
	default:
		errs = append(errs, fmt.Errorf("lock.backend must be %q, %q or %q, got %q", LockBackendDatabase, LockBackendLocal, LockBackendLease, c.Lock.Backend))
	}
	if c.Lock.Wait < 0 || c.Lock.LeaseDuration < 0 || c.Remote.CommandTimeout < 0 {
		errs = append(errs, errors.New("durations cannot be negative"))
	}
	return errors.Join(errs...)
}
