// Package config provides configuration management for dirigent.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	derrors "dirigent/internal/errors"
)

const (
	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
	// Dir is the dirigent state directory.
	Dir = ".dirigent"
	// SessionDir is the subdirectory holding the active session and archive.
	SessionDir = "session"
	// ArchiveDir is the subdirectory holding archived session records.
	ArchiveDir = "archive"
	// RegistryFileName is the agent registry file name.
	RegistryFileName = "agents.yaml"
	// JournalFileName is the event journal database file name.
	JournalFileName = "journal.db"
)

// WorkerConfig defines how workers are invoked.
type WorkerConfig struct {
	// Command is the executable run for every delegation. It receives the
	// assignment as JSON on stdin and must print an outcome JSON object.
	Command string `yaml:"command" mapstructure:"command"`

	// Args are passed before the worker name argument.
	Args []string `yaml:"args,omitempty" mapstructure:"args"`

	// Timeout bounds a single delegation call. A delegation that produces
	// no outcome within the timeout is a transient failure.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	// RetryWait is the pause before the single transient retry.
	RetryWait time.Duration `yaml:"retry_wait" mapstructure:"retry_wait"`
}

// ApprovalConfig defines approval gate behavior.
type ApprovalConfig struct {
	// Wait bounds how long the loop waits for a staged proposal to be
	// confirmed before exiting with the session still in progress.
	Wait time.Duration `yaml:"wait" mapstructure:"wait"`
}

// Config represents the dirigent configuration.
type Config struct {
	// Root is the project directory containing .dirigent/. Not serialized.
	Root string `yaml:"-" mapstructure:"-"`

	Worker   WorkerConfig   `yaml:"worker" mapstructure:"worker"`
	Approval ApprovalConfig `yaml:"approval" mapstructure:"approval"`

	// MaxIterations bounds loop iterations per run (0 = unlimited).
	MaxIterations int `yaml:"max_iterations" mapstructure:"max_iterations"`

	// LeaseTTL is how long a loop lease stays valid without a heartbeat.
	LeaseTTL time.Duration `yaml:"lease_ttl" mapstructure:"lease_ttl"`

	// Journal enables the SQLite event journal.
	Journal bool `yaml:"journal" mapstructure:"journal"`
}

// Default returns the default configuration rooted at dir.
func Default(dir string) *Config {
	return &Config{
		Root: dir,
		Worker: WorkerConfig{
			Timeout:   10 * time.Minute,
			RetryWait: 5 * time.Second,
		},
		Approval: ApprovalConfig{
			Wait: 30 * time.Second,
		},
		MaxIterations: 0,
		LeaseTTL:      60 * time.Second,
		Journal:       true,
	}
}

// Load reads configuration for the project rooted at dir, merging
// .dirigent/config.yaml and DIRIGENT_* environment variables over defaults.
// A missing config file is not an error.
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(filepath.Join(dir, Dir, ConfigFileName))
	v.SetEnvPrefix("DIRIGENT")
	v.AutomaticEnv()

	cfg := Default(dir)
	v.SetDefault("worker.timeout", cfg.Worker.Timeout)
	v.SetDefault("worker.retry_wait", cfg.Worker.RetryWait)
	v.SetDefault("approval.wait", cfg.Approval.Wait)
	v.SetDefault("max_iterations", cfg.MaxIterations)
	v.SetDefault("lease_ttl", cfg.LeaseTTL)
	v.SetDefault("journal", cfg.Journal)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Root = dir

	if cfg.Worker.Timeout <= 0 {
		return nil, fmt.Errorf("invalid configuration: worker.timeout must be positive")
	}
	if cfg.LeaseTTL <= 0 {
		return nil, fmt.Errorf("invalid configuration: lease_ttl must be positive")
	}

	return cfg, nil
}

// StateDir returns the directory holding the active session record.
func (c *Config) StateDir() string {
	return filepath.Join(c.Root, Dir, SessionDir)
}

// ArchivePath returns the directory holding archived session records.
func (c *Config) ArchivePath() string {
	return filepath.Join(c.Root, Dir, SessionDir, ArchiveDir)
}

// RegistryPath returns the path to the agent registry file.
func (c *Config) RegistryPath() string {
	return filepath.Join(c.Root, Dir, RegistryFileName)
}

// JournalPath returns the path to the event journal database.
func (c *Config) JournalPath() string {
	return filepath.Join(c.Root, Dir, JournalFileName)
}

// IsInitialized reports whether dir contains a .dirigent directory.
func IsInitialized(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, Dir))
	return err == nil && info.IsDir()
}

// RequireInit returns an error if dirigent is not initialized in dir.
func RequireInit(dir string) error {
	if !IsInitialized(dir) {
		return derrors.ErrNotInitialized()
	}
	return nil
}
