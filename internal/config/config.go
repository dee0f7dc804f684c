package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete teamwork configuration
type Config struct {
	State    StateConfig    `mapstructure:"state"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tasks    TasksConfig    `mapstructure:"tasks"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Scaling  ScalingConfig  `mapstructure:"scaling"`
	Lock     LockConfig     `mapstructure:"lock"`
	Tmux     TmuxConfig     `mapstructure:"tmux"`
}

// StateConfig controls where team state lives
type StateConfig struct {
	// Dir is the state root. When empty, the nearest .teamwork directory
	// above the working directory is used.
	Dir string `mapstructure:"dir"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether debug logging is enabled (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated log files (default: false)
	Compress bool `mapstructure:"compress"`
}

// TasksConfig controls the task registry
type TasksConfig struct {
	// ClaimLease is how long a claim stays valid before release-expired
	// may return the task to pending (default: 15m)
	ClaimLease time.Duration `mapstructure:"claim_lease"`
}

// DispatchConfig controls how workers are notified
type DispatchConfig struct {
	// ReceiptTimeout bounds the wait for a hook receipt (default: 3s)
	ReceiptTimeout time.Duration `mapstructure:"receipt_timeout"`
	// ReceiptPoll is the receipt poll interval (default: 100ms)
	ReceiptPoll time.Duration `mapstructure:"receipt_poll"`
	// TransportPreference is one of "hook_preferred_with_fallback",
	// "transport_direct", "prompt_stdin"
	TransportPreference string `mapstructure:"transport_preference"`
	// FallbackAllowed permits direct delivery when the hook is not confirmed (default: true)
	FallbackAllowed bool `mapstructure:"fallback_allowed"`
	// PendingExpiry is how long a request may stay pending before it is
	// failed as abandoned (default: 0, meaning receipt_timeout + 30s)
	PendingExpiry time.Duration `mapstructure:"pending_expiry"`
}

// ScalingConfig controls the worker lifecycle manager and the advisory policy
type ScalingConfig struct {
	// Enabled gates scale up and scale down (default: false)
	Enabled bool `mapstructure:"enabled"`
	// MaxWorkers is the team size limit used by init when none is given (default: 8)
	MaxWorkers int `mapstructure:"max_workers"`
	// ReadyTimeout bounds the wait for a new worker's prompt (default: 30s)
	ReadyTimeout time.Duration `mapstructure:"ready_timeout"`
	// DrainTimeout bounds the wait for busy workers during scale down (default: 2m)
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
	// DrainPoll is how often draining workers are checked (default: 1s)
	DrainPoll time.Duration `mapstructure:"drain_poll"`
	// MinWorkers is the floor used by the policy's scale-down advice (default: 1)
	MinWorkers int `mapstructure:"min_workers"`
	// ScaleUpThreshold is the ready-task count above which the policy advises growth (default: 2)
	ScaleUpThreshold int `mapstructure:"scale_up_threshold"`
	// ScaleDownThreshold is the in-progress count at or below which the policy advises shrinking (default: 1)
	ScaleDownThreshold int `mapstructure:"scale_down_threshold"`
	// Cooldown is the minimum time between policy decisions (default: 30s)
	Cooldown time.Duration `mapstructure:"cooldown"`
}

// LockConfig controls the team lock used by scaling
type LockConfig struct {
	// StaleAfter reclaims locks whose owner is gone and older than this.
	// 0 disables reclamation (default: 0)
	StaleAfter time.Duration `mapstructure:"stale_after"`
	// InitialBackoff is the first retry interval while the lock is held (default: 25ms)
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	// MaxBackoff caps the retry interval (default: 500ms)
	MaxBackoff time.Duration `mapstructure:"max_backoff"`
	// AcquireTimeout bounds how long a scaling call waits for the lock (default: 1m)
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
}

// TmuxConfig controls the tmux spawner
type TmuxConfig struct {
	// Socket is the tmux socket name (default: "teamwork")
	Socket string `mapstructure:"socket"`
	// LaunchCommand is the command run in every new worker pane (default: ["claude"])
	LaunchCommand []string `mapstructure:"launch_command"`
	// StopTimeout is how long termination waits after Ctrl+C (default: 2s)
	StopTimeout time.Duration `mapstructure:"stop_timeout"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		State: StateConfig{
			Dir: "", // Empty means discover .teamwork from the working directory
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   false,
		},
		Tasks: TasksConfig{
			ClaimLease: 15 * time.Minute,
		},
		Dispatch: DispatchConfig{
			ReceiptTimeout:      3 * time.Second,
			ReceiptPoll:         100 * time.Millisecond,
			TransportPreference: "hook_preferred_with_fallback",
			FallbackAllowed:     true,
		},
		Scaling: ScalingConfig{
			Enabled:            false,
			MaxWorkers:         8,
			ReadyTimeout:       30 * time.Second,
			DrainTimeout:       2 * time.Minute,
			DrainPoll:          time.Second,
			MinWorkers:         1,
			ScaleUpThreshold:   2,
			ScaleDownThreshold: 1,
			Cooldown:           30 * time.Second,
		},
		Lock: LockConfig{
			StaleAfter:     0, // Reclamation is an operator decision
			InitialBackoff: 25 * time.Millisecond,
			MaxBackoff:     500 * time.Millisecond,
			AcquireTimeout: time.Minute,
		},
		Tmux: TmuxConfig{
			Socket:        "teamwork",
			LaunchCommand: []string{"claude"},
			StopTimeout:   2 * time.Second,
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("state.dir", defaults.State.Dir)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)

	viper.SetDefault("tasks.claim_lease", defaults.Tasks.ClaimLease)

	// Dispatch defaults
	viper.SetDefault("dispatch.receipt_timeout", defaults.Dispatch.ReceiptTimeout)
	viper.SetDefault("dispatch.receipt_poll", defaults.Dispatch.ReceiptPoll)
	viper.SetDefault("dispatch.transport_preference", defaults.Dispatch.TransportPreference)
	viper.SetDefault("dispatch.fallback_allowed", defaults.Dispatch.FallbackAllowed)
	viper.SetDefault("dispatch.pending_expiry", defaults.Dispatch.PendingExpiry)

	// Scaling defaults
	viper.SetDefault("scaling.enabled", defaults.Scaling.Enabled)
	viper.SetDefault("scaling.max_workers", defaults.Scaling.MaxWorkers)
	viper.SetDefault("scaling.ready_timeout", defaults.Scaling.ReadyTimeout)
	viper.SetDefault("scaling.drain_timeout", defaults.Scaling.DrainTimeout)
	viper.SetDefault("scaling.drain_poll", defaults.Scaling.DrainPoll)
	viper.SetDefault("scaling.min_workers", defaults.Scaling.MinWorkers)
	viper.SetDefault("scaling.scale_up_threshold", defaults.Scaling.ScaleUpThreshold)
	viper.SetDefault("scaling.scale_down_threshold", defaults.Scaling.ScaleDownThreshold)
	viper.SetDefault("scaling.cooldown", defaults.Scaling.Cooldown)

	// Lock defaults
	viper.SetDefault("lock.stale_after", defaults.Lock.StaleAfter)
	viper.SetDefault("lock.initial_backoff", defaults.Lock.InitialBackoff)
	viper.SetDefault("lock.max_backoff", defaults.Lock.MaxBackoff)
	viper.SetDefault("lock.acquire_timeout", defaults.Lock.AcquireTimeout)

	// Tmux defaults
	viper.SetDefault("tmux.socket", defaults.Tmux.Socket)
	viper.SetDefault("tmux.launch_command", defaults.Tmux.LaunchCommand)
	viper.SetDefault("tmux.stop_timeout", defaults.Tmux.StopTimeout)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "teamwork")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".teamwork"
	}
	return filepath.Join(home, ".config", "teamwork")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// Settings returns the configuration as nested maps keyed like the config
// file, with durations in time.ParseDuration form.
func (c *Config) Settings() map[string]any {
	return map[string]any{
		"state": map[string]any{
			"dir": c.State.Dir,
		},
		"logging": map[string]any{
			"enabled":     c.Logging.Enabled,
			"level":       c.Logging.Level,
			"max_size_mb": c.Logging.MaxSizeMB,
			"max_backups": c.Logging.MaxBackups,
			"compress":    c.Logging.Compress,
		},
		"tasks": map[string]any{
			"claim_lease": c.Tasks.ClaimLease.String(),
		},
		"dispatch": map[string]any{
			"receipt_timeout":      c.Dispatch.ReceiptTimeout.String(),
			"receipt_poll":         c.Dispatch.ReceiptPoll.String(),
			"transport_preference": c.Dispatch.TransportPreference,
			"fallback_allowed":     c.Dispatch.FallbackAllowed,
			"pending_expiry":       c.Dispatch.PendingExpiry.String(),
		},
		"scaling": map[string]any{
			"enabled":              c.Scaling.Enabled,
			"max_workers":          c.Scaling.MaxWorkers,
			"ready_timeout":        c.Scaling.ReadyTimeout.String(),
			"drain_timeout":        c.Scaling.DrainTimeout.String(),
			"drain_poll":           c.Scaling.DrainPoll.String(),
			"min_workers":          c.Scaling.MinWorkers,
			"scale_up_threshold":   c.Scaling.ScaleUpThreshold,
			"scale_down_threshold": c.Scaling.ScaleDownThreshold,
			"cooldown":             c.Scaling.Cooldown.String(),
		},
		"lock": map[string]any{
			"stale_after":     c.Lock.StaleAfter.String(),
			"initial_backoff": c.Lock.InitialBackoff.String(),
			"max_backoff":     c.Lock.MaxBackoff.String(),
			"acquire_timeout": c.Lock.AcquireTimeout.String(),
		},
		"tmux": map[string]any{
			"socket":         c.Tmux.Socket,
			"launch_command": c.Tmux.LaunchCommand,
			"stop_timeout":   c.Tmux.StopTimeout.String(),
		},
	}
}
