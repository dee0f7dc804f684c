package config

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "dispatch.receipt_poll")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// socketRegex matches tmux socket names usable as a single path component.
var socketRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidTransportPreferences returns the list of valid dispatch preferences
func ValidTransportPreferences() []string {
	return []string{"hook_preferred_with_fallback", "transport_direct", "prompt_stdin"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateTasks()...)
	errors = append(errors, c.validateDispatch()...)
	errors = append(errors, c.validateScaling()...)
	errors = append(errors, c.validateLock()...)
	errors = append(errors, c.validateTmux()...)

	return errors
}

func positive(field string, d time.Duration) []ValidationError {
	if d > 0 {
		return nil
	}
	return []ValidationError{{Field: field, Value: d, Message: "must be positive"}}
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateTasks validates the TasksConfig
func (c *Config) validateTasks() []ValidationError {
	return positive("tasks.claim_lease", c.Tasks.ClaimLease)
}

// validateDispatch validates the DispatchConfig
func (c *Config) validateDispatch() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidTransportPreferences(), c.Dispatch.TransportPreference) {
		errors = append(errors, ValidationError{
			Field:   "dispatch.transport_preference",
			Value:   c.Dispatch.TransportPreference,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidTransportPreferences(), ", ")),
		})
	}

	errors = append(errors, positive("dispatch.receipt_timeout", c.Dispatch.ReceiptTimeout)...)
	errors = append(errors, positive("dispatch.receipt_poll", c.Dispatch.ReceiptPoll)...)

	if c.Dispatch.ReceiptPoll > c.Dispatch.ReceiptTimeout && c.Dispatch.ReceiptTimeout > 0 {
		errors = append(errors, ValidationError{
			Field:   "dispatch.receipt_poll",
			Value:   c.Dispatch.ReceiptPoll,
			Message: "must not exceed dispatch.receipt_timeout",
		})
	}

	if c.Dispatch.PendingExpiry != 0 && c.Dispatch.PendingExpiry <= c.Dispatch.ReceiptTimeout {
		errors = append(errors, ValidationError{
			Field:   "dispatch.pending_expiry",
			Value:   c.Dispatch.PendingExpiry,
			Message: "must be 0 or exceed dispatch.receipt_timeout",
		})
	}

	return errors
}

// validateScaling validates the ScalingConfig
func (c *Config) validateScaling() []ValidationError {
	var errors []ValidationError
	s := c.Scaling

	if s.MaxWorkers < 1 {
		errors = append(errors, ValidationError{
			Field:   "scaling.max_workers",
			Value:   s.MaxWorkers,
			Message: "must be at least 1",
		})
	}
	if s.MinWorkers < 1 {
		errors = append(errors, ValidationError{
			Field:   "scaling.min_workers",
			Value:   s.MinWorkers,
			Message: "must be at least 1",
		})
	}
	if s.MinWorkers > s.MaxWorkers && s.MaxWorkers >= 1 {
		errors = append(errors, ValidationError{
			Field:   "scaling.min_workers",
			Value:   s.MinWorkers,
			Message: "must not exceed scaling.max_workers",
		})
	}
	if s.ScaleUpThreshold < 0 {
		errors = append(errors, ValidationError{
			Field:   "scaling.scale_up_threshold",
			Value:   s.ScaleUpThreshold,
			Message: "must be non-negative",
		})
	}
	if s.ScaleDownThreshold < 0 {
		errors = append(errors, ValidationError{
			Field:   "scaling.scale_down_threshold",
			Value:   s.ScaleDownThreshold,
			Message: "must be non-negative",
		})
	}
	if s.Cooldown < 0 {
		errors = append(errors, ValidationError{
			Field:   "scaling.cooldown",
			Value:   s.Cooldown,
			Message: "must be non-negative",
		})
	}

	errors = append(errors, positive("scaling.ready_timeout", s.ReadyTimeout)...)
	errors = append(errors, positive("scaling.drain_timeout", s.DrainTimeout)...)
	errors = append(errors, positive("scaling.drain_poll", s.DrainPoll)...)

	return errors
}

// validateLock validates the LockConfig
func (c *Config) validateLock() []ValidationError {
	var errors []ValidationError

	if c.Lock.StaleAfter < 0 {
		errors = append(errors, ValidationError{
			Field:   "lock.stale_after",
			Value:   c.Lock.StaleAfter,
			Message: "must be non-negative (0 disables reclamation)",
		})
	}

	errors = append(errors, positive("lock.initial_backoff", c.Lock.InitialBackoff)...)
	errors = append(errors, positive("lock.max_backoff", c.Lock.MaxBackoff)...)
	errors = append(errors, positive("lock.acquire_timeout", c.Lock.AcquireTimeout)...)

	if c.Lock.MaxBackoff < c.Lock.InitialBackoff && c.Lock.MaxBackoff > 0 {
		errors = append(errors, ValidationError{
			Field:   "lock.max_backoff",
			Value:   c.Lock.MaxBackoff,
			Message: "must not be less than lock.initial_backoff",
		})
	}

	return errors
}

// validateTmux validates the TmuxConfig
func (c *Config) validateTmux() []ValidationError {
	var errors []ValidationError

	if !socketRegex.MatchString(c.Tmux.Socket) {
		errors = append(errors, ValidationError{
			Field:   "tmux.socket",
			Value:   c.Tmux.Socket,
			Message: "must start with a letter or digit and contain only letters, digits, '.', '_' or '-'",
		})
	}

	if len(c.Tmux.LaunchCommand) == 0 || strings.TrimSpace(c.Tmux.LaunchCommand[0]) == "" {
		errors = append(errors, ValidationError{
			Field:   "tmux.launch_command",
			Value:   c.Tmux.LaunchCommand,
			Message: "must name a program",
		})
	}

	if c.Tmux.StopTimeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "tmux.stop_timeout",
			Value:   c.Tmux.StopTimeout,
			Message: "must be non-negative",
		})
	}

	return errors
}
