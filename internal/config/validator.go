package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "worker.concurrency")
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
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	add := func(field string, value any, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: msg})
	}

	if c.Server.Addr == "" {
		add("server.addr", c.Server.Addr, "must not be empty")
	}

	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Log.Level)) {
		add("log.level", c.Log.Level, "must be one of "+strings.Join(ValidLogLevels(), ", "))
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		add("log.format", c.Log.Format, "must be text or json")
	}

	if c.Rooms.Max < 0 {
		add("rooms.max", c.Rooms.Max, "must be >= 0 (0 means unbounded)")
	}
	if c.Rooms.ReapInterval <= 0 {
		add("rooms.reap_interval", c.Rooms.ReapInterval, "must be positive")
	}
	if c.Rooms.ReapGrace < 0 {
		add("rooms.reap_grace", c.Rooms.ReapGrace, "must be >= 0")
	}

	if b := c.Executor.Backend; b != "local" && b != "docker" {
		add("executor.backend", b, "must be local or docker")
	}
	if c.Executor.OutputLimit <= 0 {
		add("executor.output_limit", c.Executor.OutputLimit, "must be positive")
	}
	if c.Executor.CompileTimeout <= 0 {
		add("executor.compile_timeout", c.Executor.CompileTimeout, "must be positive")
	}
	if c.Executor.RunTimeout <= 0 {
		add("executor.run_timeout", c.Executor.RunTimeout, "must be positive")
	}

	if c.Worker.Concurrency < 1 {
		add("worker.concurrency", c.Worker.Concurrency, "must be at least 1")
	}
	if c.Worker.QueueSize < 1 {
		add("worker.queue_size", c.Worker.QueueSize, "must be at least 1")
	}
	if a := c.Worker.Admission; a != "reject" && a != "wait" {
		add("worker.admission", a, "must be reject or wait")
	}
	if c.Worker.QueueTimeout <= 0 {
		add("worker.queue_timeout", c.Worker.QueueTimeout, "must be positive")
	}
	// A job starts no later than queue_timeout and then runs for at most
	// compile_timeout + run_timeout, so only a lost result can outlive this.
	if minResult := c.Worker.QueueTimeout + c.Executor.CompileTimeout + c.Executor.RunTimeout; c.Worker.ResultTimeout <= minResult {
		add("worker.result_timeout", c.Worker.ResultTimeout,
			fmt.Sprintf("must exceed queue_timeout + compile_timeout + run_timeout (%s)", minResult))
	}

	switch c.Queue.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			add("redis.addr", c.Redis.Addr, "required when queue.backend is redis")
		}
		if c.Redis.RecoveryInterval <= 0 {
			add("redis.recovery_interval", c.Redis.RecoveryInterval, "must be positive")
		}
	default:
		add("queue.backend", c.Queue.Backend, "must be memory or redis")
	}

	if c.RateLimit.Rate < 0 {
		add("ratelimit.rate", c.RateLimit.Rate, "must be >= 0")
	}
	if c.RateLimit.Rate > 0 && c.RateLimit.Burst < 1 {
		add("ratelimit.burst", c.RateLimit.Burst, "must be at least 1")
	}

	return errs
}
