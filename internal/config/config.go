// Package config loads server and worker settings from flags, environment
// variables (CODEROOM_ prefix) and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dontdude/coderoom/internal/domain"
	"github.com/dontdude/coderoom/internal/executor"
	"github.com/dontdude/coderoom/internal/platform/docker"
	"github.com/dontdude/coderoom/internal/platform/queue"
)

// EnvPrefix is prepended to every environment variable, e.g.
// CODEROOM_SERVER_ADDR for server.addr.
const EnvPrefix = "CODEROOM"

// Config represents the complete coderoom configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Rooms     RoomsConfig     `mapstructure:"rooms"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Docker    DockerConfig    `mapstructure:"docker"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

// ServerConfig controls the HTTP listener
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LogConfig controls structured logging
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format is text or json
	Format string `mapstructure:"format"`
}

// RoomsConfig controls the room registry lifecycle
type RoomsConfig struct {
	Max          int           `mapstructure:"max"`
	ReapInterval time.Duration `mapstructure:"reap_interval"`
	// ReapGrace is how long a room may stay empty before it is removed
	ReapGrace time.Duration `mapstructure:"reap_grace"`
}

// ExecutorConfig controls how jobs are compiled and run
type ExecutorConfig struct {
	// Backend is "local" (unsandboxed host processes) or "docker"
	Backend       string `mapstructure:"backend"`
	WorkspaceRoot string `mapstructure:"workspace_root"`
	// OutputLimit caps stdout and stderr each, in bytes
	OutputLimit    int           `mapstructure:"output_limit"`
	CompileTimeout time.Duration `mapstructure:"compile_timeout"`
	RunTimeout     time.Duration `mapstructure:"run_timeout"`
}

// DockerConfig controls the container backend
type DockerConfig struct {
	Images          ImagesConfig `mapstructure:"images"`
	MemoryMB        int64        `mapstructure:"memory_mb"`
	PidsLimit       int64        `mapstructure:"pids_limit"`
	NetworkDisabled bool         `mapstructure:"network_disabled"`
}

// ImagesConfig names the image used for each language
type ImagesConfig struct {
	JavaScript string `mapstructure:"javascript"`
	Python     string `mapstructure:"python"`
	Cpp        string `mapstructure:"cpp"`
}

// ByLanguage returns the images keyed by language.
func (c ImagesConfig) ByLanguage() map[domain.Language]string {
	return map[domain.Language]string{
		domain.JavaScript: c.JavaScript,
		domain.Python:     c.Python,
		domain.Cpp:        c.Cpp,
	}
}

// WorkerConfig controls execution concurrency and admission
type WorkerConfig struct {
	// Embedded runs the worker pool inside the server process
	Embedded    bool `mapstructure:"embedded"`
	Concurrency int  `mapstructure:"concurrency"`
	QueueSize   int  `mapstructure:"queue_size"`
	// Admission is "reject" or "wait" when the queue is full
	Admission        string        `mapstructure:"admission"`
	AdmissionTimeout time.Duration `mapstructure:"admission_timeout"`
	// QueueTimeout is how long a job may wait for a free worker before it
	// is answered as expired without running
	QueueTimeout time.Duration `mapstructure:"queue_timeout"`
	// ResultTimeout is the backstop for results lost with a dead worker
	ResultTimeout time.Duration `mapstructure:"result_timeout"`
}

// QueueConfig selects the job queue backend
type QueueConfig struct {
	// Backend is "memory" or "redis"
	Backend string `mapstructure:"backend"`
}

// RedisConfig controls the Redis queue backend
type RedisConfig struct {
	Addr             string        `mapstructure:"addr"`
	Stream           string        `mapstructure:"stream"`
	Group            string        `mapstructure:"group"`
	ResultsChannel   string        `mapstructure:"results_channel"`
	RecoveryInterval time.Duration `mapstructure:"recovery_interval"`
	RecoveryMaxAge   time.Duration `mapstructure:"recovery_max_age"`
}

// RateLimitConfig controls the per-IP token bucket for runs
type RateLimitConfig struct {
	// Rate is tokens per second; 0 disables rate limiting
	Rate  float64 `mapstructure:"rate"`
	Burst float64 `mapstructure:"burst"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":4000",
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Rooms: RoomsConfig{
			Max:          10000,
			ReapInterval: time.Minute,
			ReapGrace:    10 * time.Minute,
		},
		Executor: ExecutorConfig{
			Backend:        "local",
			WorkspaceRoot:  os.TempDir(),
			OutputLimit:    20000,
			CompileTimeout: 10 * time.Second,
			RunTimeout:     5 * time.Second,
		},
		Docker: DockerConfig{
			Images: ImagesConfig{
				JavaScript: "node:20-alpine",
				Python:     "python:3.12-alpine",
				Cpp:        "gcc:13",
			},
			MemoryMB:        256,
			PidsLimit:       128,
			NetworkDisabled: true,
		},
		Worker: WorkerConfig{
			Embedded:         true,
			Concurrency:      4,
			QueueSize:        32,
			Admission:        "reject",
			AdmissionTimeout: 2 * time.Second,
			QueueTimeout:     30 * time.Second,
			ResultTimeout:    60 * time.Second,
		},
		Queue: QueueConfig{
			Backend: "memory",
		},
		Redis: RedisConfig{
			Addr:             "localhost:6379",
			Stream:           "coderoom:jobs",
			Group:            "coderoom:workers",
			ResultsChannel:   "coderoom:results",
			RecoveryInterval: 30 * time.Second,
			RecoveryMaxAge:   2 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Rate:  0.5,
			Burst: 5,
		},
	}
}

// SetDefaults registers every default with v so that env variables and
// config files only need to override what they change.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("rooms.max", d.Rooms.Max)
	v.SetDefault("rooms.reap_interval", d.Rooms.ReapInterval)
	v.SetDefault("rooms.reap_grace", d.Rooms.ReapGrace)

	v.SetDefault("executor.backend", d.Executor.Backend)
	v.SetDefault("executor.workspace_root", d.Executor.WorkspaceRoot)
	v.SetDefault("executor.output_limit", d.Executor.OutputLimit)
	v.SetDefault("executor.compile_timeout", d.Executor.CompileTimeout)
	v.SetDefault("executor.run_timeout", d.Executor.RunTimeout)

	v.SetDefault("docker.images.javascript", d.Docker.Images.JavaScript)
	v.SetDefault("docker.images.python", d.Docker.Images.Python)
	v.SetDefault("docker.images.cpp", d.Docker.Images.Cpp)
	v.SetDefault("docker.memory_mb", d.Docker.MemoryMB)
	v.SetDefault("docker.pids_limit", d.Docker.PidsLimit)
	v.SetDefault("docker.network_disabled", d.Docker.NetworkDisabled)

	v.SetDefault("worker.embedded", d.Worker.Embedded)
	v.SetDefault("worker.concurrency", d.Worker.Concurrency)
	v.SetDefault("worker.queue_size", d.Worker.QueueSize)
	v.SetDefault("worker.admission", d.Worker.Admission)
	v.SetDefault("worker.admission_timeout", d.Worker.AdmissionTimeout)
	v.SetDefault("worker.queue_timeout", d.Worker.QueueTimeout)
	v.SetDefault("worker.result_timeout", d.Worker.ResultTimeout)

	v.SetDefault("queue.backend", d.Queue.Backend)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.stream", d.Redis.Stream)
	v.SetDefault("redis.group", d.Redis.Group)
	v.SetDefault("redis.results_channel", d.Redis.ResultsChannel)
	v.SetDefault("redis.recovery_interval", d.Redis.RecoveryInterval)
	v.SetDefault("redis.recovery_max_age", d.Redis.RecoveryMaxAge)

	v.SetDefault("ratelimit.rate", d.RateLimit.Rate)
	v.SetDefault("ratelimit.burst", d.RateLimit.Burst)
}

// Init prepares v: defaults first, then environment variables, then the
// config file. An explicitly named file must exist; otherwise a
// coderoom.yaml in the working directory is read when present.
func Init(v *viper.Viper, file string) error {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	// Replace dots with underscores for nested keys in env vars
	// e.g., CODEROOM_WORKER_CONCURRENCY for worker.concurrency
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", file, err)
		}
		return nil
	}

	v.SetConfigName("coderoom")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	return nil
}

// Load unmarshals and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// Limits returns the executor bounds.
func (c *Config) Limits() executor.Limits {
	return executor.Limits{
		CompileTimeout: c.Executor.CompileTimeout,
		RunTimeout:     c.Executor.RunTimeout,
		OutputLimit:    c.Executor.OutputLimit,
	}
}

// DockerOptions returns the container sandbox settings.
func (c *Config) DockerOptions() docker.Options {
	return docker.Options{
		Images:          c.Docker.Images.ByLanguage(),
		MemoryMB:        c.Docker.MemoryMB,
		PidsLimit:       c.Docker.PidsLimit,
		NetworkDisabled: c.Docker.NetworkDisabled,
	}
}

// RedisQueue returns the stream settings. The queue size doubles as the
// stream's backlog bound.
func (c *Config) RedisQueue() queue.RedisConfig {
	return queue.RedisConfig{
		Stream:         c.Redis.Stream,
		Group:          c.Redis.Group,
		ResultsChannel: c.Redis.ResultsChannel,
		MaxLen:         int64(c.Worker.QueueSize),
	}
}
