package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// WorkerConfig identifies this node.
type WorkerConfig struct {
	NodeID    string `yaml:"node_id"`
	MyAddress string `yaml:"my_address"`
	// MultiThreadWorkers sizes the pools of multi-threaded components.
	// Zero means GOMAXPROCS.
	MultiThreadWorkers int `yaml:"multi_thread_workers"`
}

// ServerConfig holds the gRPC health endpoint settings.
type ServerConfig struct {
	GRPCPort int `yaml:"grpc_port"`
}

// CompactionConfig holds compaction pipeline settings.
type CompactionConfig struct {
	NumWriteTasks      int      `yaml:"num_write_tasks"`
	MaxJobsInFlight    int      `yaml:"max_jobs_in_flight"`
	MaxWriteRetries    int      `yaml:"max_write_retries"` // 0 disables retries, negative means unbounded
	BackoffInitial     string   `yaml:"backoff_initial"`
	BackoffMax         string   `yaml:"backoff_max"`
	PollInterval       string   `yaml:"poll_interval"`
	ScheduleInterval   string   `yaml:"schedule_interval"`
	ScanBatchSize      int      `yaml:"scan_batch_size"`
	PartitionSize      int      `yaml:"partition_size"` // > 0 selects key-aware partitioning
	WriterRateLimit    float64  `yaml:"writer_rate_limit"`
	WriterWorkers      int      `yaml:"writer_workers"`
	BlockedCollections []string `yaml:"blocked_collections"`
	// SlowWriteThreshold is the duration above which a write task is reported.
	SlowWriteThreshold string `yaml:"slow_write_threshold"`
	FailureAlertAfter  int    `yaml:"failure_alert_after"`
}

// SegmentConfig holds segment storage settings.
type SegmentConfig struct {
	DataDir       string `yaml:"data_dir"`
	Compression   string `yaml:"compression"` // none, snappy, lz4, zstd
	FlushInterval string `yaml:"flush_interval"`
}

// CacheConfig holds catalog cache settings.
type CacheConfig struct {
	Capacity int `yaml:"capacity"`
}

// IngestConfig holds settings of the log ingest component.
type IngestConfig struct {
	QueueSize int `yaml:"queue_size"`
}

// MembershipConfig selects where the cluster memberlist comes from.
type MembershipConfig struct {
	Mode           string   `yaml:"mode"` // "static" or "zookeeper"
	Members        []string `yaml:"members"`
	Servers        []string `yaml:"servers"`
	Root           string   `yaml:"root"`
	SessionTimeout string   `yaml:"session_timeout"`
}

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // e.g., "debug", "info", "warn", "error"
	Output string `yaml:"output"` // e.g., "stdout", "file", "none"
	File   string `yaml:"file"`   // Path to the log file, used if output is "file"
	Format string `yaml:"format"` // "text" or "json"
}

// DebugConfig holds debugging-related configurations.
type DebugConfig struct {
	Enabled          bool   `yaml:"enabled"`
	ListenAddress    string `yaml:"listen_address"`
	PProfEnabled     bool   `yaml:"pprof_enabled"`
	MetricsEnabled   bool   `yaml:"metrics_enabled"`
	MonitorUIEnabled bool   `yaml:"monitor_ui_enabled"`
	AdminEnabled     bool   `yaml:"admin_enabled"`
}

// SelfMonitoringConfig controls the process resource collector.
type SelfMonitoringConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Interval string `yaml:"interval"`
}

// TracingConfig holds configuration for distributed tracing.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"` // e.g., "localhost:4317" for gRPC OTLP collector
	Protocol string `yaml:"protocol"` // "grpc" or "http"
}

// Config is the top-level configuration struct.
type Config struct {
	Worker         WorkerConfig         `yaml:"worker"`
	Server         ServerConfig         `yaml:"server"`
	Compaction     CompactionConfig     `yaml:"compaction"`
	Segment        SegmentConfig        `yaml:"segment"`
	Cache          CacheConfig          `yaml:"cache"`
	Ingest         IngestConfig         `yaml:"ingest"`
	Membership     MembershipConfig     `yaml:"membership"`
	Logging        LoggingConfig        `yaml:"logging"`
	Debug          DebugConfig          `yaml:"debug"`
	SelfMonitoring SelfMonitoringConfig `yaml:"self_monitoring"`
	Tracing        TracingConfig        `yaml:"tracing"`
}

// ParseDuration parses a duration string. Returns the default duration if the string is empty or invalid.
// Logs a warning if the string is invalid but not empty.
func ParseDuration(durationStr string, defaultDuration time.Duration, logger *slog.Logger) time.Duration {
	if durationStr == "" || durationStr == "0" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		if logger != nil {
			logger.Warn("Invalid duration format, using default", "input", durationStr, "default", defaultDuration.String(), "error", err)
		}
		return defaultDuration
	}
	return d
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Worker: WorkerConfig{
			NodeID:    "worker-0",
			MyAddress: "localhost:50051",
		},
		Server: ServerConfig{
			GRPCPort: 50051,
		},
		Compaction: CompactionConfig{
			NumWriteTasks:      1,
			MaxJobsInFlight:    1,
			MaxWriteRetries:    5,
			BackoffInitial:     "100ms",
			BackoffMax:         "10s",
			PollInterval:       "100ms",
			ScheduleInterval:   "1s",
			ScanBatchSize:      1000,
			PartitionSize:      0,
			WriterRateLimit:    0,
			SlowWriteThreshold: "5s",
			FailureAlertAfter:  3,
		},
		Segment: SegmentConfig{
			DataDir:       "./data/segments",
			Compression:   "snappy",
			FlushInterval: "30s",
		},
		Cache: CacheConfig{
			Capacity: 1024,
		},
		Ingest: IngestConfig{
			QueueSize: 100,
		},
		Membership: MembershipConfig{
			Mode:           "static",
			Root:           "/chroma",
			SessionTimeout: "5s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
			File:   "worker.log",
			Format: "text",
		},
		Debug: DebugConfig{
			Enabled:          true,
			ListenAddress:    "0.0.0.0:6060",
			PProfEnabled:     true,
			MetricsEnabled:   true,
			MonitorUIEnabled: true,
			AdminEnabled:     true,
		},
		SelfMonitoring: SelfMonitoringConfig{
			Enabled:  true,
			Interval: "15s",
		},
		Tracing: TracingConfig{
			Enabled:  false,
			Endpoint: "localhost:4317",
			Protocol: "grpc",
		},
	}
}

// Load reads configuration from an io.Reader.
// This is the core logic, separated for testability.
func Load(r io.Reader) (*Config, error) {
	cfg := Default()

	// If the reader is nil, it's like an empty file, return defaults.
	if r == nil {
		return cfg, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}
	if len(data) == 0 {
		return cfg, nil
	}

	// Unmarshal YAML into the config struct, overwriting defaults
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the worker cannot start with.
func (c *Config) Validate() error {
	switch c.Membership.Mode {
	case "static":
	case "zookeeper":
		if len(c.Membership.Servers) == 0 {
			return fmt.Errorf("membership: zookeeper mode requires servers")
		}
	default:
		return fmt.Errorf("membership: unknown mode %q", c.Membership.Mode)
	}
	if c.Compaction.NumWriteTasks < 1 {
		return fmt.Errorf("compaction: num_write_tasks must be at least 1, got %d", c.Compaction.NumWriteTasks)
	}
	if c.Compaction.MaxJobsInFlight < 1 {
		return fmt.Errorf("compaction: max_jobs_in_flight must be at least 1, got %d", c.Compaction.MaxJobsInFlight)
	}
	if c.Compaction.WriterRateLimit < 0 {
		return fmt.Errorf("compaction: writer_rate_limit must not be negative")
	}
	if c.Segment.DataDir == "" {
		return fmt.Errorf("segment: data_dir is required")
	}
	return nil
}

// LoadConfig reads configuration from a YAML file by path.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// If file doesn't exist, return default config by calling Load with a nil reader.
			return Load(nil)
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	return Load(file)
}
