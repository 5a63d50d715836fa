package config

import (
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var GlobalConfig *Config

// Config global configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Redis      RedisConfig      `yaml:"redis"`
	MySQL      MySQLConfig      `yaml:"mysql"`
	Queue      QueueConfig      `yaml:"queue"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Stream     StreamConfig     `yaml:"stream"`
	Trainer    TrainerConfig    `yaml:"trainer"`
	Logger     LoggerConfig     `yaml:"logger"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Port   int    `yaml:"port"`
	Mode   string `yaml:"mode"`    // debug, release
	APIKey string `yaml:"api_key"` // Bearer token for trainer callbacks (optional, if empty, auth is disabled)
}

// RedisConfig Redis configuration
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MySQLConfig MySQL configuration
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// QueueConfig training queue configuration
type QueueConfig struct {
	MaxRunning      int `yaml:"max_running"`      // how many jobs may hold RUNNING at once
	MaxRetry        int `yaml:"max_retry"`        // maximum dispatch retry count
	RunningTimeout  int `yaml:"running_timeout"`  // seconds a job may stay RUNNING without trainer progress
	DispatchTimeout int `yaml:"dispatch_timeout"` // seconds granted to a trainer start call
}

// MonitoringConfig monitoring core configuration
type MonitoringConfig struct {
	SeriesCapacity  int          `yaml:"series_capacity"`  // points retained per metric key
	CollectInterval int          `yaml:"collect_interval"` // collector sampling interval (seconds)
	Health          HealthConfig `yaml:"health"`
}

// HealthConfig health scoring thresholds and composite weights.
// The per-domain penalty tables are fixed; only the status bands and the
// overall aggregation are tunable.
type HealthConfig struct {
	HealthyFloor    int     `yaml:"healthy_floor"`    // overall score >= this is "healthy"
	DegradedFloor   int     `yaml:"degraded_floor"`   // overall score >= this is "degraded"
	StorageWeight   float64 `yaml:"storage_weight"`   // composite weight for the storage domain
	CacheWeight     float64 `yaml:"cache_weight"`     // composite weight for the cache domain
	RealtimeWeight  float64 `yaml:"realtime_weight"`  // composite weight for the realtime domain
	CriticalPenalty int     `yaml:"critical_penalty"` // overall points subtracted per active critical alert
	WarningPenalty  int     `yaml:"warning_penalty"`  // overall points subtracted per active warning alert
}

// StreamConfig progress stream configuration
type StreamConfig struct {
	PollInterval int `yaml:"poll_interval"` // seconds between dispatch ticks
	BufferSize   int `yaml:"buffer_size"`   // per-subscription event buffer
}

// TrainerConfig external trainer process configuration
type TrainerConfig struct {
	Provider      string `yaml:"provider"`       // k8s, http
	Namespace     string `yaml:"namespace"`      // K8s namespace for training jobs
	TemplatePath  string `yaml:"template_path"`  // batch Job template YAML
	Image         string `yaml:"image"`          // training image used when the template leaves it empty
	DaemonURL     string `yaml:"daemon_url"`     // http provider: trainer daemon base URL
	CancelTimeout int    `yaml:"cancel_timeout"` // seconds granted to a cancel call
	HeartbeatTTL  int    `yaml:"heartbeat_ttl"`  // seconds a trainer heartbeat stays valid
}

// LoggerConfig logger configuration
type LoggerConfig struct {
	Level  string           `yaml:"level"`  // debug, info, warn, error
	Output string           `yaml:"output"` // console, file, both
	File   LoggerFileConfig `yaml:"file"`
}

// LoggerFileConfig logger file configuration
type LoggerFileConfig struct {
	Path string `yaml:"path"`
}

// Init initializes configuration
func Init() error {
	// Optional .env for local development, absence is fine.
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return err
	}

	cfg.ApplyDefaults()
	GlobalConfig = &cfg
	return nil
}

// ApplyDefaults fills zero-valued tunables with their documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Queue.MaxRunning <= 0 {
		c.Queue.MaxRunning = 1
	}
	if c.Queue.MaxRetry <= 0 {
		c.Queue.MaxRetry = 3
	}
	if c.Queue.RunningTimeout <= 0 {
		c.Queue.RunningTimeout = 21600
	}
	if c.Queue.DispatchTimeout <= 0 {
		c.Queue.DispatchTimeout = 30
	}
	if c.Monitoring.SeriesCapacity <= 0 {
		c.Monitoring.SeriesCapacity = 500
	}
	if c.Monitoring.CollectInterval <= 0 {
		c.Monitoring.CollectInterval = 30
	}
	if c.Monitoring.Health.HealthyFloor <= 0 {
		c.Monitoring.Health.HealthyFloor = 80
	}
	if c.Monitoring.Health.DegradedFloor <= 0 {
		c.Monitoring.Health.DegradedFloor = 50
	}
	if c.Monitoring.Health.StorageWeight <= 0 {
		c.Monitoring.Health.StorageWeight = 0.4
	}
	if c.Monitoring.Health.CacheWeight <= 0 {
		c.Monitoring.Health.CacheWeight = 0.3
	}
	if c.Monitoring.Health.RealtimeWeight <= 0 {
		c.Monitoring.Health.RealtimeWeight = 0.3
	}
	if c.Monitoring.Health.CriticalPenalty <= 0 {
		c.Monitoring.Health.CriticalPenalty = 15
	}
	if c.Monitoring.Health.WarningPenalty <= 0 {
		c.Monitoring.Health.WarningPenalty = 5
	}
	if c.Stream.PollInterval <= 0 {
		c.Stream.PollInterval = 5
	}
	if c.Stream.BufferSize <= 0 {
		c.Stream.BufferSize = 16
	}
	if c.Trainer.CancelTimeout <= 0 {
		c.Trainer.CancelTimeout = 10
	}
	if c.Trainer.HeartbeatTTL <= 0 {
		c.Trainer.HeartbeatTTL = 60
	}
}
