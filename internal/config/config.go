package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig
	Remote    RemoteConfig
	Tracts    TractsConfig
	Proximity ProximityConfig
	Queue     QueueConfig
	Panel     PanelConfig
	Worker    WorkerConfig
	Sources   SourcesConfig
	DB        DatabaseConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host      string
	Port      int
	RateLimit int // requests per second across the local API
}

type RemoteConfig struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64
	Burst     int
}

type TractsConfig struct {
	MinZoom float64
}

type ProximityConfig struct {
	RadiusMiles float64
	Limit       int
	MaxAgeHours int
	Refresh     string // cron spec, empty disables
}

type QueueConfig struct {
	Limit         int
	LeaveDelay    time.Duration
	SeenNamespace string
}

type PanelConfig struct {
	LocalRadiusMiles float64
	LocalMaxAgeHours int
	LocalLimit       int
	GlobalLimit      int
}

type WorkerConfig struct {
	Count      int
	BufferSize int
}

type SourcesConfig struct {
	ReportsEnabled      bool
	ReportsPollInterval time.Duration
	NWSEnabled          bool
	NWSPollInterval     time.Duration
	USGSEnabled         bool
	USGSPollInterval    time.Duration
	EONETEnabled        bool
	EONETPollInterval   time.Duration
	FIRMSEnabled        bool
	FIRMSPollInterval   time.Duration
}

type DatabaseConfig struct {
	Path string
}

type LoggingConfig struct {
	Level  string
	Format string
}

const minPollInterval = 30 * time.Second

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:      getEnv("SERVER_HOST", "localhost"),
			Port:      getEnvInt("SERVER_PORT", 8080),
			RateLimit: getEnvInt("SERVER_RATE_LIMIT", 5),
		},
		Remote: RemoteConfig{
			BaseURL:   getEnv("PULSEMAP_API_BASE", "http://localhost:8000"),
			Timeout:   getEnvDuration("PULSEMAP_API_TIMEOUT", 8*time.Second),
			RateLimit: getEnvFloat("PULSEMAP_API_RATE_LIMIT", 10),
			Burst:     getEnvInt("PULSEMAP_API_BURST", 5),
		},
		Tracts: TractsConfig{
			MinZoom: getEnvFloat("TRACTS_MIN_ZOOM", 11),
		},
		Proximity: ProximityConfig{
			RadiusMiles: getEnvFloat("PROXIMITY_RADIUS_MILES", 2),
			Limit:       getEnvInt("PROXIMITY_LIMIT", 5),
			MaxAgeHours: getEnvInt("PROXIMITY_MAX_AGE_HOURS", 48),
			Refresh:     getEnv("PROXIMITY_REFRESH", "@every 2m"),
		},
		Queue: QueueConfig{
			Limit:         getEnvInt("QUEUE_LIMIT", 5),
			LeaveDelay:    getEnvDuration("QUEUE_LEAVE_DELAY", 220*time.Millisecond),
			SeenNamespace: getEnv("QUEUE_SEEN_NAMESPACE", "pm_seen_v1"),
		},
		Panel: PanelConfig{
			LocalRadiusMiles: getEnvFloat("PANEL_LOCAL_RADIUS_MILES", 25),
			LocalMaxAgeHours: getEnvInt("PANEL_LOCAL_MAX_AGE_HOURS", 48),
			LocalLimit:       getEnvInt("PANEL_LOCAL_LIMIT", 100),
			GlobalLimit:      getEnvInt("PANEL_GLOBAL_LIMIT", 200),
		},
		Worker: WorkerConfig{
			Count:      getEnvInt("WORKER_COUNT", 2),
			BufferSize: getEnvInt("WORKER_BUFFER_SIZE", 20),
		},
		Sources: SourcesConfig{
			ReportsEnabled:      getEnvBool("REPORTS_ENABLED", true),
			ReportsPollInterval: getEnvDuration("REPORTS_POLL_INTERVAL", time.Minute),
			NWSEnabled:          getEnvBool("NWS_ENABLED", true),
			NWSPollInterval:     getEnvDuration("NWS_POLL_INTERVAL", 5*time.Minute),
			USGSEnabled:         getEnvBool("USGS_ENABLED", true),
			USGSPollInterval:    getEnvDuration("USGS_POLL_INTERVAL", 5*time.Minute),
			EONETEnabled:        getEnvBool("EONET_ENABLED", true),
			EONETPollInterval:   getEnvDuration("EONET_POLL_INTERVAL", 10*time.Minute),
			FIRMSEnabled:        getEnvBool("FIRMS_ENABLED", true),
			FIRMSPollInterval:   getEnvDuration("FIRMS_POLL_INTERVAL", 10*time.Minute),
		},
		DB: DatabaseConfig{
			Path: getEnv("DB_PATH", "./data/pulsemap.db"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.RateLimit < 1 {
		return fmt.Errorf("server rate limit must be positive: %d", c.Server.RateLimit)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Remote.BaseURL == "" {
		return fmt.Errorf("PULSEMAP_API_BASE is required")
	}
	if c.Remote.Timeout <= 0 {
		return fmt.Errorf("remote timeout must be positive")
	}

	if c.Proximity.RadiusMiles <= 0 {
		return fmt.Errorf("proximity radius must be positive")
	}
	if c.Proximity.Limit < 1 {
		return fmt.Errorf("proximity limit must be at least 1")
	}
	if c.Queue.Limit < 1 {
		return fmt.Errorf("queue limit must be at least 1")
	}
	if c.Queue.LeaveDelay < 0 {
		return fmt.Errorf("queue leave delay must not be negative")
	}
	if c.Queue.SeenNamespace == "" {
		return fmt.Errorf("seen namespace is required")
	}
	if c.Worker.Count < 1 {
		return fmt.Errorf("worker count must be at least 1")
	}

	intervals := map[string]time.Duration{
		"reports": c.Sources.ReportsPollInterval,
		"NWS":     c.Sources.NWSPollInterval,
		"USGS":    c.Sources.USGSPollInterval,
		"EONET":   c.Sources.EONETPollInterval,
		"FIRMS":   c.Sources.FIRMSPollInterval,
	}
	for name, d := range intervals {
		if d < minPollInterval {
			return fmt.Errorf("%s poll interval must be at least %s", name, minPollInterval)
		}
	}

	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
