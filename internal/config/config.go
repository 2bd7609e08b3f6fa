package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Jobs     JobsConfig
	Upload   UploadConfig
	Geo      GeoConfig
	CORS     CORSConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string
	Env  string
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	PoolMin  int
	PoolMax  int
}

// RedisConfig holds the Redis connection used by the cache, the job
// queue, and the realtime relay channel.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Job execution modes
const (
	JobsModeRedis  = "redis"
	JobsModeInline = "inline"
)

// JobsConfig controls background job execution. Mode is fixed at startup:
// "redis" runs a distributed queue, "inline" runs the same worker pool
// in-process over a memory queue. The execution path never changes per call.
type JobsConfig struct {
	Mode          string
	Workers       int
	QueueSize     int
	ResultTimeout time.Duration
	PollInterval  time.Duration
	Retention     time.Duration
	HeartbeatTTL  time.Duration
}

// UploadConfig holds shapefile staging configuration.
type UploadConfig struct {
	Dir       string
	MaxSizeMB int64
}

// GeoConfig carries the spatial tuning knobs. The defaults mirror the
// values the platform has always shipped with; they are configuration,
// not business rules.
type GeoConfig struct {
	RadiusJobThresholdKm float64
	DefaultPrice         float64
	DefaultAreaSqm       float64
	DefaultUsageType     string
	StatsCacheTTL        time.Duration
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	Origins []string
}

// Load reads configuration from environment variables. It uses viper to
// read values and provides sensible defaults for development.
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults for development
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_NAME", "landhub")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_POOL_MIN", 2)
	v.SetDefault("DB_POOL_MAX", 10)
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("JOBS_MODE", "redis")
	v.SetDefault("JOBS_WORKERS", 4)
	v.SetDefault("JOBS_QUEUE_SIZE", 256)
	v.SetDefault("JOBS_RESULT_TIMEOUT", "30s")
	v.SetDefault("JOBS_POLL_INTERVAL", "250ms")
	v.SetDefault("JOBS_RETENTION", "1h")
	v.SetDefault("JOBS_HEARTBEAT_TTL", "15s")
	v.SetDefault("UPLOAD_DIR", "uploads")
	v.SetDefault("UPLOAD_MAX_SIZE_MB", 50)
	v.SetDefault("GEO_RADIUS_JOB_THRESHOLD_KM", 10.0)
	v.SetDefault("GEO_DEFAULT_PRICE", 100000.0)
	v.SetDefault("GEO_DEFAULT_AREA_SQM", 1000.0)
	v.SetDefault("GEO_DEFAULT_USAGE_TYPE", "Residential")
	v.SetDefault("GEO_STATS_CACHE_TTL", "5m")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173")

	// Bind environment variables
	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Port: v.GetString("PORT"),
			Env:  v.GetString("ENV"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			Name:     v.GetString("DB_NAME"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			PoolMin:  v.GetInt("DB_POOL_MIN"),
			PoolMax:  v.GetInt("DB_POOL_MAX"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Jobs: JobsConfig{
			Mode:          v.GetString("JOBS_MODE"),
			Workers:       v.GetInt("JOBS_WORKERS"),
			QueueSize:     v.GetInt("JOBS_QUEUE_SIZE"),
			ResultTimeout: v.GetDuration("JOBS_RESULT_TIMEOUT"),
			PollInterval:  v.GetDuration("JOBS_POLL_INTERVAL"),
			Retention:     v.GetDuration("JOBS_RETENTION"),
			HeartbeatTTL:  v.GetDuration("JOBS_HEARTBEAT_TTL"),
		},
		Upload: UploadConfig{
			Dir:       v.GetString("UPLOAD_DIR"),
			MaxSizeMB: v.GetInt64("UPLOAD_MAX_SIZE_MB"),
		},
		Geo: GeoConfig{
			RadiusJobThresholdKm: v.GetFloat64("GEO_RADIUS_JOB_THRESHOLD_KM"),
			DefaultPrice:         v.GetFloat64("GEO_DEFAULT_PRICE"),
			DefaultAreaSqm:       v.GetFloat64("GEO_DEFAULT_AREA_SQM"),
			DefaultUsageType:     v.GetString("GEO_DEFAULT_USAGE_TYPE"),
			StatsCacheTTL:        v.GetDuration("GEO_STATS_CACHE_TTL"),
		},
		CORS: CORSConfig{
			Origins: parseOrigins(v.GetString("CORS_ORIGINS")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}
	if c.Database.Port == "" {
		return fmt.Errorf("DB_PORT is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("DB_NAME is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("DB_USER is required")
	}
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.Database.PoolMin < 0 {
		return fmt.Errorf("DB_POOL_MIN must be non-negative")
	}
	if c.Database.PoolMax < 1 {
		return fmt.Errorf("DB_POOL_MAX must be at least 1")
	}
	if c.Database.PoolMin > c.Database.PoolMax {
		return fmt.Errorf("DB_POOL_MIN must be less than or equal to DB_POOL_MAX")
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("REDIS_ADDR is required")
	}

	if c.Jobs.Mode != JobsModeRedis && c.Jobs.Mode != JobsModeInline {
		return fmt.Errorf("JOBS_MODE must be 'redis' or 'inline', got %q", c.Jobs.Mode)
	}
	if c.Jobs.Workers < 1 {
		return fmt.Errorf("JOBS_WORKERS must be at least 1")
	}
	if c.Jobs.ResultTimeout <= 0 {
		return fmt.Errorf("JOBS_RESULT_TIMEOUT must be positive")
	}
	if c.Jobs.PollInterval <= 0 {
		return fmt.Errorf("JOBS_POLL_INTERVAL must be positive")
	}

	if c.Upload.Dir == "" {
		return fmt.Errorf("UPLOAD_DIR is required")
	}

	if c.Geo.RadiusJobThresholdKm <= 0 {
		return fmt.Errorf("GEO_RADIUS_JOB_THRESHOLD_KM must be positive")
	}
	if c.Geo.DefaultPrice <= 0 {
		return fmt.Errorf("GEO_DEFAULT_PRICE must be positive")
	}
	if c.Geo.DefaultAreaSqm <= 0 {
		return fmt.Errorf("GEO_DEFAULT_AREA_SQM must be positive")
	}

	if len(c.CORS.Origins) == 0 {
		return fmt.Errorf("CORS_ORIGINS is required")
	}

	return nil
}

// parseOrigins splits a comma-separated string of origins into a slice.
func parseOrigins(origins string) []string {
	if origins == "" {
		return []string{}
	}

	parts := strings.Split(origins, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
