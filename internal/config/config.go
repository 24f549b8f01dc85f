package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds configuration for the gateway.
type Config struct {
	HTTPPort    string
	JWTSecret   []byte
	Database    DatabaseConfig
	Cache       CacheConfig
	Redis       RedisConfig
	Discovery   DiscoveryConfig
	Streaming   StreamingConfig
	RateLimit   RateLimitConfig
	Auth        AuthConfig
	Attestation AttestationConfig
	ArchiveSink ArchiveSinkConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// CacheConfig holds cache settings
type CacheConfig struct {
	APIKeyCacheSize int
	APIKeyCacheTTL  time.Duration
	ModelCacheSize  int
	ModelCacheTTL   time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DiscoveryConfig holds backend discovery settings
type DiscoveryConfig struct {
	BaseURL         string        // discovery endpoint serving GET {base}/models
	BearerToken     string        // auth against the discovery endpoint
	RefreshInterval time.Duration // how often to re-resolve the topology
}

// StreamingConfig holds deadlines for the streaming pipeline
type StreamingConfig struct {
	IdleTimeout   time.Duration // max gap between frames
	TotalDeadline time.Duration // overall request deadline
}

// RateLimitConfig holds per-key token bucket capacities
type RateLimitConfig struct {
	TextPerMinute  int
	ImagePerMinute int
}

// AuthConfig holds front-door settings
type AuthConfig struct {
	AdminDomains []string // email suffix allow-list for admin routes
}

// AttestationConfig toggles the attestation binder
type AttestationConfig struct {
	Enabled bool
}

// ArchiveSinkConfig holds configuration for the S3-based usage archive sink
type ArchiveSinkConfig struct {
	Enabled       bool
	BufferSize    int
	FlushSize     int
	FlushInterval time.Duration
	S3Bucket      string
	S3Region      string
	S3Prefix      string
	PodName       string
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

func getEnvBool(key string, defaultValue bool) bool {
	val := strings.ToLower(os.Getenv(key))
	if val == "" {
		return defaultValue
	}
	return val == "true" || val == "1"
}

func getEnvStringList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	discoveryBase := os.Getenv("DISCOVERY_BASE_URL")
	if discoveryBase == "" {
		return nil, fmt.Errorf("DISCOVERY_BASE_URL is required")
	}

	cfg := &Config{
		HTTPPort:  getEnvString("HTTP_PORT", "8080"),
		JWTSecret: []byte(getEnvString("JWT_SECRET", "supersecretkey")),
		Database: DatabaseConfig{
			URL:             dbURL,
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
		},
		Cache: CacheConfig{
			APIKeyCacheSize: getEnvInt("CACHE_API_KEY_SIZE", 1000),
			APIKeyCacheTTL:  getEnvDuration("CACHE_API_KEY_TTL", 5*time.Minute),
			ModelCacheSize:  getEnvInt("CACHE_MODEL_SIZE", 500),
			ModelCacheTTL:   getEnvDuration("CACHE_MODEL_TTL", 15*time.Minute),
		},
		Redis: RedisConfig{
			Address:      getEnvString("REDIS_ADDRESS", "localhost:6379"),
			Password:     getEnvString("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Discovery: DiscoveryConfig{
			BaseURL:         discoveryBase,
			BearerToken:     getEnvString("DISCOVERY_BEARER_TOKEN", ""),
			RefreshInterval: getEnvDuration("DISCOVERY_REFRESH_INTERVAL", 5*time.Minute),
		},
		Streaming: StreamingConfig{
			IdleTimeout:   getEnvDuration("STREAMING_IDLE_TIMEOUT", 60*time.Second),
			TotalDeadline: getEnvDuration("STREAMING_TOTAL_DEADLINE", 10*time.Minute),
		},
		RateLimit: RateLimitConfig{
			TextPerMinute:  getEnvInt("RATE_LIMIT_TEXT_PER_MINUTE", 1000),
			ImagePerMinute: getEnvInt("RATE_LIMIT_IMAGE_PER_MINUTE", 10),
		},
		Auth: AuthConfig{
			AdminDomains: getEnvStringList("AUTH_ADMIN_DOMAINS"),
		},
		Attestation: AttestationConfig{
			Enabled: getEnvBool("ATTESTATION_ENABLED", true),
		},
		ArchiveSink: ArchiveSinkConfig{
			Enabled:       getEnvBool("ARCHIVE_SINK_ENABLED", false),
			BufferSize:    getEnvInt("ARCHIVE_SINK_BUFFER_SIZE", 10000),
			FlushSize:     getEnvInt("ARCHIVE_SINK_FLUSH_SIZE", 500),
			FlushInterval: getEnvDuration("ARCHIVE_SINK_FLUSH_INTERVAL", 30*time.Second),
			S3Bucket:      getEnvString("ARCHIVE_SINK_S3_BUCKET", ""),
			S3Region:      getEnvString("ARCHIVE_SINK_S3_REGION", "us-east-1"),
			S3Prefix:      getEnvString("ARCHIVE_SINK_S3_PREFIX", "usage/"),
			PodName:       getEnvString("POD_NAME", "gateway-0"),
		},
	}

	if cfg.ArchiveSink.Enabled && cfg.ArchiveSink.S3Bucket == "" {
		return nil, fmt.Errorf("ARCHIVE_SINK_S3_BUCKET is required when the archive sink is enabled")
	}

	return cfg, nil
}
