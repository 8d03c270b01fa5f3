// Package config loads putr's settings from environment variables. Defaults
// come from struct tags and every setting is validated on startup.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Upload   UploadConfig
	Backup   BackupConfig
	Cache    CacheConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" default:"8080"`

	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"60s"`
	IdleTimeout  time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout also bounds how long shutdown waits for a running
	// upload or undo to finish.
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds the remote profile store connection.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. DB_URL is accepted as well.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	ConnectTimeout  time.Duration `env:"DB_CONNECT_TIMEOUT" default:"10s"`

	// MigrateOnStart applies embedded migrations before serving.
	MigrateOnStart bool `env:"MIGRATE_ON_START" default:"true"`
}

// UploadConfig holds ledger limits.
type UploadConfig struct {
	MinFileSize int64 `env:"UPLOAD_MIN_FILE_SIZE" default:"10"`
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"10485760"`
	MaxRows     int   `env:"UPLOAD_MAX_ROWS" default:"100"`
	MinRows     int   `env:"UPLOAD_MIN_ROWS" default:"2"`

	// Exclude lists nicknames always dropped from ledgers, e.g. the host.
	Exclude []string `env:"UPLOAD_EXCLUDE"`

	// Timeout bounds one request up to the start of the commit.
	Timeout time.Duration `env:"UPLOAD_TIMEOUT" default:"2m"`

	// CommitTimeout bounds the transactional write itself.
	CommitTimeout time.Duration `env:"UPLOAD_COMMIT_TIMEOUT" default:"30s"`
}

// Backup drivers.
const (
	BackupSQLite = "sqlite"
	BackupRedis  = "redis"
	BackupMemory = "memory"
)

// BackupConfig selects and bounds the local snapshot store.
type BackupConfig struct {
	Driver string `env:"BACKUP_DRIVER" default:"sqlite"`

	// Path is the SQLite file for the sqlite driver.
	Path string `env:"BACKUP_PATH" default:"putr-backups.db"`

	RedisAddr     string `env:"BACKUP_REDIS_ADDR" envAlt:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `env:"BACKUP_REDIS_PASSWORD"`
	RedisDB       int    `env:"BACKUP_REDIS_DB" default:"0"`
	RedisKey      string `env:"BACKUP_REDIS_KEY" default:"putr:snapshots"`

	MaxSnapshots int           `env:"BACKUP_MAX_SNAPSHOTS" default:"5"`
	MaxAge       time.Duration `env:"BACKUP_MAX_AGE" default:"24h"`
	MaxBytes     int64         `env:"BACKUP_MAX_BYTES" default:"4194304"`

	// SweepInterval is how often stale snapshots are evicted. 0 disables it.
	SweepInterval time.Duration `env:"BACKUP_SWEEP_INTERVAL" default:"1h"`
}

// CacheConfig bounds the read-side profile cache.
type CacheConfig struct {
	TTL time.Duration `env:"CACHE_TTL" default:"5m"`
}

// RateLimitConfig holds per-IP request limits.
type RateLimitConfig struct {
	Enabled           bool `env:"RATE_LIMIT_ENABLED" default:"true"`
	RequestsPerMinute int  `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// UploadLimit applies to uploads, undo and reset.
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of proxy CIDRs whose
	// forwarding headers are honoured.
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// APIKeys are accepted in the X-API-Key header. Each key may carry a
	// name as "name:key"; the name becomes the audit actor.
	APIKeys []string `env:"API_KEYS"`

	// RequireAPIKey rejects mutating requests without a valid key.
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is text or json.
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
