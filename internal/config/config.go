// Package config loads geoload settings from environment variables.
// Defaults come from struct tags, the environment overrides them, and the
// result is validated once so misconfiguration fails before any work starts.
package config

import (
	"net"
	"net/url"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Database DatabaseConfig
	Load     LoadConfig
	Server   ServerConfig
	Watch    WatchConfig
	Logging  LoggingConfig
}

// DatabaseConfig holds PostGIS connection settings.
type DatabaseConfig struct {
	Host     string `env:"POSTGRES_HOST" default:"localhost" validate:"required"`
	Port     int    `env:"POSTGRES_PORT" default:"5432" validate:"min=1,max=65535"`
	Name     string `env:"POSTGRES_DB" default:"gis" validate:"required"`
	User     string `env:"POSTGRES_USER" default:"postgres" validate:"required"`
	Password string `env:"POSTGRES_PASSWORD" default:"postgres"`

	// URL overrides the discrete settings above when set.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	SSLMode string `env:"POSTGRES_SSLMODE" default:"prefer" validate:"oneof=disable allow prefer require verify-ca verify-full"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"4" validate:"min=1"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"0" validate:"min=0"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
	ConnectTimeout  time.Duration `env:"DB_CONNECT_TIMEOUT" default:"10s" validate:"gte=0"`
}

// LoadConfig holds the defaults for a load. CLI flags override them.
type LoadConfig struct {
	Table         string `env:"TARGET_TABLE" default:"parcelles" validate:"required"`
	Schema        string `env:"TARGET_SCHEMA" default:"public" validate:"required"`
	SRID          int    `env:"DEFAULT_SRID" default:"2154" validate:"gt=0"`
	CommuneField  string `env:"COMMUNE_FIELD" default:"nom" validate:"required"`
	DetectCommune bool   `env:"LOAD_DETECT_COMMUNE" default:"false"`

	// Mode is append, replace or fail.
	Mode string `env:"LOAD_MODE" default:"append" validate:"oneof=append replace fail"`

	// Engine selects where geometry operations run: geos (in process) or
	// postgis (through the database).
	Engine string `env:"LOAD_ENGINE" default:"geos" validate:"oneof=geos postgis"`

	// SimplifyTolerance enables topology-preserving simplification when > 0.
	SimplifyTolerance float64 `env:"LOAD_SIMPLIFY_TOLERANCE" default:"0" validate:"gte=0"`

	// UniqueColumns declares a natural-key constraint on new tables.
	UniqueColumns []string `env:"LOAD_UNIQUE_COLUMNS"`

	// DropInvalid drops geometries that stay invalid after repair instead
	// of storing them.
	DropInvalid bool `env:"LOAD_DROP_INVALID" default:"false"`

	RebuildIndex bool `env:"LOAD_REBUILD_INDEX" default:"false"`

	// Timeout bounds a whole load. Zero means no limit.
	Timeout time.Duration `env:"LOAD_TIMEOUT" default:"0s" validate:"gte=0"`

	// MaxConcurrent is how many loads may run at once.
	MaxConcurrent int           `env:"LOAD_MAX_CONCURRENT" default:"1" validate:"min=1"`
	MaxWaitTime   time.Duration `env:"LOAD_MAX_WAIT_TIME" default:"30s" validate:"gt=0"`

	// MaxBodySize caps GeoJSON bodies posted to the HTTP API.
	MaxBodySize int64 `env:"LOAD_MAX_BODY_SIZE" default:"104857600" validate:"gt=0"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" default:"8080" validate:"min=1,max=65535"`

	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s" validate:"gte=0"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s" validate:"gte=0"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s" validate:"gt=0"`

	// RequestTimeout applies to read endpoints. Loads use Load.Timeout.
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`

	// RateLimit is the number of requests allowed per client per minute.
	RateLimit int `env:"SERVER_RATE_LIMIT" default:"100" validate:"gte=0"`

	// TrustedProxies lists CIDRs whose X-Real-IP/X-Forwarded-For headers
	// are believed.
	TrustedProxies []string `env:"SERVER_TRUSTED_PROXIES"`

	// RequireAPIKey protects the load endpoint with an X-API-Key header.
	RequireAPIKey bool     `env:"SERVER_REQUIRE_API_KEY" default:"false"`
	APIKeys       []string `env:"SERVER_API_KEYS"`
}

// WatchConfig holds directory watching settings.
type WatchConfig struct {
	Dir string `env:"WATCH_DIR"`

	// Schedule is a cron spec for the periodic sweep that catches files
	// missed by filesystem events.
	Schedule string `env:"WATCH_SCHEDULE" default:"@every 5m" validate:"required"`

	// ProcessedDir is the sub-directory loaded files are moved to.
	ProcessedDir string `env:"WATCH_PROCESSED_DIR" default:"Uploaded" validate:"required"`

	// Settle is how long a file must stay unchanged before it is loaded.
	Settle time.Duration `env:"WATCH_SETTLE" default:"2s" validate:"gte=0"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
	Format string `env:"LOG_FORMAT" default:"text" validate:"oneof=text json"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ConnString returns URL when set, otherwise a postgres:// URL built from
// the discrete settings.
func (c *DatabaseConfig) ConnString() string {
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Name,
	}
	q := url.Values{}
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	if c.ConnectTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(c.ConnectTimeout.Seconds())))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// MaskedConnString is ConnString with the password replaced.
func (c *DatabaseConfig) MaskedConnString() string {
	u, err := url.Parse(c.ConnString())
	if err != nil {
		return "[MASKED]"
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
