// Package config provides centralized configuration management for the importer.
// Settings are read from the environment, an optional YAML file and bound
// command-line flags, with defaults applied and every setting validated on
// startup so misconfiguration fails fast.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Smartsheet SmartsheetConfig
	Source     SourceConfig
	Import     ImportConfig
	Retry      RetryConfig
	Rate       RateLimitConfig
	Ledger     LedgerConfig
	Server     ServerConfig
	Security   SecurityConfig
	Logging    LoggingConfig
}

// SmartsheetConfig holds target API settings.
type SmartsheetConfig struct {
	// APIToken is the bearer token (required unless running dry)
	APIToken string `env:"SMARTSHEET_API_TOKEN" envAlt:"SMARTSHEET_ACCESS_TOKEN"`

	// BaseURL is the API 2.0 root
	BaseURL string `env:"SMARTSHEET_BASE_URL" default:"https://api.smartsheet.com/2.0"`

	// Timeout bounds a single HTTP request (default: 30s)
	Timeout time.Duration `env:"SMARTSHEET_TIMEOUT" default:"30s"`
}

// SourceConfig holds Project Online settings.
type SourceConfig struct {
	// URL is the PWA site, e.g. https://contoso.sharepoint.com/sites/pwa
	URL string `env:"PROJECT_ONLINE_URL"`

	// AccessToken is an already-acquired OAuth bearer token
	AccessToken string `env:"PROJECT_ONLINE_ACCESS_TOKEN"`

	// File reads projects from a YAML/JSON export instead of the OData feed
	File string `env:"PROJECT_ONLINE_EXPORT_FILE"`

	// PageSize is the $top used per OData page (default: 500)
	PageSize int `env:"PROJECT_ONLINE_PAGE_SIZE" default:"500"`

	// Timeout bounds a single HTTP request (default: 60s)
	Timeout time.Duration `env:"PROJECT_ONLINE_TIMEOUT" default:"60s"`
}

// ImportConfig holds settings for the load pipeline.
type ImportConfig struct {
	// TemplateWorkspaceID: nil prompts (or blank when not interactive),
	// 0 forces a blank workspace, positive copies that template.
	TemplateWorkspaceID *int64 `env:"TEMPLATE_WORKSPACE_ID"`

	// StandardsWorkspaceID reuses an existing reference catalog workspace
	StandardsWorkspaceID *int64 `env:"STANDARDS_WORKSPACE_ID"`

	// StandardsWorkspaceName names the shared reference catalog workspace
	StandardsWorkspaceName string `env:"STANDARDS_WORKSPACE_NAME" default:"PMO Standards"`

	// Strategy selects workspace organization: standalone or portfolio
	Strategy string `env:"WORKSPACE_STRATEGY" default:"standalone"`

	// CatalogFile overrides the embedded reference catalog definitions
	CatalogFile string `env:"CATALOG_FILE"`

	// BatchSize is the number of rows per AddRows request (default: 500)
	BatchSize int `env:"IMPORT_BATCH_SIZE" default:"500"`

	// MaxConcurrent is the maximum number of projects imported at once (default: 2)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"2"`

	// MaxWaitTime is how long to wait for an import slot (default: 30s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`

	// Timeout bounds one project import (default: 30m)
	Timeout time.Duration `env:"IMPORT_TIMEOUT" default:"30m"`

	// DryRun loads into an in-memory target instead of Smartsheet
	DryRun bool `env:"IMPORT_DRY_RUN" default:"false"`
}

// RetryConfig holds the RetryExecutor policy.
type RetryConfig struct {
	MaxAttempts  int           `env:"RETRY_MAX_ATTEMPTS" default:"5"`
	InitialDelay time.Duration `env:"RETRY_INITIAL_DELAY" default:"1s"`
	MaxDelay     time.Duration `env:"RETRY_MAX_DELAY" default:"30s"`
}

// RateLimitConfig holds the outbound request budget.
type RateLimitConfig struct {
	// Enabled controls whether outbound calls wait on the window (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the outbound budget (default: 300)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"300"`

	// RedisURL shares the window across processes when set
	RedisURL string `env:"RATE_LIMIT_REDIS_URL"`
}

// LedgerConfig holds run history storage settings.
type LedgerConfig struct {
	// Driver is sqlite, postgres, memory or none (default: sqlite)
	Driver string `env:"LEDGER_DRIVER" default:"sqlite"`

	// DSN is a file path for sqlite or a connection string for postgres
	DSN string `env:"LEDGER_DSN" envAlt:"DATABASE_URL" default:"poimport.db"`

	// MaxConns caps the postgres pool (default: 5)
	MaxConns int `env:"LEDGER_MAX_CONNS" default:"5"`

	// RetentionDays is how long finished runs are kept (default: 90)
	RetentionDays int `env:"LEDGER_RETENTION_DAYS" default:"90"`

	// PruneInterval is how often serve mode prunes old runs (default: 24h)
	PruneInterval time.Duration `env:"LEDGER_PRUNE_INTERVAL" default:"24h"`
}

// ServerConfig holds HTTP server settings for serve mode.
type ServerConfig struct {
	Host            string        `env:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `env:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"30s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
	RequestTimeout  time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// SecurityConfig holds serve mode access settings.
type SecurityConfig struct {
	// RequireAPIKey enables X-API-Key checks (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS"`

	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
