package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JonMunkholm/poimport/internal/apperr"
)

// NewViper returns a viper instance that resolves keys from the environment
// and, when path is non-empty, from a YAML/TOML/JSON config file. Keys in the
// file use the environment variable names (case-insensitive).
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, apperr.NewConfigurationError("--config", "read %s: %v", path, err)
		}
	}
	return v, nil
}

// Load reads configuration from environment variables only.
func Load() (*Config, error) {
	v, err := NewViper("")
	if err != nil {
		return nil, err
	}
	return LoadFrom(v)
}

// LoadFrom reads configuration through v, applies defaults and validates
// the result.
func LoadFrom(v *viper.Viper) (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(v, reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// loadStruct recursively populates struct fields from v.
func loadStruct(v *viper.Viper, rv reflect.Value) error {
	t := rv.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := rv.Field(i)

		if !fieldVal.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(v, fieldVal); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		envAlt := field.Tag.Get("envAlt")
		defaultVal := field.Tag.Get("default")
		required := field.Tag.Get("required") == "true"

		if envName == "" {
			continue
		}

		value := strings.TrimSpace(v.GetString(envName))
		if value == "" && envAlt != "" {
			value = strings.TrimSpace(v.GetString(envAlt))
		}

		if value == "" {
			if required {
				return apperr.NewConfigurationError(envName, "required but not set")
			}
			value = defaultVal
		}

		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			return apperr.NewConfigurationError(envName, "invalid value %q: %v", value, err)
		}
	}

	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Pointer:
		// Optional values stay nil when unset.
		elem := reflect.New(field.Type().Elem())
		if err := setField(elem.Elem(), value); err != nil {
			return err
		}
		field.Set(elem)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		field.Set(reflect.ValueOf(result))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns a single ConfigurationError describing all failures.
func (c *Config) Validate() error {
	var errs []string

	// Target
	if c.Smartsheet.APIToken == "" && !c.Import.DryRun {
		errs = append(errs, "SMARTSHEET_API_TOKEN is required unless IMPORT_DRY_RUN is set")
	}
	if c.Smartsheet.BaseURL == "" {
		errs = append(errs, "SMARTSHEET_BASE_URL must not be empty")
	}

	// Import
	if id := c.Import.TemplateWorkspaceID; id != nil && *id < 0 {
		errs = append(errs, fmt.Sprintf("TEMPLATE_WORKSPACE_ID (%d) must be 0 or positive", *id))
	}
	if id := c.Import.StandardsWorkspaceID; id != nil && *id <= 0 {
		errs = append(errs, fmt.Sprintf("STANDARDS_WORKSPACE_ID (%d) must be positive", *id))
	}
	switch strings.ToLower(strings.TrimSpace(c.Import.Strategy)) {
	case "standalone", "portfolio", "grouped":
	default:
		errs = append(errs, fmt.Sprintf("WORKSPACE_STRATEGY (%q) must be one of: standalone, portfolio, grouped", c.Import.Strategy))
	}
	if c.Import.BatchSize <= 0 || c.Import.BatchSize > 500 {
		errs = append(errs, fmt.Sprintf("IMPORT_BATCH_SIZE (%d) must be 1-500", c.Import.BatchSize))
	}
	if c.Import.MaxConcurrent <= 0 {
		errs = append(errs, "IMPORT_MAX_CONCURRENT must be positive")
	}
	if c.Import.MaxWaitTime <= 0 {
		errs = append(errs, "IMPORT_MAX_WAIT_TIME must be positive")
	}
	if c.Import.Timeout <= 0 {
		errs = append(errs, "IMPORT_TIMEOUT must be positive")
	}

	// Retry
	if c.Retry.MaxAttempts <= 0 {
		errs = append(errs, "RETRY_MAX_ATTEMPTS must be positive")
	}
	if c.Retry.InitialDelay <= 0 {
		errs = append(errs, "RETRY_INITIAL_DELAY must be positive")
	}
	if c.Retry.MaxDelay < c.Retry.InitialDelay {
		errs = append(errs, fmt.Sprintf("RETRY_MAX_DELAY (%s) must be >= RETRY_INITIAL_DELAY (%s)",
			c.Retry.MaxDelay, c.Retry.InitialDelay))
	}

	// Rate limit
	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		errs = append(errs, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}

	// Ledger
	switch strings.ToLower(c.Ledger.Driver) {
	case "sqlite", "postgres", "memory", "none":
	default:
		errs = append(errs, fmt.Sprintf("LEDGER_DRIVER (%q) must be one of: sqlite, postgres, memory, none", c.Ledger.Driver))
	}
	if c.Ledger.RetentionDays <= 0 {
		errs = append(errs, "LEDGER_RETENTION_DAYS must be positive")
	}
	if c.Ledger.PruneInterval <= 0 {
		errs = append(errs, "LEDGER_PRUNE_INTERVAL must be positive")
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Security
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}

	// Logging
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return &apperr.ConfigurationError{
			Problem: "validation failed:\n  - " + strings.Join(errs, "\n  - "),
		}
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// Tokens and connection strings are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Smartsheet: {BaseURL: %q, APIToken: %s}, ", c.Smartsheet.BaseURL, mask(c.Smartsheet.APIToken))
	fmt.Fprintf(&b, "Source: {URL: %q, AccessToken: %s}, ", c.Source.URL, mask(c.Source.AccessToken))
	fmt.Fprintf(&b, "Import: {Strategy: %q, Template: %s, BatchSize: %d, DryRun: %v}, ",
		c.Import.Strategy, optionalID(c.Import.TemplateWorkspaceID), c.Import.BatchSize, c.Import.DryRun)
	fmt.Fprintf(&b, "Retry: {MaxAttempts: %d, InitialDelay: %s}, ", c.Retry.MaxAttempts, c.Retry.InitialDelay)
	fmt.Fprintf(&b, "Ledger: {Driver: %q, DSN: %s}, ", c.Ledger.Driver, mask(c.Ledger.DSN))
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}

func mask(s string) string {
	if s == "" {
		return "[UNSET]"
	}
	return "[MASKED]"
}

func optionalID(id *int64) string {
	if id == nil {
		return "unset"
	}
	return strconv.FormatInt(*id, 10)
}
