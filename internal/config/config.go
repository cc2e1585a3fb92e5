// Package config loads and validates the connector's HCL
// configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/hashicorp/hcl/v2/hclsimple"
)

// Config is the root configuration for deskbridge.
type Config struct {
	Source   *Source   `hcl:"source,block"`
	Sink     *Sink     `hcl:"sink,block"`
	Database *Database `hcl:"database,block"`
	Sync     *Sync     `hcl:"sync,block"`
}

// Source configures the scheduling API and its OAuth2 client
// credentials.
type Source struct {
	// Endpoint is the Graph-style API base URL.
	Endpoint string `hcl:"endpoint"`

	// BusinessID is the booking business whose appointments are
	// synced.
	BusinessID string `hcl:"business_id"`

	// TokenURL, ClientID, ClientSecret and Scope configure the client
	// credentials grant. ClientSecret may be left empty and supplied
	// via DESKBRIDGE_SOURCE_CLIENT_SECRET.
	TokenURL     string `hcl:"token_url"`
	ClientID     string `hcl:"client_id"`
	ClientSecret string `hcl:"client_secret,optional"`
	Scope        string `hcl:"scope,optional"`

	// PageSize is the number of appointments requested per page.
	PageSize int `hcl:"page_size,optional"`
}

// Sink configures the ticketing API.
type Sink struct {
	// Endpoint is the service desk API base URL.
	Endpoint string `hcl:"endpoint"`

	// APIKey may be left empty and supplied via
	// DESKBRIDGE_SINK_API_KEY.
	APIKey string `hcl:"api_key,optional"`
}

// Database configures the sync state store.
type Database struct {
	Driver string `hcl:"driver,optional"`

	// SQLite
	Path string `hcl:"path,optional"`

	// Postgres
	Host     string `hcl:"host,optional"`
	Port     int    `hcl:"port,optional"`
	User     string `hcl:"user,optional"`
	Password string `hcl:"password,optional"`
	DBName   string `hcl:"dbname,optional"`
	SSLMode  string `hcl:"sslmode,optional"`
}

// Sync configures run behavior.
type Sync struct {
	// PollInterval is the daemon's tick interval, e.g. "5m".
	PollInterval string `hcl:"poll_interval,optional"`

	// MaxAttempts bounds retries for transient API failures, counting
	// the initial attempt.
	MaxAttempts int `hcl:"max_attempts,optional"`

	// RequestTimeout bounds each HTTP call, e.g. "30s".
	RequestTimeout string `hcl:"request_timeout,optional"`

	// LeaseTTL is how long a run lease lives before a crashed run's
	// lease is stolen, e.g. "10m".
	LeaseTTL string `hcl:"lease_ttl,optional"`

	// DefaultCategory is used for service types absent from the
	// category table. When empty, unmatched appointments fail mapping.
	DefaultCategory string `hcl:"default_category,optional"`

	// CategoryOverrides extends the built-in service-type-to-category
	// table, e.g. { "Loaner Laptop" = "Hardware Loan" }.
	CategoryOverrides map[string]string `hcl:"category_overrides,optional"`
}

const (
	defaultPollInterval   = 5 * time.Minute
	defaultRequestTimeout = 30 * time.Second
	defaultLeaseTTL       = 10 * time.Minute
	defaultMaxAttempts    = 3
	defaultPageSize       = 50
)

// NewConfig parses the HCL file at path, applies environment variable
// overrides for secrets, fills defaults, and validates the result.
func NewConfig(path string) (*Config, error) {
	var cfg Config
	if err := hclsimple.DecodeFile(path, nil, &cfg); err != nil {
		return nil, fmt.Errorf("error decoding configuration file: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if c.Source != nil {
		if v, ok := os.LookupEnv("DESKBRIDGE_SOURCE_CLIENT_SECRET"); ok {
			c.Source.ClientSecret = v
		}
	}
	if c.Sink != nil {
		if v, ok := os.LookupEnv("DESKBRIDGE_SINK_API_KEY"); ok {
			c.Sink.APIKey = v
		}
	}
	if c.Database != nil {
		if v, ok := os.LookupEnv("DESKBRIDGE_DATABASE_PASSWORD"); ok {
			c.Database.Password = v
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Database == nil {
		c.Database = &Database{}
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Sync == nil {
		c.Sync = &Sync{}
	}
	if c.Sync.PollInterval == "" {
		c.Sync.PollInterval = defaultPollInterval.String()
	}
	if c.Sync.RequestTimeout == "" {
		c.Sync.RequestTimeout = defaultRequestTimeout.String()
	}
	if c.Sync.LeaseTTL == "" {
		c.Sync.LeaseTTL = defaultLeaseTTL.String()
	}
	if c.Sync.MaxAttempts == 0 {
		c.Sync.MaxAttempts = defaultMaxAttempts
	}
	if c.Source != nil && c.Source.PageSize == 0 {
		c.Source.PageSize = defaultPageSize
	}
}

// Validate checks the configuration for completeness.
func (c *Config) Validate() error {
	if c.Source == nil {
		return fmt.Errorf("validation error: source block is required")
	}
	if c.Sink == nil {
		return fmt.Errorf("validation error: sink block is required")
	}

	if err := validation.ValidateStruct(c.Source,
		validation.Field(&c.Source.Endpoint, validation.Required, is.URL),
		validation.Field(&c.Source.BusinessID, validation.Required),
		validation.Field(&c.Source.TokenURL, validation.Required, is.URL),
		validation.Field(&c.Source.ClientID, validation.Required),
		validation.Field(&c.Source.ClientSecret, validation.Required),
		validation.Field(&c.Source.PageSize, validation.Min(1), validation.Max(999)),
	); err != nil {
		return fmt.Errorf("validation error: source: %w", err)
	}

	if err := validation.ValidateStruct(c.Sink,
		validation.Field(&c.Sink.Endpoint, validation.Required, is.URL),
		validation.Field(&c.Sink.APIKey, validation.Required),
	); err != nil {
		return fmt.Errorf("validation error: sink: %w", err)
	}

	if c.Database.Driver == "postgres" {
		if err := validation.ValidateStruct(c.Database,
			validation.Field(&c.Database.Host, validation.Required),
			validation.Field(&c.Database.Port, validation.Required),
			validation.Field(&c.Database.User, validation.Required),
			validation.Field(&c.Database.DBName, validation.Required),
		); err != nil {
			return fmt.Errorf("validation error: database: %w", err)
		}
	} else if c.Database.Driver != "sqlite" {
		return fmt.Errorf("validation error: database: unsupported driver %q", c.Database.Driver)
	}

	for _, field := range []struct {
		name  string
		value string
	}{
		{"poll_interval", c.Sync.PollInterval},
		{"request_timeout", c.Sync.RequestTimeout},
		{"lease_ttl", c.Sync.LeaseTTL},
	} {
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("validation error: sync: %s: %w", field.name, err)
		}
	}
	if c.Sync.MaxAttempts < 1 {
		return fmt.Errorf("validation error: sync: max_attempts must be at least 1")
	}

	return nil
}

// PollInterval returns the parsed daemon tick interval.
func (c *Config) PollInterval() time.Duration {
	d, _ := time.ParseDuration(c.Sync.PollInterval)
	return d
}

// RequestTimeout returns the parsed per-request timeout.
func (c *Config) RequestTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Sync.RequestTimeout)
	return d
}

// LeaseTTL returns the parsed run lease TTL.
func (c *Config) LeaseTTL() time.Duration {
	d, _ := time.ParseDuration(c.Sync.LeaseTTL)
	return d
}
