package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	perr "leasesync/internal/errors"
)

type Config struct {
	DatabaseURL string `envconfig:"DATABASE_URL"`
	RedisURL    string `envconfig:"REDIS_URL"`
	MetricsPort string `envconfig:"METRICS_PORT"`

	// Store selects "postgres" or "memory" (dry run, nothing persisted).
	Store string `envconfig:"STORE" default:"postgres"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"console"`

	Site  Site
	Fetch Fetch
	Batch Batch
	Lock  Lock

	// ClipLimits maps a listing column to its maximum length in characters.
	ClipLimits map[string]int `envconfig:"CLIP_LIMITS" default:"title:160,subtitle:240,address:240"`
}

// Site describes the catalog's navigation layout.
type Site struct {
	BaseURL      string        `envconfig:"BASE_URL" default:"https://www.dtc-lease.nl"`
	IndexPath    string        `envconfig:"INDEX_PATH" default:"/merken"`
	SectionQuery string        `envconfig:"SECTION_QUERY" default:"lease_type=financial&entity=business"`
	PerPage      int           `envconfig:"PER_PAGE" default:"16"`
	MaxPages     int           `envconfig:"MAX_PAGES" default:"250"`
	PageDelay    time.Duration `envconfig:"PAGE_DELAY" default:"300ms"`
	Workers      int           `envconfig:"WORKERS" default:"10"`

	// Extractor selects the detail backend: "html" or "json".
	Extractor  string `envconfig:"EXTRACTOR" default:"html"`
	JSONSuffix string `envconfig:"JSON_SUFFIX" default:".json"`
}

type Fetch struct {
	UserAgent      string          `envconfig:"USER_AGENT" default:"Mozilla/5.0"`
	Accept         string          `envconfig:"ACCEPT" default:"*/*"`
	AcceptLanguage string          `envconfig:"ACCEPT_LANGUAGE" default:"en-US,en;q=0.9,nl;q=0.8"`
	Timeout        time.Duration   `envconfig:"FETCH_TIMEOUT" default:"15s"`
	MaxAttempts    int             `envconfig:"FETCH_MAX_ATTEMPTS" default:"4"`
	Backoff        []time.Duration `envconfig:"FETCH_BACKOFF" default:"10s,30s,60s,120s"`
	MaxBodyBytes   int64           `envconfig:"FETCH_MAX_BODY_BYTES" default:"8388608"`
}

type Batch struct {
	Parse         int `envconfig:"PARSE_BATCH" default:"2000"`
	Listing       int `envconfig:"LISTING_BATCH" default:"2000"`
	StatementRows int `envconfig:"LISTING_STATEMENT_ROWS" default:"500"`
	Image         int `envconfig:"IMAGE_BATCH" default:"10000"`
}

type Lock struct {
	Key string        `envconfig:"LOCK_KEY" default:"leasesync:run"`
	TTL time.Duration `envconfig:"LOCK_TTL" default:"6h"`
}

// Load reads .env files (project root first, then the working directory)
// and parses the environment into a Config.
func Load() (*Config, error) {
	_ = godotenv.Load("../../.env")
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeConfig, "parse environment")
	}
	return &cfg, nil
}

// Validate checks the values a run cannot start without.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Store) {
	case "postgres":
		if c.DatabaseURL == "" {
			return perr.Configf("DATABASE_URL is required when STORE=postgres")
		}
	case "memory":
	default:
		return perr.Configf("unknown STORE %q", c.Store)
	}
	switch strings.ToLower(c.Site.Extractor) {
	case "html", "json":
	default:
		return perr.Configf("unknown EXTRACTOR %q", c.Site.Extractor)
	}
	if c.Site.Workers < 1 {
		return perr.Configf("WORKERS must be at least 1, got %d", c.Site.Workers)
	}
	if c.Site.PerPage < 1 || c.Site.MaxPages < 1 {
		return perr.Configf("PER_PAGE and MAX_PAGES must be positive")
	}
	if c.Fetch.MaxAttempts < 1 {
		return perr.Configf("FETCH_MAX_ATTEMPTS must be at least 1, got %d", c.Fetch.MaxAttempts)
	}
	if c.Batch.Parse < 1 || c.Batch.Listing < 1 || c.Batch.StatementRows < 1 || c.Batch.Image < 1 {
		return perr.Configf("batch sizes must be positive")
	}
	for col, n := range c.ClipLimits {
		if col == "url" {
			return perr.Configf("CLIP_LIMITS may not clip url, it is the listing key")
		}
		if n < 1 {
			return perr.Configf("CLIP_LIMITS %s must be positive, got %d", col, n)
		}
	}
	return nil
}
