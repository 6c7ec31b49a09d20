package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"calcore/internal/recur"
	"calcore/internal/source"
	"calcore/internal/translate"
	"calcore/internal/wire"
)

// SourceConfig describes one subscribed calendar.
type SourceConfig struct {
	// URL is an http(s) endpoint, a file:// URL or a local path.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup, cache keys and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
	// Format forces text, xml or json; empty detects it.
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Timezone is the IANA zone occurrences are presented in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a cron-style schedule (e.g. "*/15 * * * *") for
	// re-fetching sources.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// MaxYears and MaxInstances bound recurrence expansion.
	MaxYears     int `yaml:"max_years" json:"max_years"`
	MaxInstances int `yaml:"max_instances" json:"max_instances"`

	// Strictness is how iTIP conformance problems are treated: strict,
	// warn or lenient.
	Strictness string `yaml:"strictness" json:"strictness"`

	// ForceUTC treats unknown timezones as UTC instead of rejecting them.
	ForceUTC bool `yaml:"force_utc" json:"force_utc"`

	// SnapshotExtensions keeps a copy of components carrying unknown
	// parameters.
	SnapshotExtensions bool `yaml:"snapshot_extensions" json:"snapshot_extensions"`

	// OutputFormat is the default encoding of emitted calendars.
	OutputFormat string `yaml:"output_format" json:"output_format"`

	// ProductID is written as PRODID.
	ProductID string `yaml:"product_id" json:"product_id"`

	// Principal is the calendar user address acting on ingested data.
	Principal string `yaml:"principal" json:"principal"`

	// CacheDir holds fetched source bodies.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// Sources is the list of subscribed calendars.
	Sources []SourceConfig `yaml:"sources" json:"sources"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:       "127.0.0.1:8080",
		LogLevel:     "info",
		Timezone:     "UTC",
		RefreshCron:  "*/15 * * * *",
		MaxYears:     recur.DefaultMaxYears,
		MaxInstances: recur.DefaultMaxInstances,
		Strictness:   translate.Warn.String(),
		OutputFormat: string(wire.FormatText),
		ProductID:    translate.DefaultProductID,
		CacheDir:     "./var/calcore-cache",
		Sources:      []SourceConfig{},
	}
}

// Normalize fills in missing or invalid values so partially-filled configs
// still behave.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.MaxYears <= 0 {
		c.MaxYears = def.MaxYears
	}
	if c.MaxInstances <= 0 {
		c.MaxInstances = def.MaxInstances
	}
	c.Strictness = translate.ParseStrictness(c.Strictness).String()
	if f, err := wire.ParseFormat(c.OutputFormat); err == nil {
		c.OutputFormat = string(f)
	} else {
		c.OutputFormat = def.OutputFormat
	}
	if c.ProductID == "" {
		c.ProductID = def.ProductID
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
	if c.Sources == nil {
		c.Sources = []SourceConfig{}
	}
	if c.BasicAuth != nil && (c.BasicAuth.Username == "" || c.BasicAuth.Password == "") {
		c.BasicAuth = nil
	}
}

// Validate reports source entries that cannot be fetched.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		if s.URL == "" {
			return fmt.Errorf("sources[%d]: url is required", i)
		}
		if s.Format != "" {
			if _, err := wire.ParseFormat(s.Format); err != nil {
				return fmt.Errorf("sources[%d]: %w", i, err)
			}
		}
		id := s.key()
		if seen[id] {
			return fmt.Errorf("sources[%d]: duplicate id %q", i, id)
		}
		seen[id] = true
	}
	return nil
}

func (s SourceConfig) key() string {
	switch {
	case s.ID != "":
		return s.ID
	case s.Name != "":
		return s.Name
	default:
		return s.URL
	}
}

// SourceList converts the configured subscriptions for the fetcher.
func (c *Config) SourceList() []source.Source {
	out := make([]source.Source, 0, len(c.Sources))
	for _, s := range c.Sources {
		if s.URL == "" {
			continue
		}
		var format wire.Format
		if s.Format != "" {
			format, _ = wire.ParseFormat(s.Format)
		}
		out = append(out, source.Source{ID: s.key(), URL: s.URL, Format: format})
	}
	return out
}

// Format is the parsed OutputFormat.
func (c *Config) Format() wire.Format {
	f, err := wire.ParseFormat(c.OutputFormat)
	if err != nil {
		return wire.FormatText
	}
	return f
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is unmarshaled, normalized and validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg atomically via a temp file and rename, leaving the file
// with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calcore-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
