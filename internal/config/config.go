package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"schedcal/internal/dateutil"
	"schedcal/internal/recurrence"
)

// NOTE: Load creates a default config on first run; Save writes
// atomically with 0600 permissions.

// Store kinds.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreICS    = "ics"
)

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	// URL is the ICS endpoint. file:// and plain paths are read from disk.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used to prefix imported event ids.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
	// Roles are attached to every event imported from this feed.
	Roles []string `yaml:"roles,omitempty" json:"roles,omitempty"`
}

// StoreConfig selects where events are loaded from.
type StoreConfig struct {
	// Kind is one of "file" (YAML), "sqlite" or "ics".
	Kind string `yaml:"kind" json:"kind"`
	// Path is the YAML file or SQLite database path.
	Path string `yaml:"path" json:"path"`
	// CacheDir holds ETag/Last-Modified metadata for ICS feeds.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
	// ICS lists the feeds for Kind "ics".
	ICS []ICSConfig `yaml:"ics" json:"ics"`
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

	// Timezone is the IANA zone calendar grids are laid out in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is "monday" (default) or "sunday".
	WeekStart string `yaml:"week_start" json:"week_start"`

	// RefreshCron is a standard 5-field cron schedule for reloading the
	// event store.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonDays / BackfillDays bound the default occurrence window
	// around now when a request does not give one.
	HorizonDays  int `yaml:"horizon_days" json:"horizon_days"`
	BackfillDays int `yaml:"backfill_days" json:"backfill_days"`

	// MaxIterations caps recurrence periods visited per event.
	MaxIterations int `yaml:"max_iterations" json:"max_iterations"`

	// MemoEntries bounds the projection memo.
	MemoEntries int `yaml:"memo_entries" json:"memo_entries"`

	// RoleColors maps target roles to display colors.
	RoleColors   map[string]string `yaml:"role_colors" json:"role_colors"`
	DefaultColor string            `yaml:"default_color" json:"default_color"`

	// HighlightKeywords in a title switch the color to HighlightColor.
	HighlightKeywords []string `yaml:"highlight_keywords" json:"highlight_keywords"`
	HighlightColor    string   `yaml:"highlight_color" json:"highlight_color"`

	// LogLevel is DEBUG, INFO, WARN or ERROR.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Store StoreConfig `yaml:"store" json:"store"`

	// BasicAuth, if non-nil, protects all endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:            "127.0.0.1:8080",
		Timezone:          "UTC",
		WeekStart:         "monday",
		RefreshCron:       "*/15 * * * *",
		HorizonDays:       42,
		BackfillDays:      7,
		MaxIterations:     recurrence.DefaultMaxIterations,
		MemoEntries:       256,
		RoleColors:        map[string]string{},
		DefaultColor:      "#4a6fa5",
		HighlightKeywords: []string{"holiday", "exam"},
		HighlightColor:    "#c0392b",
		LogLevel:          "INFO",
		Store: StoreConfig{
			Kind:     StoreFile,
			Path:     "./var/events.yaml",
			CacheDir: "./var/ics-cache",
			ICS:      []ICSConfig{},
		},
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values with defaults so partially
// filled configs still behave.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	// Unknown week starts fall back to monday to avoid surprising layouts.
	if _, err := dateutil.ParseWeekStart(c.WeekStart); err != nil || c.WeekStart == "" {
		c.WeekStart = def.WeekStart
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = def.HorizonDays
	}
	if c.BackfillDays < 0 {
		c.BackfillDays = 0
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = def.MaxIterations
	}
	if c.MemoEntries <= 0 {
		c.MemoEntries = def.MemoEntries
	}
	if c.RoleColors == nil {
		c.RoleColors = map[string]string{}
	}
	if c.DefaultColor == "" {
		c.DefaultColor = def.DefaultColor
	}
	if c.HighlightKeywords == nil {
		c.HighlightKeywords = def.HighlightKeywords
	}
	if c.HighlightColor == "" {
		c.HighlightColor = def.HighlightColor
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.Store.Kind == "" {
		c.Store.Kind = def.Store.Kind
	}
	if c.Store.Path == "" {
		c.Store.Path = def.Store.Path
	}
	if c.Store.CacheDir == "" {
		c.Store.CacheDir = def.Store.CacheDir
	}
	if c.Store.ICS == nil {
		c.Store.ICS = []ICSConfig{}
	}
}

// Validate reports settings that cannot be defaulted away.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		return fmt.Errorf("config: refresh %q: %w", c.RefreshCron, err)
	}
	switch c.Store.Kind {
	case StoreFile, StoreSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("config: store.path is required for kind %q", c.Store.Kind)
		}
	case StoreICS:
		if len(c.Store.ICS) == 0 {
			return errors.New("config: store.ics needs at least one feed")
		}
	default:
		return fmt.Errorf("config: unknown store kind %q", c.Store.Kind)
	}
	return nil
}

// Location resolves Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// WeekStartDay resolves WeekStart, falling back to Monday.
func (c *Config) WeekStartDay() dateutil.WeekStart {
	ws, _ := dateutil.ParseWeekStart(c.WeekStart)
	return ws
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is decoded and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
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
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically via a temp file + rename, creating
// the parent directory (0700) and leaving the file at 0600.
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

	tmp, err := os.CreateTemp(dir, ".schedcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
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

// Save is a convenience method delegating to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
