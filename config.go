package provision

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries the tunables shared by the engine, gateway, and janitor.
// Zero values fall back to defaults on Validate.
type Config struct {
	// MaximumTimeout is the per-command execution ceiling.
	MaximumTimeout time.Duration `json:"maximum_timeout" yaml:"maximum_timeout"`
	// SyncWait is how long the gateway holds a submission open before
	// switching to the async polling handle.
	SyncWait time.Duration `json:"sync_wait" yaml:"sync_wait"`

	// LockRetries bounds the engine's queue-and-retry on lock contention.
	LockRetries int `json:"lock_retries" yaml:"lock_retries"`
	// LockRetryBackoff is the base delay between lock acquisition retries.
	LockRetryBackoff time.Duration `json:"lock_retry_backoff" yaml:"lock_retry_backoff"`
	// LockTTL is the crash-recovery expiry for held locks.
	LockTTL time.Duration `json:"lock_ttl" yaml:"lock_ttl"`

	// Activity retry defaults; individual plan steps may override.
	ActivityMaxAttempts int           `json:"activity_max_attempts" yaml:"activity_max_attempts"`
	ActivityBackoffBase time.Duration `json:"activity_backoff_base" yaml:"activity_backoff_base"`
	ActivityBackoffMax  time.Duration `json:"activity_backoff_max" yaml:"activity_backoff_max"`

	// Janitor settings.
	ResultRetention time.Duration `json:"result_retention" yaml:"result_retention"`
	SweepSchedule   string        `json:"sweep_schedule" yaml:"sweep_schedule"`
	ArchiveSchedule string        `json:"archive_schedule" yaml:"archive_schedule"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaximumTimeout:      MaximumTimeout,
		SyncWait:            5 * time.Second,
		LockRetries:         5,
		LockRetryBackoff:    250 * time.Millisecond,
		LockTTL:             MaximumTimeout + 5*time.Minute,
		ActivityMaxAttempts: 3,
		ActivityBackoffBase: 200 * time.Millisecond,
		ActivityBackoffMax:  30 * time.Second,
		ResultRetention:     30 * 24 * time.Hour,
		SweepSchedule:       "*/5 * * * *",
		ArchiveSchedule:     "0 3 * * *",
	}
}

// Validate fills unset fields with defaults and rejects nonsense values.
func (c *Config) Validate() error {
	def := DefaultConfig()
	if c.MaximumTimeout <= 0 {
		c.MaximumTimeout = def.MaximumTimeout
	}
	if c.SyncWait <= 0 {
		c.SyncWait = def.SyncWait
	}
	if c.SyncWait > c.MaximumTimeout {
		return fmt.Errorf("sync_wait %s exceeds maximum_timeout %s", c.SyncWait, c.MaximumTimeout)
	}
	if c.LockRetries <= 0 {
		c.LockRetries = def.LockRetries
	}
	if c.LockRetryBackoff <= 0 {
		c.LockRetryBackoff = def.LockRetryBackoff
	}
	if c.LockTTL <= 0 {
		c.LockTTL = def.LockTTL
	}
	if c.LockTTL < c.MaximumTimeout {
		return fmt.Errorf("lock_ttl %s must cover maximum_timeout %s", c.LockTTL, c.MaximumTimeout)
	}
	if c.ActivityMaxAttempts <= 0 {
		c.ActivityMaxAttempts = def.ActivityMaxAttempts
	}
	if c.ActivityBackoffBase <= 0 {
		c.ActivityBackoffBase = def.ActivityBackoffBase
	}
	if c.ActivityBackoffMax <= 0 {
		c.ActivityBackoffMax = def.ActivityBackoffMax
	}
	if c.ResultRetention <= 0 {
		c.ResultRetention = def.ResultRetention
	}
	if strings.TrimSpace(c.SweepSchedule) == "" {
		c.SweepSchedule = def.SweepSchedule
	}
	if strings.TrimSpace(c.ArchiveSchedule) == "" {
		c.ArchiveSchedule = def.ArchiveSchedule
	}
	return nil
}

type configDoc struct {
	MaximumTimeout      string `yaml:"maximum_timeout"`
	SyncWait            string `yaml:"sync_wait"`
	LockRetries         int    `yaml:"lock_retries"`
	LockRetryBackoff    string `yaml:"lock_retry_backoff"`
	LockTTL             string `yaml:"lock_ttl"`
	ActivityMaxAttempts int    `yaml:"activity_max_attempts"`
	ActivityBackoffBase string `yaml:"activity_backoff_base"`
	ActivityBackoffMax  string `yaml:"activity_backoff_max"`
	ResultRetention     string `yaml:"result_retention"`
	SweepSchedule       string `yaml:"sweep_schedule"`
	ArchiveSchedule     string `yaml:"archive_schedule"`
}

// ParseConfig loads YAML (or JSON, which yaml handles) with durations given
// as Go duration strings, e.g. "30m" or "250ms".
func ParseConfig(data []byte) (Config, error) {
	var doc configDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	cfg := Config{
		LockRetries:         doc.LockRetries,
		ActivityMaxAttempts: doc.ActivityMaxAttempts,
		SweepSchedule:       doc.SweepSchedule,
		ArchiveSchedule:     doc.ArchiveSchedule,
	}

	var err error
	if cfg.MaximumTimeout, err = parseDuration("maximum_timeout", doc.MaximumTimeout); err != nil {
		return Config{}, err
	}
	if cfg.SyncWait, err = parseDuration("sync_wait", doc.SyncWait); err != nil {
		return Config{}, err
	}
	if cfg.LockRetryBackoff, err = parseDuration("lock_retry_backoff", doc.LockRetryBackoff); err != nil {
		return Config{}, err
	}
	if cfg.LockTTL, err = parseDuration("lock_ttl", doc.LockTTL); err != nil {
		return Config{}, err
	}
	if cfg.ActivityBackoffBase, err = parseDuration("activity_backoff_base", doc.ActivityBackoffBase); err != nil {
		return Config{}, err
	}
	if cfg.ActivityBackoffMax, err = parseDuration("activity_backoff_max", doc.ActivityBackoffMax); err != nil {
		return Config{}, err
	}
	if cfg.ResultRetention, err = parseDuration("result_retention", doc.ResultRetention); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads and parses a config file, falling back to defaults when
// path is empty.
func LoadConfig(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		cfg := DefaultConfig()
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return ParseConfig(data)
}

func parseDuration(field, value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}
	return d, nil
}
