package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/hpungsan/notesync/internal/cursor"
)

// Config holds application configuration.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Meili      MeiliConfig      `yaml:"meili"`
	Sync       SyncConfig       `yaml:"sync"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	LogLevel   string           `yaml:"log_level"`
}

// DatabaseConfig describes the source database.
type DatabaseConfig struct {
	// Driver is "pgx" (PostgreSQL) or "sqlite"
	Driver string `yaml:"driver"`

	// DSN is the driver-specific connection string
	DSN string `yaml:"dsn"`

	// MaxOpenConns limits open connections. The loop only ever uses one.
	MaxOpenConns int `yaml:"max_open_conns,omitempty"`
}

// MeiliConfig describes the destination index.
type MeiliConfig struct {
	Host    string        `yaml:"host"`
	APIKey  string        `yaml:"api_key"`
	Index   string        `yaml:"index"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// SyncConfig holds the filter and pacing options.
type SyncConfig struct {
	BatchSize int `yaml:"batch_size"`

	// Since and Until are RFC3339 instants or YYYY-MM-DD dates (UTC).
	// Since is inclusive, Until exclusive.
	Since string `yaml:"since,omitempty"`
	Until string `yaml:"until,omitempty"`

	// Hosts lists remote instances whose notes are indexed alongside local ones.
	Hosts []string `yaml:"hosts,omitempty"`

	// IDScheme is the id generator the source instance uses: aid, aidx or ulid.
	IDScheme string `yaml:"id_scheme"`

	// RefreshInterval is how often the total row estimate is recomputed.
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// CheckpointConfig enables cursor persistence and the run lock.
// Both are disabled when RedisAddress is empty.
type CheckpointConfig struct {
	RedisAddress  string        `yaml:"redis_address,omitempty"`
	RedisPassword string        `yaml:"redis_password,omitempty"`
	RedisDB       int           `yaml:"redis_db,omitempty"`
	KeyPrefix     string        `yaml:"key_prefix"`
	LockTTL       time.Duration `yaml:"lock_ttl"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Address to serve /metrics on, e.g. ":9090". Empty disables the endpoint.
	Address string `yaml:"address,omitempty"`
}

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"

	DefaultBatchSize       = 10000
	DefaultRefreshInterval = time.Hour
	DefaultLockTTL         = 10 * time.Minute
	DefaultKeyPrefix       = "notesync"
	DefaultMeiliTimeout    = 30 * time.Second
)

// hostPattern accepts lower-case DNS names (punycode for IDNs) with an optional port.
var hostPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?(\.[a-z0-9]([a-z0-9-]*[a-z0-9])?)*(:[0-9]{1,5})?$`)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: DriverPostgres,
		},
		Meili: MeiliConfig{
			Timeout: DefaultMeiliTimeout,
		},
		Sync: SyncConfig{
			BatchSize:       DefaultBatchSize,
			IDScheme:        string(cursor.DefaultScheme),
			RefreshInterval: DefaultRefreshInterval,
		},
		Checkpoint: CheckpointConfig{
			KeyPrefix: DefaultKeyPrefix,
			LockTTL:   DefaultLockTTL,
		},
		LogLevel: "info",
	}
}

// Load reads a YAML config file and layers it over the defaults.
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; host lists are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.Database.Driver = firstString(overlay.Database.Driver, base.Database.Driver)
	result.Database.DSN = firstString(overlay.Database.DSN, base.Database.DSN)
	result.Database.MaxOpenConns = firstInt(overlay.Database.MaxOpenConns, base.Database.MaxOpenConns)

	result.Meili.Host = firstString(overlay.Meili.Host, base.Meili.Host)
	result.Meili.APIKey = firstString(overlay.Meili.APIKey, base.Meili.APIKey)
	result.Meili.Index = firstString(overlay.Meili.Index, base.Meili.Index)
	result.Meili.Timeout = firstDuration(overlay.Meili.Timeout, base.Meili.Timeout)

	result.Sync.BatchSize = firstInt(overlay.Sync.BatchSize, base.Sync.BatchSize)
	result.Sync.Since = firstString(overlay.Sync.Since, base.Sync.Since)
	result.Sync.Until = firstString(overlay.Sync.Until, base.Sync.Until)
	result.Sync.IDScheme = firstString(overlay.Sync.IDScheme, base.Sync.IDScheme)
	result.Sync.RefreshInterval = firstDuration(overlay.Sync.RefreshInterval, base.Sync.RefreshInterval)
	result.Sync.Hosts = mergeStringSlice(base.Sync.Hosts, overlay.Sync.Hosts)

	result.Checkpoint.RedisAddress = firstString(overlay.Checkpoint.RedisAddress, base.Checkpoint.RedisAddress)
	result.Checkpoint.RedisPassword = firstString(overlay.Checkpoint.RedisPassword, base.Checkpoint.RedisPassword)
	result.Checkpoint.RedisDB = firstInt(overlay.Checkpoint.RedisDB, base.Checkpoint.RedisDB)
	result.Checkpoint.KeyPrefix = firstString(overlay.Checkpoint.KeyPrefix, base.Checkpoint.KeyPrefix)
	result.Checkpoint.LockTTL = firstDuration(overlay.Checkpoint.LockTTL, base.Checkpoint.LockTTL)

	result.Metrics.Address = firstString(overlay.Metrics.Address, base.Metrics.Address)
	result.LogLevel = firstString(overlay.LogLevel, base.LogLevel)

	return result
}

// Validate checks the configuration, fills defaults and normalizes hosts.
// It runs before any connection is opened.
func (c *Config) Validate() error {
	if err := c.ValidateSource(); err != nil {
		return err
	}
	if err := c.validateMeili(); err != nil {
		return err
	}
	return c.validateCheckpoint()
}

// ValidateSource checks only what is needed to query the source database:
// the driver, the filter and the log level.
func (c *Config) ValidateSource() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateSync(); err != nil {
		return err
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}

	return nil
}

func (c *Config) validateDatabase() error {
	switch strings.ToLower(c.Database.Driver) {
	case "", DriverPostgres, "postgres", "postgresql":
		c.Database.Driver = DriverPostgres
	case DriverSQLite:
		c.Database.Driver = DriverSQLite
	default:
		return fmt.Errorf("unsupported database driver %q (want pgx or sqlite)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database connection string is required")
	}
	return nil
}

func (c *Config) validateMeili() error {
	if c.Meili.Host == "" {
		return fmt.Errorf("meilisearch host is required")
	}
	if c.Meili.Index == "" {
		return fmt.Errorf("meilisearch index is required")
	}
	if c.Meili.Timeout == 0 {
		c.Meili.Timeout = DefaultMeiliTimeout
	}
	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = DefaultBatchSize
	}
	if c.Sync.BatchSize < 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.Sync.BatchSize)
	}

	if c.Sync.RefreshInterval == 0 {
		c.Sync.RefreshInterval = DefaultRefreshInterval
	}
	if c.Sync.RefreshInterval < time.Second {
		return fmt.Errorf("refresh_interval must be at least 1s, got %v", c.Sync.RefreshInterval)
	}

	scheme, err := cursor.ParseScheme(c.Sync.IDScheme)
	if err != nil {
		return err
	}
	c.Sync.IDScheme = string(scheme)

	since, err := ParseInstant(c.Sync.Since)
	if err != nil {
		return fmt.Errorf("invalid since: %w", err)
	}
	until, err := ParseInstant(c.Sync.Until)
	if err != nil {
		return fmt.Errorf("invalid until: %w", err)
	}
	if since != nil && until != nil && !since.Before(*until) {
		return fmt.Errorf("since (%s) must be before until (%s)", c.Sync.Since, c.Sync.Until)
	}
	for _, bound := range []*time.Time{since, until} {
		if bound == nil {
			continue
		}
		if _, err := cursor.Encode(scheme, *bound); err != nil {
			return err
		}
	}

	hosts, err := normalizeHosts(c.Sync.Hosts)
	if err != nil {
		return err
	}
	c.Sync.Hosts = hosts

	return nil
}

func (c *Config) validateCheckpoint() error {
	if c.Checkpoint.KeyPrefix == "" {
		c.Checkpoint.KeyPrefix = DefaultKeyPrefix
	}
	if c.Checkpoint.LockTTL == 0 {
		c.Checkpoint.LockTTL = DefaultLockTTL
	}
	if c.Checkpoint.LockTTL < time.Second {
		return fmt.Errorf("lock_ttl must be at least 1s, got %v", c.Checkpoint.LockTTL)
	}
	return nil
}

// SinceTime returns the parsed lower time bound, or nil.
// Call after Validate.
func (c *Config) SinceTime() *time.Time {
	t, _ := ParseInstant(c.Sync.Since)
	return t
}

// UntilTime returns the parsed upper time bound, or nil.
// Call after Validate.
func (c *Config) UntilTime() *time.Time {
	t, _ := ParseInstant(c.Sync.Until)
	return t
}

// Scheme returns the configured id scheme. Call after Validate.
func (c *Config) Scheme() cursor.Scheme {
	return cursor.Scheme(c.Sync.IDScheme)
}

// CheckpointEnabled reports whether a Redis address was configured.
func (c *Config) CheckpointEnabled() bool {
	return c.Checkpoint.RedisAddress != ""
}

// ParseInstant parses an RFC3339 timestamp or a YYYY-MM-DD date (midnight UTC).
// An empty string yields nil.
func ParseInstant(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, fmt.Errorf("%q is neither RFC3339 nor YYYY-MM-DD", s)
	}
	return &t, nil
}

// normalizeHosts lower-cases, trims and deduplicates hosts and rejects anything
// outside the DNS character set.
func normalizeHosts(hosts []string) ([]string, error) {
	lowered := make([]string, 0, len(hosts))
	for _, h := range hosts {
		lowered = append(lowered, strings.ToLower(h))
	}
	merged := mergeStringSlice(lowered, nil)
	for _, h := range merged {
		if !hostPattern.MatchString(h) {
			return nil, fmt.Errorf("invalid host %q: only lower-case DNS names with an optional port are allowed", h)
		}
	}
	return merged, nil
}

func firstString(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func firstInt(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}

func firstDuration(a, b time.Duration) time.Duration {
	if a != 0 {
		return a
	}
	return b
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
