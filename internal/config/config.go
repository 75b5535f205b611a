// Package config provides the configuration for notionsync: destinations,
// the Notion client, scheduling, relations and ambient services.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"notionsync/internal/domain"
	"notionsync/internal/relations"
	"notionsync/internal/secret"
)

// Config holds the full configuration.
type Config struct {
	// Environment selects which destination in Databases is used: local, cloud
	Environment domain.Environment `json:"environment" yaml:"environment"`

	// Notion API client configuration
	Notion NotionConfig `json:"notion" yaml:"notion"`

	// Databases maps an environment name to its destination
	Databases map[domain.Environment]domain.DatabaseConnection `json:"databases" yaml:"databases"`

	// Sync controls the incremental sync passes
	Sync SyncConfig `json:"sync" yaml:"sync"`

	// Relations controls junction table materialization
	Relations RelationsConfig `json:"relations" yaml:"relations"`

	// Mongo configures the optional raw page archive
	Mongo MongoConfig `json:"mongo" yaml:"mongo"`

	// Metrics configures the prometheus endpoint
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`

	// Log configures the logger
	Log LogConfig `json:"log" yaml:"log"`

	// StatePath is the run history database
	StatePath string `json:"state_path" yaml:"state_path"`

	// Secrets configures credential lookup
	Secrets SecretsConfig `json:"secrets" yaml:"secrets"`
}

// NotionConfig holds Notion client configuration.
type NotionConfig struct {
	// Token is the integration token; usually left empty and resolved from
	// NOTION_API_TOKEN or the keychain
	Token string `json:"token" yaml:"token"`

	// BaseURL overrides the API endpoint
	BaseURL string `json:"base_url" yaml:"base_url"`

	// Version is the Notion-Version header
	Version string `json:"version" yaml:"version"`

	// PageSize is the number of records per query page (max 100)
	PageSize int `json:"page_size" yaml:"page_size"`

	// MinInterval is the minimum delay between two requests; bare numbers
	// are milliseconds
	MinInterval Milliseconds `json:"min_interval" yaml:"min_interval"`

	// Timeout bounds one HTTP request; bare numbers are seconds
	Timeout Seconds `json:"timeout" yaml:"timeout"`

	// BreakerFailures consecutive failures open the circuit breaker
	BreakerFailures uint32 `json:"breaker_failures" yaml:"breaker_failures"`

	// BreakerCooldown is how long an open breaker rejects requests
	BreakerCooldown Seconds `json:"breaker_cooldown" yaml:"breaker_cooldown"`
}

// SyncConfig holds sync pass configuration.
type SyncConfig struct {
	// CollectionsPath is the collection directory file
	CollectionsPath string `json:"collections_path" yaml:"collections_path"`

	// BatchSize is the number of rows per upsert statement
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// PollEvery is the delay between continuous passes; bare numbers are
	// seconds
	PollEvery Seconds `json:"poll_every" yaml:"poll_every"`

	// Schedule is a cron expression that replaces PollEvery when set
	Schedule string `json:"schedule" yaml:"schedule"`

	// Relations materializes junction tables after every pass
	Relations bool `json:"relations" yaml:"relations"`

	// WatchFiles reloads the collection and relation files when they change
	WatchFiles bool `json:"watch_files" yaml:"watch_files"`
}

// RelationsConfig holds relation materialization configuration.
type RelationsConfig struct {
	// Path is the relation declarations file
	Path string `json:"path" yaml:"path"`

	// Policy is deduplicate or directional
	Policy string `json:"policy" yaml:"policy"`

	// ApplyPolicies enables row-level security on junction tables
	ApplyPolicies bool `json:"apply_policies" yaml:"apply_policies"`

	// PolicyRole is the role granted access by those policies
	PolicyRole string `json:"policy_role" yaml:"policy_role"`
}

// MongoConfig holds raw archive configuration.
type MongoConfig struct {
	// URI enables the archive when set
	URI string `json:"uri" yaml:"uri"`

	// Database defaults to the URI path, then "notionsync"
	Database string `json:"database" yaml:"database"`

	// Collection defaults to "raw_pages"
	Collection string `json:"collection" yaml:"collection"`
}

// MetricsConfig holds the metrics endpoint configuration.
type MetricsConfig struct {
	// Addr serves /metrics when set, e.g. ":9464"
	Addr string `json:"addr" yaml:"addr"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	// Level is debug, info, warn or error
	Level string `json:"level" yaml:"level"`

	// Format is json or console
	Format string `json:"format" yaml:"format"`
}

// SecretsConfig holds credential lookup configuration.
type SecretsConfig struct {
	// Keychain also consults the macOS keychain after the environment
	Keychain bool `json:"keychain" yaml:"keychain"`

	// Service is the keychain service name
	Service string `json:"service" yaml:"service"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		Environment: domain.EnvironmentLocal,
		Notion: NotionConfig{
			Version:         "2022-06-28",
			PageSize:        100,
			MinInterval:     Milliseconds(350 * time.Millisecond),
			Timeout:         Seconds(30 * time.Second),
			BreakerFailures: 5,
			BreakerCooldown: Seconds(30 * time.Second),
		},
		Databases: map[domain.Environment]domain.DatabaseConnection{
			domain.EnvironmentLocal: {
				Driver: domain.DatabaseDriverSQLite,
				Host:   "./data/notionsync.db",
			},
		},
		Sync: SyncConfig{
			CollectionsPath: "./collections.json",
			BatchSize:       100,
			PollEvery:       Seconds(60 * time.Second),
			Relations:       true,
			WatchFiles:      true,
		},
		Relations: RelationsConfig{
			Path:       "./relations.json",
			Policy:     string(relations.PolicyDeduplicate),
			PolicyRole: "anon",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		StatePath: "./data/state.db",
		Secrets: SecretsConfig{
			Service: secret.DefaultKeychainService,
		},
	}
}

// LoadFromFile loads configuration from a YAML or JSON file on top of the
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// Load reads path when it is non-empty, otherwise starts from the defaults,
// then loads .env files and applies environment overrides.
func Load(path string, dotenv ...string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := LoadDotEnv(dotenv...); err != nil {
		return nil, err
	}
	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads the given .env files (default ".env") into the process
// environment. Missing files are ignored; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// LoadFromEnv loads configuration overrides from environment variables.
// Destination variables carry the environment as a suffix, e.g. DB_HOST_CLOUD.
// Values that do not parse are configuration errors.
func LoadFromEnv(cfg *Config) error {
	if v := os.Getenv("NOTIONSYNC_ENV"); v != "" {
		cfg.Environment = domain.Environment(strings.ToLower(v))
	}
	if v := os.Getenv("NOTION_API_TOKEN"); v != "" {
		cfg.Notion.Token = v
	}
	if v := os.Getenv("NOTION_BASE_URL"); v != "" {
		cfg.Notion.BaseURL = v
	}

	// Destinations
	if cfg.Databases == nil {
		cfg.Databases = map[domain.Environment]domain.DatabaseConnection{}
	}
	for _, env := range []domain.Environment{domain.EnvironmentLocal, domain.EnvironmentCloud} {
		suffix := "_" + strings.ToUpper(string(env))
		conn, ok := cfg.Databases[env]
		set := false
		if v := os.Getenv("DB_DRIVER" + suffix); v != "" {
			conn.Driver, set = domain.DatabaseDriver(strings.ToLower(v)), true
		}
		if v := os.Getenv("DB_HOST" + suffix); v != "" {
			conn.Host, set = v, true
		}
		if v := os.Getenv("DB_PORT" + suffix); v != "" {
			if port, err := strconv.Atoi(v); err == nil {
				conn.Port, set = port, true
			}
		}
		if v := os.Getenv("DB_NAME" + suffix); v != "" {
			conn.Database, set = v, true
		}
		if v := os.Getenv("DB_USER" + suffix); v != "" {
			conn.Username, set = v, true
		}
		if v := os.Getenv("DB_PASSWORD" + suffix); v != "" {
			conn.Password, set = v, true
		}
		if v := os.Getenv("DB_SSLMODE" + suffix); v != "" {
			conn.SSLMode, set = v, true
		}
		if set || ok {
			if conn.Driver == "" {
				conn.Driver = domain.DatabaseDriverPostgres
			}
			cfg.Databases[env] = conn
		}
	}

	// Sync
	if v := os.Getenv("NOTIONSYNC_COLLECTIONS"); v != "" {
		cfg.Sync.CollectionsPath = v
	}
	if v := os.Getenv("NOTIONSYNC_RELATIONS"); v != "" {
		cfg.Relations.Path = v
	}
	if v := os.Getenv("NOTIONSYNC_POLL_EVERY"); v != "" {
		d, err := ParseDuration(v, time.Second)
		if err != nil {
			return fmt.Errorf("NOTIONSYNC_POLL_EVERY: %w", err)
		}
		cfg.Sync.PollEvery = Seconds(d)
	}
	if v := os.Getenv("NOTIONSYNC_MIN_INTERVAL"); v != "" {
		d, err := ParseDuration(v, time.Millisecond)
		if err != nil {
			return fmt.Errorf("NOTIONSYNC_MIN_INTERVAL: %w", err)
		}
		cfg.Notion.MinInterval = Milliseconds(d)
	}
	if v := os.Getenv("NOTIONSYNC_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("NOTIONSYNC_BATCH_SIZE: invalid number %q", v)
		}
		cfg.Sync.BatchSize = n
	}
	if v := os.Getenv("NOTIONSYNC_RELATION_POLICY"); v != "" {
		cfg.Relations.Policy = v
	}

	// Ambient
	if v := os.Getenv("NOTIONSYNC_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("NOTIONSYNC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("NOTIONSYNC_STATE_PATH"); v != "" {
		cfg.StatePath = v
	}
	if v := os.Getenv("MONGO_URI"); v != "" {
		cfg.Mongo.URI = v
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Environment {
	case domain.EnvironmentLocal, domain.EnvironmentCloud:
	default:
		return fmt.Errorf("invalid environment: %s (must be local or cloud)", c.Environment)
	}

	conn, ok := c.Databases[c.Environment]
	if !ok {
		return fmt.Errorf("databases.%s is required", c.Environment)
	}
	switch conn.Driver {
	case domain.DatabaseDriverPostgres, domain.DatabaseDriverMySQL:
		if conn.Host == "" || conn.Database == "" {
			return fmt.Errorf("databases.%s: host and database are required for %s", c.Environment, conn.Driver)
		}
	case domain.DatabaseDriverSQLite:
		if conn.Host == "" {
			return fmt.Errorf("databases.%s: host (file path) is required for sqlite", c.Environment)
		}
	default:
		return fmt.Errorf("databases.%s: unsupported driver %q", c.Environment, conn.Driver)
	}

	if c.Notion.PageSize < 1 || c.Notion.PageSize > 100 {
		return fmt.Errorf("notion.page_size must be between 1 and 100, got %d", c.Notion.PageSize)
	}
	if c.Notion.MinInterval.Duration() < time.Millisecond {
		return fmt.Errorf("notion.min_interval must be at least 1ms, got %s", c.Notion.MinInterval)
	}
	if c.Sync.BatchSize < 1 {
		return fmt.Errorf("sync.batch_size must be positive, got %d", c.Sync.BatchSize)
	}
	if c.Sync.PollEvery <= 0 && c.Sync.Schedule == "" {
		return fmt.Errorf("sync.poll_every or sync.schedule is required")
	}
	if c.Sync.PollEvery != 0 && c.Sync.PollEvery.Duration() < time.Second {
		return fmt.Errorf("sync.poll_every must be at least 1s, got %s", c.Sync.PollEvery)
	}
	if c.Sync.CollectionsPath == "" {
		return fmt.Errorf("sync.collections_path is required")
	}
	if _, err := relations.ParsePolicy(c.Relations.Policy); err != nil {
		return fmt.Errorf("relations.policy: %w", err)
	}
	return nil
}

// Connection returns the destination of the selected environment with its
// password resolved from store when the file left it empty.
func (c *Config) Connection(store secret.SecretStore) (domain.DatabaseConnection, error) {
	conn, ok := c.Databases[c.Environment]
	if !ok {
		return domain.DatabaseConnection{}, fmt.Errorf("no database configured for environment %s", c.Environment)
	}
	if conn.Password == "" {
		pw, err := secret.Lookup(store, secret.DatabasePasswordKey(string(c.Environment)), "")
		if err != nil {
			return conn, fmt.Errorf("resolve database password: %w", err)
		}
		conn.Password = pw
	}
	return conn, nil
}

// SecretStore builds the credential lookup chain: environment first, then
// the keychain when enabled.
func (c *Config) SecretStore() secret.SecretStore {
	chain := secret.Chain{secret.NewEnvStore("")}
	if c.Secrets.Keychain && secret.Available() {
		chain = append(chain, secret.NewKeychainStore(c.Secrets.Service))
	}
	return chain
}

// NotionToken resolves the integration token.
func (c *Config) NotionToken(store secret.SecretStore) (string, error) {
	return secret.Lookup(store, secret.KeyNotionToken, c.Notion.Token)
}

// MongoURI resolves the archive URI.
func (c *Config) MongoURI(store secret.SecretStore) (string, error) {
	return secret.Lookup(store, secret.KeyMongoURI, c.Mongo.URI)
}

// EnsureDirectories creates the directories of local files.
func (c *Config) EnsureDirectories() error {
	dirs := []string{filepath.Dir(c.StatePath)}
	if conn, ok := c.Databases[c.Environment]; ok && conn.Driver == domain.DatabaseDriverSQLite {
		dirs = append(dirs, filepath.Dir(conn.Host))
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
