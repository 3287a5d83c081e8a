package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for nw.
type Config struct {
	BaseDir   string          `toml:"base_dir"`
	LogDir    string          `toml:"log_dir"`
	Ledger    LedgerConfig    `toml:"ledger"`
	Store     StoreConfig     `toml:"store"`
	Verifier  VerifierConfig  `toml:"verifier"`
	Identity  IdentityConfig  `toml:"identity"`
	Pending   PendingConfig   `toml:"pending"`
	Publish   PublishConfig   `toml:"publish"`
	Aggregate AggregateConfig `toml:"aggregate"`
	Server    ServerConfig    `toml:"server"`
}

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

// LedgerConfig represents configuration for the publication ledger.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type LedgerConfig struct {
	Type string `toml:"type"` // "memory", "sqlite", "redis" or "ethereum"

	// SQLite-specific fields (only used when Type == "sqlite")
	DataDir string `toml:"data_dir,omitempty"`

	// Redis-specific fields (only used when Type == "redis")
	RedisAddr     string `toml:"redis_addr,omitempty"`
	RedisPassword string `toml:"redis_password,omitempty"`
	RedisDB       int    `toml:"redis_db,omitempty"`
	RedisPrefix   string `toml:"redis_prefix,omitempty"`

	// Ethereum-specific fields (only used when Type == "ethereum")
	EthRPCURL   string `toml:"eth_rpc_url,omitempty"`
	EthContract string `toml:"eth_contract,omitempty"`

	// PollInterval applies to ledgers whose subscriptions poll (sqlite, ethereum).
	PollInterval Duration `toml:"poll_interval,omitempty"`
}

// StoreConfig represents configuration for the content store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StoreConfig struct {
	Type string `toml:"type"` // "memory", "filesystem", "s3" or "gateway"

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"` // S3-compatible servers; empty for AWS

	// Gateway-specific fields (only used when Type == "gateway")
	GatewayURL string `toml:"gateway_url,omitempty"`
}

// VerifierConfig represents configuration for the content verifier.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VerifierConfig struct {
	Type string `toml:"type"` // "static", "http" or "openai"

	// Static-specific fields (only used when Type == "static")
	StaticScore float64 `toml:"static_score,omitempty"`

	// Remote fields (used when Type == "http" or "openai")
	URL       string  `toml:"url,omitempty"`
	APIKeyEnv string  `toml:"api_key_env,omitempty"` // name of the env var holding the key
	Model     string  `toml:"model,omitempty"`       // openai only
	RateLimit float64 `toml:"rate_limit,omitempty"`  // requests per second; 0 means unlimited
}

// IdentityConfig represents configuration for the signing identity.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type IdentityConfig struct {
	Type    string `toml:"type"`               // "static" or "keyfile"
	Address string `toml:"address,omitempty"`  // only used for type=static
	KeyFile string `toml:"key_file,omitempty"` // only used for type=keyfile
}

// PendingConfig represents configuration for the queue of stored but
// unrecorded publications.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type PendingConfig struct {
	Type string `toml:"type"`          // "memory" or "filesystem"
	Dir  string `toml:"dir,omitempty"` // only used for type=filesystem
}

// PublishConfig bounds each stage of a publication.
type PublishConfig struct {
	VerifyTimeout Duration `toml:"verify_timeout,omitempty"`
	StoreTimeout  Duration `toml:"store_timeout,omitempty"`
	RecordTimeout Duration `toml:"record_timeout,omitempty"`
}

// AggregateConfig bounds the listing fan-out.
type AggregateConfig struct {
	Concurrency int      `toml:"concurrency,omitempty"`
	CallTimeout Duration `toml:"call_timeout,omitempty"`
}

// ServerConfig configures `nw serve`.
type ServerConfig struct {
	Listen           string  `toml:"listen"`
	PublishRateLimit float64 `toml:"publish_rate_limit,omitempty"` // publishes per second per client; 0 means unlimited
	PublishBurst     int     `toml:"publish_burst,omitempty"`
}

// NewConfig creates a new Config rooted at baseDir with local defaults:
// a SQLite ledger and a filesystem store under baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Ledger:  LedgerConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "ledger")},
		Store:   StoreConfig{Type: "filesystem", FSRoot: filepath.Join(baseDir, "content")},
		Verifier: VerifierConfig{
			Type:        "static",
			StaticScore: 0.5,
		},
		Identity: IdentityConfig{Type: "keyfile", KeyFile: filepath.Join(baseDir, "keys", "nw.key")},
		Pending:  PendingConfig{Type: "filesystem", Dir: filepath.Join(baseDir, "pending")},
		Publish: PublishConfig{
			VerifyTimeout: Duration{30 * time.Second},
			StoreTimeout:  Duration{30 * time.Second},
			RecordTimeout: Duration{2 * time.Minute},
		},
		Aggregate: AggregateConfig{Concurrency: 8, CallTimeout: Duration{15 * time.Second}},
		Server:    ServerConfig{Listen: "127.0.0.1:8080"},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
