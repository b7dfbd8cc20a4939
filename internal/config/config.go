package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"shardvault/internal/envelope"
	"shardvault/internal/erasure"
	"shardvault/internal/kv"
	"shardvault/internal/profile"
	"shardvault/internal/provider"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"
)

// Ledger kinds.
const (
	LedgerMemory    = "memory"
	LedgerSQLite    = "sqlite"
	LedgerUnlimited = "unlimited"
)

const (
	DefaultListen        = ":8080"
	DefaultProbeInterval = 30 * time.Second
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	DataDir         string          `yaml:"data_dir"`
	Backend         string          `yaml:"backend"`
	Ledger          string          `yaml:"ledger"`
	Redundancy      string          `yaml:"redundancy"`
	KeyMode         string          `yaml:"key_mode"`
	Compression     string          `yaml:"compression"`
	Ladder          []uint64        `yaml:"ladder,omitempty"`
	CacheSize       int             `yaml:"cache_size"`
	Listen          string          `yaml:"listen"`
	AccessKeyID     string          `yaml:"access_key_id"`
	SecretAccessKey string          `yaml:"secret_access_key"`
	ProbeInterval   time.Duration   `yaml:"probe_interval"`
	LogLevel        string          `yaml:"log_level"`
	Providers       []provider.Spec `yaml:"providers"`
}

type ConfigOption func(*Config)

func WithDataDir(dataDir string) ConfigOption {
	return func(cfg *Config) {
		cfg.DataDir = dataDir
	}
}

func WithBackend(backend string) ConfigOption {
	return func(cfg *Config) {
		cfg.Backend = backend
	}
}

func WithLedger(ledger string) ConfigOption {
	return func(cfg *Config) {
		cfg.Ledger = ledger
	}
}

func WithRedundancy(redundancy string) ConfigOption {
	return func(cfg *Config) {
		cfg.Redundancy = redundancy
	}
}

func WithKeyMode(mode string) ConfigOption {
	return func(cfg *Config) {
		cfg.KeyMode = mode
	}
}

func WithCompression(compression string) ConfigOption {
	return func(cfg *Config) {
		cfg.Compression = compression
	}
}

func WithLadder(sizes ...uint64) ConfigOption {
	return func(cfg *Config) {
		cfg.Ladder = sizes
	}
}

func WithListen(addr string) ConfigOption {
	return func(cfg *Config) {
		cfg.Listen = addr
	}
}

// WithCredentials sets the basic-auth pair the HTTP API requires. An empty
// access key disables authentication.
func WithCredentials(accessKeyID string, secretAccessKey string) ConfigOption {
	return func(cfg *Config) {
		cfg.AccessKeyID = accessKeyID
		cfg.SecretAccessKey = secretAccessKey
	}
}

func WithProviders(specs ...provider.Spec) ConfigOption {
	return func(cfg *Config) {
		cfg.Providers = append(cfg.Providers, specs...)
	}
}

func WithProbeInterval(interval time.Duration) ConfigOption {
	return func(cfg *Config) {
		cfg.ProbeInterval = interval
	}
}

func WithLogLevel(level string) ConfigOption {
	return func(cfg *Config) {
		cfg.LogLevel = level
	}
}

// Default returns the configuration used when nothing is overridden: a
// SQLite store and ledger under ./data, no redundancy, convergent keys.
func Default() Config {
	return Config{
		DataDir:       "data",
		Backend:       kv.BackendSQLite,
		Ledger:        LedgerSQLite,
		Redundancy:    erasure.None.String(),
		KeyMode:       string(envelope.KeyConvergent),
		Compression:   string(envelope.CompressionNone),
		CacheSize:     256,
		Listen:        DefaultListen,
		ProbeInterval: DefaultProbeInterval,
		LogLevel:      "info",
	}
}

func NewConfig(opts ...ConfigOption) Config {
	cfg := Default()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Load reads a YAML file over the defaults and then applies opts, so
// options (usually command line flags) win over the file.
func Load(path string, opts ...ConfigOption) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg, nil
}

// Validate checks every field that can be checked without touching disk or
// network.
func (cfg Config) Validate() error {
	if cfg.DataDir == "" && cfg.Backend != kv.BackendMemory {
		return fmt.Errorf("%w: data_dir is required for backend %q", ErrInvalid, cfg.Backend)
	}

	switch cfg.Backend {
	case kv.BackendMemory, kv.BackendSQLite, kv.BackendBadger, kv.BackendFiles:
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalid, cfg.Backend)
	}

	switch cfg.Ledger {
	case LedgerMemory, LedgerSQLite, LedgerUnlimited:
	default:
		return fmt.Errorf("%w: unknown ledger %q", ErrInvalid, cfg.Ledger)
	}

	if _, err := cfg.RedundancyPolicy(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if _, err := envelope.ParseKeyMode(cfg.KeyMode); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if _, err := envelope.ParseCompression(cfg.Compression); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if _, err := cfg.ChunkLadder(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if _, err := log.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level: %w", ErrInvalid, err)
	}

	if cfg.CacheSize < 0 {
		return fmt.Errorf("%w: cache_size must not be negative", ErrInvalid)
	}
	if cfg.ProbeInterval < 0 {
		return fmt.Errorf("%w: probe_interval must not be negative", ErrInvalid)
	}
	if cfg.AccessKeyID == "" && cfg.SecretAccessKey != "" {
		return fmt.Errorf("%w: secret_access_key set without access_key_id", ErrInvalid)
	}

	seen := make(map[string]struct{}, len(cfg.Providers))
	for _, spec := range cfg.Providers {
		if spec.ID == "" {
			return fmt.Errorf("%w: provider of kind %q has no id", ErrInvalid, spec.Kind)
		}
		if _, ok := seen[spec.ID]; ok {
			return fmt.Errorf("%w: duplicate provider %q", ErrInvalid, spec.ID)
		}
		seen[spec.ID] = struct{}{}

		switch spec.Kind {
		case provider.KindMemory, provider.KindS3:
		case provider.KindDir:
			if spec.Path == "" {
				return fmt.Errorf("%w: dir provider %q has no path", ErrInvalid, spec.ID)
			}
		default:
			return fmt.Errorf("%w: provider %q has unknown kind %q", ErrInvalid, spec.ID, spec.Kind)
		}
	}
	return nil
}

// RedundancyPolicy parses the redundancy setting.
func (cfg Config) RedundancyPolicy() (erasure.Redundancy, error) {
	return erasure.ParseRedundancy(cfg.Redundancy)
}

// ChunkLadder returns the configured ladder, or the default one when none
// is set.
func (cfg Config) ChunkLadder() (profile.Ladder, error) {
	if len(cfg.Ladder) == 0 {
		return profile.DefaultLadder(), nil
	}
	return profile.NewLadder(cfg.Ladder...)
}

// LedgerPath is where the SQLite ledger lives.
func (cfg Config) LedgerPath() string {
	return filepath.Join(cfg.DataDir, "ledger.sqlite")
}
