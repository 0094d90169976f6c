// Package config loads relay configuration from an optional .env file, an
// optional YAML file and the process environment, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/whistlenet/hcs-relay/internal/ledger"
)

// Environment variables that locate the other configuration sources.
const (
	EnvFileVar    = "RELAY_ENV_FILE"
	ConfigFileVar = "RELAY_CONFIG_FILE"
)

// NetworkMemory runs against the in-process ledger.
const NetworkMemory = "memory"

// DefaultTokenID is the WHISTLE token on testnet.
const DefaultTokenID = "0.0.7304457"

// Config is the full relay configuration.
type Config struct {
	Ledger LedgerConfig `yaml:"ledger"`
	Topic  TopicConfig  `yaml:"topic"`
	HTTP   HTTPConfig   `yaml:"http"`
	Log    LogConfig    `yaml:"log"`
	Audit  AuditConfig  `yaml:"audit"`
}

// LedgerConfig selects the network and operator identity.
type LedgerConfig struct {
	Network            string        `yaml:"network" env:"LEDGER_NETWORK"`
	OperatorAccountID  string        `yaml:"operator_account_id" env:"OPERATOR_ACCOUNT_ID"`
	OperatorPrivateKey string        `yaml:"operator_private_key" env:"OPERATOR_PRIVATE_KEY"`
	MirrorNodeURL      string        `yaml:"mirror_node_url" env:"MIRROR_NODE_URL"`
	ExplorerBaseURL    string        `yaml:"explorer_base_url" env:"EXPLORER_BASE_URL"`
	TokenID            string        `yaml:"token_id" env:"TOKEN_ID"`
	RequestTimeout     time.Duration `yaml:"request_timeout" env:"LEDGER_REQUEST_TIMEOUT"`
}

// TopicConfig selects where the topic id is cached.
type TopicConfig struct {
	Store       string `yaml:"store" env:"TOPIC_STORE"`
	StorePath   string `yaml:"store_path" env:"TOPIC_STORE_PATH"`
	RedisAddr   string `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPrefix string `yaml:"redis_prefix" env:"REDIS_PREFIX"`
	DatabaseDSN string `yaml:"database_dsn" env:"DATABASE_DSN"`
	Memo        string `yaml:"memo" env:"TOPIC_MEMO"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr               string        `yaml:"addr" env:"HTTP_ADDR"`
	CORSAllowedOrigins string        `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	RateLimitRPS       float64       `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst     int           `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	ReadTimeout        time.Duration `yaml:"read_timeout" env:"HTTP_READ_TIMEOUT"`
	WriteTimeout       time.Duration `yaml:"write_timeout" env:"HTTP_WRITE_TIMEOUT"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// AuditConfig configures the periodic balance audit. An empty schedule
// disables it.
type AuditConfig struct {
	Schedule string `yaml:"schedule" env:"BALANCE_AUDIT_SCHEDULE"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Ledger: LedgerConfig{
			Network:         "testnet",
			ExplorerBaseURL: ledger.DefaultExplorerBaseURL,
			TokenID:         DefaultTokenID,
			RequestTimeout:  2 * time.Minute,
		},
		Topic: TopicConfig{
			Store:       "memory",
			StorePath:   filepath.Join("data", "relay-store.json"),
			RedisPrefix: "hcs-relay:",
			Memo:        "whistleblower reports",
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			RateLimitRPS:    10,
			RateLimitBurst:  20,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    3 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads every configuration source and validates the result.
func Load() (Config, error) {
	envFile := os.Getenv(EnvFileVar)
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	cfg := Default()
	if path := os.Getenv(ConfigFileVar); path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return Config{}, err
		}
	}

	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) normalize() {
	c.Ledger.Network = strings.ToLower(strings.TrimSpace(c.Ledger.Network))
	c.Topic.Store = strings.ToLower(strings.TrimSpace(c.Topic.Store))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
}

// Validate reports the first configuration problem found.
func (c Config) Validate() error {
	switch c.Ledger.Network {
	case "testnet", "mainnet", "previewnet":
		if c.Ledger.OperatorAccountID == "" || c.Ledger.OperatorPrivateKey == "" {
			return fmt.Errorf("OPERATOR_ACCOUNT_ID and OPERATOR_PRIVATE_KEY are required for network %s", c.Ledger.Network)
		}
		if _, err := c.Operator(); err != nil {
			return err
		}
	case NetworkMemory:
		if c.Ledger.OperatorAccountID != "" || c.Ledger.OperatorPrivateKey != "" {
			if _, err := c.Operator(); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unsupported LEDGER_NETWORK %q", c.Ledger.Network)
	}

	if _, err := c.Token(); err != nil {
		return err
	}

	switch c.Topic.Store {
	case "memory":
	case "file":
		if c.Topic.StorePath == "" {
			return errors.New("TOPIC_STORE_PATH is required for the file store")
		}
	case "redis":
		if c.Topic.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required for the redis store")
		}
	case "postgres":
		if c.Topic.DatabaseDSN == "" {
			return errors.New("DATABASE_DSN is required for the postgres store")
		}
	default:
		return fmt.Errorf("unsupported TOPIC_STORE %q", c.Topic.Store)
	}

	if c.HTTP.RateLimitRPS < 0 || c.HTTP.RateLimitBurst < 0 {
		return errors.New("rate limit settings must not be negative")
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unsupported LOG_FORMAT %q", c.Log.Format)
	}
	return nil
}

// IsMemory reports whether the relay runs against the in-process ledger.
func (c Config) IsMemory() bool { return c.Ledger.Network == NetworkMemory }

// Operator parses the operator identity.
func (c Config) Operator() (ledger.Identity, error) {
	account, err := ledger.ParseAccountID(c.Ledger.OperatorAccountID)
	if err != nil {
		return ledger.Identity{}, fmt.Errorf("OPERATOR_ACCOUNT_ID: %w", err)
	}
	key, err := ledger.ParsePrivateKey(c.Ledger.OperatorPrivateKey)
	if err != nil {
		return ledger.Identity{}, fmt.Errorf("OPERATOR_PRIVATE_KEY: %w", err)
	}
	return ledger.Identity{Account: account, Key: key}, nil
}

// Token parses the default token id.
func (c Config) Token() (ledger.TokenID, error) {
	id, err := ledger.ParseTokenID(c.Ledger.TokenID)
	if err != nil {
		return ledger.TokenID{}, fmt.Errorf("TOKEN_ID: %w", err)
	}
	return id, nil
}

// AllowedOrigins splits the comma separated CORS origin list.
func (c Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.HTTP.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
