// Package config loads the service configuration from YAML with environment
// overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings such as
// "30s" or "2m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full service configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Stellar     StellarConfig     `yaml:"stellar"`
	Checkout    CheckoutConfig    `yaml:"checkout"`
	Submission  SubmissionConfig  `yaml:"submission"`
	Entitlement EntitlementConfig `yaml:"entitlement"`
	Renewal     RenewalConfig     `yaml:"renewal"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DatabaseConfig selects the persistence backend. An empty DSN runs on the
// in-memory store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig selects the entitlement cache backend. An empty address runs on
// the in-process LRU cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type StellarConfig struct {
	HorizonURL        string  `yaml:"horizon_url"`
	SorobanURL        string  `yaml:"soroban_url"`
	NetworkPassphrase string  `yaml:"network_passphrase"`
	ContractID        string  `yaml:"contract_id"`
	BaseFee           int64    `yaml:"base_fee"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	Timeout           Duration `yaml:"timeout"`
}

type CheckoutConfig struct {
	PlatformFeeBps int      `yaml:"platform_fee_bps"`
	SessionTTL     Duration `yaml:"session_ttl"`
}

type SubmissionConfig struct {
	InitialPollInterval Duration `yaml:"initial_poll_interval"`
	MaxPollInterval     Duration `yaml:"max_poll_interval"`
	PollBudget          Duration `yaml:"poll_budget"`
	TransientAttempts   int           `yaml:"transient_attempts"`
}

type EntitlementConfig struct {
	CacheTTL  Duration `yaml:"cache_ttl"`
	CacheSize int           `yaml:"cache_size"`
}

type RenewalConfig struct {
	Schedule  string        `yaml:"schedule"`
	Lookahead Duration `yaml:"lookahead"`
}

// Default returns the testnet development configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Stellar: StellarConfig{
			HorizonURL:        "https://horizon-testnet.stellar.org",
			SorobanURL:        "https://soroban-testnet.stellar.org",
			NetworkPassphrase: "Test SDF Network ; September 2015",
			BaseFee:           100_000,
			RequestsPerSecond: 10,
			Timeout:           Duration(30 * time.Second),
		},
		Checkout: CheckoutConfig{
			PlatformFeeBps: 250,
			SessionTTL:     Duration(30 * time.Minute),
		},
		Submission: SubmissionConfig{
			InitialPollInterval: Duration(2 * time.Second),
			MaxPollInterval:     Duration(15 * time.Second),
			PollBudget:          Duration(2 * time.Minute),
			TransientAttempts:   3,
		},
		Entitlement: EntitlementConfig{
			CacheTTL:  Duration(30 * time.Second),
			CacheSize: 4096,
		},
		Renewal: RenewalConfig{
			Schedule:  "@every 5m",
			Lookahead: Duration(time.Hour),
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. A missing file is not an error; env-only
// deployments are supported.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):

		default:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("HORIZON_URL"); v != "" {
		c.Stellar.HorizonURL = v
	}
	if v := os.Getenv("SOROBAN_RPC_URL"); v != "" {
		c.Stellar.SorobanURL = v
	}
	if v := os.Getenv("NETWORK_PASSPHRASE"); v != "" {
		c.Stellar.NetworkPassphrase = v
	}
	if v := os.Getenv("SUBSCRIPTION_CONTRACT_ID"); v != "" {
		c.Stellar.ContractID = v
	}
}

// Validate rejects configurations the service could not run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d is out of range", c.Server.Port)
	}
	if c.Stellar.HorizonURL == "" {
		return fmt.Errorf("stellar horizon_url is required")
	}
	if c.Stellar.SorobanURL == "" {
		return fmt.Errorf("stellar soroban_url is required")
	}
	if c.Stellar.NetworkPassphrase == "" {
		return fmt.Errorf("stellar network_passphrase is required")
	}
	if c.Stellar.ContractID == "" {
		return fmt.Errorf("stellar contract_id is required")
	}
	return nil
}

// Addr returns the host:port the HTTP server binds to.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
