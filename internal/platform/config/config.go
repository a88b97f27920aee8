package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "FAMILYLEDGER_"

// Config is the full runtime configuration. Values are resolved in order:
// defaults, then the YAML file named by FAMILYLEDGER_CONFIG, then
// FAMILYLEDGER_* environment variables.
type Config struct {
	Server   Server   `yaml:"server"`
	Database Database `yaml:"database"`
	Keys     Keys     `yaml:"keys"`
	Ledger   Ledger   `yaml:"ledger"`
	Audit    Audit    `yaml:"audit"`
	Log      Log      `yaml:"log"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

type Database struct {
	Path    string `yaml:"path"`
	LogMode bool   `yaml:"log_mode"`
}

// Keys configures the installation key slot. The passphrase itself is never
// read from the file: PassphraseEnv names the variable that holds it.
type Keys struct {
	Path          string `yaml:"path"`
	PassphraseEnv string `yaml:"passphrase_env"`
	Algorithm     string `yaml:"algorithm"`
}

type Ledger struct {
	TimeZone string `yaml:"time_zone"`
}

type Audit struct {
	AsyncBuffer      int           `yaml:"async_buffer"`
	CircuitThreshold int           `yaml:"circuit_threshold"`
	CircuitCooldown  time.Duration `yaml:"circuit_cooldown"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is overridden. Data
// lives under dataDir; the key sits beside the database but in its own file.
func Default(dataDir string) Config {
	return Config{
		Server: Server{
			Addr:              "127.0.0.1:8080",
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Database: Database{Path: filepath.Join(dataDir, "ledger.db")},
		Keys: Keys{
			Path:          filepath.Join(dataDir, "keys", "master.key"),
			PassphraseEnv: EnvPrefix + "KEY_PASSPHRASE",
			Algorithm:     "aes-256-gcm",
		},
		Ledger: Ledger{TimeZone: "Local"},
		Audit: Audit{
			AsyncBuffer:      256,
			CircuitThreshold: 5,
			CircuitCooldown:  time.Minute,
		},
		Log: Log{Level: "info", Format: "json"},
	}
}

// Load resolves the configuration from defaults, file and environment.
func Load() (Config, error) {
	return load(os.LookupEnv)
}

func load(lookup func(string) (string, bool)) (Config, error) {
	dataDir, ok := lookup(EnvPrefix + "DATA_DIR")
	if !ok || dataDir == "" {
		dataDir = "data"
	}
	cfg := Default(dataDir)

	if path, ok := lookup(EnvPrefix + "CONFIG"); ok && path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	str("ADDR", &cfg.Server.Addr)
	str("DB_PATH", &cfg.Database.Path)
	str("KEY_PATH", &cfg.Keys.Path)
	str("KEY_PASSPHRASE_ENV", &cfg.Keys.PassphraseEnv)
	str("CIPHER", &cfg.Keys.Algorithm)
	str("TIME_ZONE", &cfg.Ledger.TimeZone)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)

	if v, ok := lookup(EnvPrefix + "DB_LOG"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sDB_LOG: %w", EnvPrefix, err)
		}
		cfg.Database.LogMode = b
	}
	ints := map[string]*int{
		"AUDIT_ASYNC_BUFFER":      &cfg.Audit.AsyncBuffer,
		"AUDIT_CIRCUIT_THRESHOLD": &cfg.Audit.CircuitThreshold,
	}
	for name, dst := range ints {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*dst = n
		}
	}
	durations := map[string]*time.Duration{
		"AUDIT_CIRCUIT_COOLDOWN": &cfg.Audit.CircuitCooldown,
		"READ_HEADER_TIMEOUT":    &cfg.Server.ReadHeaderTimeout,
		"READ_TIMEOUT":           &cfg.Server.ReadTimeout,
		"WRITE_TIMEOUT":          &cfg.Server.WriteTimeout,
		"IDLE_TIMEOUT":           &cfg.Server.IdleTimeout,
		"SHUTDOWN_TIMEOUT":       &cfg.Server.ShutdownTimeout,
	}
	for name, dst := range durations {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*dst = d
		}
	}
	return nil
}

// Validate rejects configurations the binary cannot start with.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server addr is required")
	}
	if c.Server.ReadHeaderTimeout < 0 || c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 || c.Server.IdleTimeout < 0 {
		return fmt.Errorf("server timeouts must not be negative")
	}
	if c.Database.Path == "" || c.Keys.Path == "" {
		return fmt.Errorf("database and key paths are required")
	}
	if filepath.Clean(c.Database.Path) == filepath.Clean(c.Keys.Path) {
		return fmt.Errorf("key path must differ from database path")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log format must be json or text, got %q", c.Log.Format)
	}
	if c.Audit.AsyncBuffer < 0 {
		return fmt.Errorf("audit async buffer must not be negative")
	}
	return nil
}

// Location resolves Ledger.TimeZone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Ledger.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", c.Ledger.TimeZone, err)
	}
	return loc, nil
}

// KeyPassphrase returns the passphrase from the environment variable named
// by Keys.PassphraseEnv, or "" when unset.
func (c Config) KeyPassphrase() string {
	if c.Keys.PassphraseEnv == "" {
		return ""
	}
	return os.Getenv(c.Keys.PassphraseEnv)
}
