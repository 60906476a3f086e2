package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/zapgo/zapgo/internal/hash"
)

const (
	BackendBolt     = "bolt"
	BackendPostgres = "postgres"
)

type Config struct {
	Node     NodeConfig     `mapstructure:"node"`
	Store    StoreConfig    `mapstructure:"store"`
	Database DatabaseConfig `mapstructure:"database"`
	Hash     HashConfig     `mapstructure:"hash"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	CDC      CDCConfig      `mapstructure:"cdc"`
	Trip     TripConfig     `mapstructure:"trip"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Log      LogConfig      `mapstructure:"log"`
}

type NodeConfig struct {
	ID      string `mapstructure:"id"`
	DataDir string `mapstructure:"data_dir"`
}

type StoreConfig struct {
	Backend string `mapstructure:"backend"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

type HashConfig struct {
	Algorithm string `mapstructure:"algorithm"`
}

type LedgerConfig struct {
	VerifyInterval string `mapstructure:"verify_interval"`
}

type CDCConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	SlotName        string `mapstructure:"slot_name"`
	PublicationName string `mapstructure:"publication_name"`
}

type TripConfig struct {
	DefaultRangeKm     float64 `mapstructure:"default_range_km"`
	FixedChargeMinutes int     `mapstructure:"fixed_charge_minutes"`
	DynamicCharge      bool    `mapstructure:"dynamic_charge"`
}

type AlertsConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	SlackWebhook string `mapstructure:"slack_webhook"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if expanded := os.ExpandEnv(val); expanded != val {
			v.Set(key, expanded)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Node.ID == "" {
		c.Node.ID = "zapgo"
	}
	if c.Node.DataDir == "" {
		return fmt.Errorf("node.data_dir is required")
	}

	if c.Store.Backend == "" {
		c.Store.Backend = BackendBolt
	}
	switch c.Store.Backend {
	case BackendBolt, BackendPostgres:
	default:
		return fmt.Errorf("invalid store backend: %s (valid options: bolt, postgres)", c.Store.Backend)
	}

	if c.Store.Backend == BackendPostgres || c.CDC.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database.database is required")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database.user is required")
		}
		if c.Database.Port == 0 {
			c.Database.Port = 5432
		}
	}

	if c.CDC.Enabled && c.Store.Backend != BackendPostgres {
		return fmt.Errorf("cdc.enabled requires store.backend=postgres")
	}
	if c.CDC.SlotName == "" {
		c.CDC.SlotName = "zapgo_" + c.Node.ID
	}
	if c.CDC.PublicationName == "" {
		c.CDC.PublicationName = "zapgo_ledger"
	}

	if c.Hash.Algorithm == "" {
		c.Hash.Algorithm = string(hash.Rolling31)
	}
	if !hash.Valid(hash.Algorithm(c.Hash.Algorithm)) {
		return fmt.Errorf("invalid hash algorithm: %s (valid options: rolling31, sha256, blake2b_256)", c.Hash.Algorithm)
	}

	if c.Ledger.VerifyInterval != "" {
		if _, err := time.ParseDuration(c.Ledger.VerifyInterval); err != nil {
			return fmt.Errorf("invalid ledger.verify_interval: %w", err)
		}
	}

	if c.Trip.DefaultRangeKm == 0 {
		c.Trip.DefaultRangeKm = 250
	}
	if c.Trip.DefaultRangeKm < 1 || c.Trip.DefaultRangeKm > 2000 {
		return fmt.Errorf("trip.default_range_km must be between 1 and 2000")
	}
	if c.Trip.FixedChargeMinutes == 0 {
		c.Trip.FixedChargeMinutes = 30
	}

	if c.Alerts.Enabled && c.Alerts.SlackWebhook == "" {
		return fmt.Errorf("alerts.slack_webhook is required when alerts are enabled")
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	return nil
}

// BoltPath is the embedded store file under the data directory.
func (c *Config) BoltPath() string {
	return filepath.Join(c.Node.DataDir, "zapgo.db")
}

// VerifyInterval returns zero when periodic audits are disabled.
func (c *Config) VerifyInterval() time.Duration {
	if c.Ledger.VerifyInterval == "" {
		return 0
	}
	d, _ := time.ParseDuration(c.Ledger.VerifyInterval)
	return d
}

func (d *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		d.Host, d.Port, d.Database, d.User, d.Password)
}
