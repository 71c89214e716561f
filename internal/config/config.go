package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration, loaded once at startup.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	MySQL  MySQLConfig  `mapstructure:"mysql"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Kafka  KafkaConfig  `mapstructure:"kafka"`
	Ledger LedgerConfig `mapstructure:"ledger"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers       []string         `mapstructure:"brokers"`
	ConsumerGroup string           `mapstructure:"consumer_group"`
	Topic         KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	TransferPrepare string `mapstructure:"transfer_prepare"`
	TransferFulfil  string `mapstructure:"transfer_fulfil"`
	Notification    string `mapstructure:"notification"`
}

// LedgerConfig selects the account-store backend and carries the business
// parameters shared by both backends.
type LedgerConfig struct {
	// Backend is "relational" or "doubleentry".
	Backend string `mapstructure:"backend"`

	// CurrencyScales maps a currency code to the number of decimal places of
	// its smallest unit, e.g. USD: 2, JPY: 0.
	CurrencyScales map[string]uint8 `mapstructure:"currency_scales"`

	TransferExpirySeconds int `mapstructure:"transfer_expiry_seconds"`
	SweepIntervalSeconds  int `mapstructure:"sweep_interval_seconds"`
	SweepBatchSize        int `mapstructure:"sweep_batch_size"`
	MaxNotifyRetry        int `mapstructure:"max_notify_retry"`

	// Batching parameters for the double-entry accounting engine backend.
	BatchSize       int `mapstructure:"batch_size"`
	BatchIntervalMS int `mapstructure:"batch_interval_ms"`
}

func (c *LedgerConfig) TransferExpiry() time.Duration {
	return time.Duration(c.TransferExpirySeconds) * time.Second
}

func (c *LedgerConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func (c *LedgerConfig) BatchInterval() time.Duration {
	return time.Duration(c.BatchIntervalMS) * time.Millisecond
}

// LoadConfig reads and parses the yaml config file, exiting on failure.
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("failed to read config file: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("failed to parse config file: %v", err)
	}

	return config
}
