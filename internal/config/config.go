// Package config loads service settings from defaults, an optional YAML file, BIDDING_* environment
// variables and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "BIDDING"

// Storage drivers
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Arbiter   ArbiterConfig   `mapstructure:"arbiter"`
	Auction   AuctionConfig   `mapstructure:"auction"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Fanout    FanoutConfig    `mapstructure:"fanout"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Seed      SeedConfig      `mapstructure:"seed"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn warning error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=memory postgres mongo"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// RedisConfig enables the event relay when URI is set
type RedisConfig struct {
	URI           string `mapstructure:"uri"`
	Password      string `mapstructure:"password"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

type ArbiterConfig struct {
	PersistAttempts int           `mapstructure:"persist_attempts" validate:"min=1,max=10"`
	PersistBackoff  time.Duration `mapstructure:"persist_backoff" validate:"gte=0"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval" validate:"gte=0"`
	SweepWorkers    int           `mapstructure:"sweep_workers" validate:"min=1"`
}

type AuctionConfig struct {
	MinBidIncrement float64       `mapstructure:"min_bid_increment" validate:"gt=0"`
	ExtendWindow    time.Duration `mapstructure:"extend_window" validate:"gte=0"`
	AutoExtend      bool          `mapstructure:"auto_extend"`
}

type RateLimitConfig struct {
	BidsPerMinute int `mapstructure:"bids_per_minute" validate:"gte=0"`
	Burst         int `mapstructure:"burst" validate:"gte=0"`
}

type FanoutConfig struct {
	BufferSize int `mapstructure:"buffer_size" validate:"min=1"`
}

type DirectoryConfig struct {
	ViewCacheMB int           `mapstructure:"view_cache_mb" validate:"min=1"`
	ViewTTL     time.Duration `mapstructure:"view_ttl" validate:"gt=0"`
}

type SeedConfig struct {
	Demo bool `mapstructure:"demo"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "live_bidding")
	v.SetDefault("redis.uri", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.channel_prefix", "bidding:")
	v.SetDefault("arbiter.persist_attempts", 3)
	v.SetDefault("arbiter.persist_backoff", 50*time.Millisecond)
	v.SetDefault("arbiter.sweep_interval", time.Second)
	v.SetDefault("arbiter.sweep_workers", 8)
	v.SetDefault("auction.min_bid_increment", 10.0)
	v.SetDefault("auction.extend_window", 5*time.Minute)
	v.SetDefault("auction.auto_extend", true)
	v.SetDefault("ratelimit.bids_per_minute", 10)
	v.SetDefault("ratelimit.burst", 10)
	v.SetDefault("fanout.buffer_size", 64)
	v.SetDefault("directory.view_cache_mb", 4)
	v.SetDefault("directory.view_ttl", 5*time.Minute)
	v.SetDefault("seed.demo", false)
}

// Load parses args (without the program name) and builds a validated Config
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("live-bidding", pflag.ContinueOnError)
	configFile := fs.StringP("config", "c", "", "path to a YAML config file")
	fs.IntP("port", "p", 0, "HTTP listen port")
	fs.String("storage", "", "ledger driver: memory, postgres or mongo")
	fs.Bool("seed-demo", false, "pre-populate demo auctions")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("config: parse flags: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, flag := range map[string]string{
		"server.port":    "port",
		"storage.driver": "storage",
		"seed.demo":      "seed-demo",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, fmt.Errorf("config: bind flag %s: %w", flag, err)
		}
	}

	if *configFile != "" {
		v.SetConfigType("yaml")
		v.SetConfigFile(*configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", *configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and the settings each storage driver needs
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch c.Storage.Driver {
	case DriverPostgres:
		if c.Postgres.DSN == "" {
			return errors.New("config: postgres.dsn is required for the postgres driver")
		}
	case DriverMongo:
		if c.Mongo.URI == "" || c.Mongo.Database == "" {
			return errors.New("config: mongo.uri and mongo.database are required for the mongo driver")
		}
	}
	return nil
}
