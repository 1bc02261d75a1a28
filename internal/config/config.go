package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

const envPrefix = "TIS_"

// Config is the full service configuration, loaded from a yaml file with
// TIS_-prefixed environment overrides (TIS_HTTP_PORT, TIS_DATABASE_DSN, ...).
type Config struct {
	Env struct {
		ServiceName string `koanf:"serviceName"`
		Debug       bool   `koanf:"debug"`
		Log         struct {
			Level  string `koanf:"level"`
			Pretty bool   `koanf:"pretty"`
		} `koanf:"log"`
	} `koanf:"env"`

	HTTP struct {
		Port        int           `koanf:"port"`
		MetricsPort int           `koanf:"metricsPort"`
		Timeout     time.Duration `koanf:"timeout"`
	} `koanf:"http"`

	Database struct {
		DSN             string        `koanf:"dsn"`
		MaxConns        int32         `koanf:"maxConns"`
		MinConns        int32         `koanf:"minConns"`
		MaxConnLifetime time.Duration `koanf:"maxConnLifetime"`
		MaxConnIdleTime time.Duration `koanf:"maxConnIdleTime"`
	} `koanf:"database"`

	Redis struct {
		Enabled  bool   `koanf:"enabled"`
		Addr     string `koanf:"addr"`
		Password string `koanf:"password"`
		DB       int    `koanf:"db"`
	} `koanf:"redis"`

	Auth struct {
		SigningKey string `koanf:"signingKey"`
	} `koanf:"auth"`

	Crypto struct {
		EmailKey string `koanf:"emailKey"` // 32-byte AES key for contact emails
	} `koanf:"crypto"`
}

// Load reads the configuration file at path and applies environment
// overrides. A missing file is not an error when overrides supply
// everything; a malformed file is.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !os.IsNotExist(errors.Cause(err)) {
			return nil, errors.Wrap(err, "load config file")
		}
	}

	e := env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
			return strings.ReplaceAll(key, "_", "."), value
		},
	})
	if err := k.Load(e, nil); err != nil {
		return nil, errors.Wrap(err, "load env overrides")
	}

	cfg := defaults()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if cfg.Database.DSN == "" {
		return nil, errors.New("database.dsn is required")
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.Env.ServiceName = "tenant-integrity-service"
	cfg.Env.Log.Level = "info"
	cfg.HTTP.Port = 8080
	cfg.HTTP.MetricsPort = 8081
	cfg.HTTP.Timeout = 30 * time.Second
	cfg.Database.MaxConns = 20
	cfg.Database.MinConns = 5
	cfg.Database.MaxConnLifetime = 30 * time.Minute
	cfg.Database.MaxConnIdleTime = 5 * time.Minute
	cfg.Redis.Addr = "localhost:6379"
	return cfg
}
