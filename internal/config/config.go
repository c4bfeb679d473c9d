package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "CITYQUEST"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabasePath  = "cityquest.db"
	defaultLogLevel      = "info"
	defaultTokenTTL      = 60
	defaultGeoCellScale  = 100
	defaultWorkerCount   = 4
	defaultWorkerBacklog = 64
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress   string
	SigningSecret string
	TokenTTL      time.Duration
	DatabasePath  string
	LogLevel      string
	GeoCellScale  int
	WorkerCount   int
	WorkerBacklog int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTL)
	configViper.SetDefault("geo.cell_scale", defaultGeoCellScale)
	configViper.SetDefault("workers.count", defaultWorkerCount)
	configViper.SetDefault("workers.backlog", defaultWorkerBacklog)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		TokenTTL:      time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		DatabasePath:  configViper.GetString("database.path"),
		LogLevel:      configViper.GetString("log.level"),
		GeoCellScale:  configViper.GetInt("geo.cell_scale"),
		WorkerCount:   configViper.GetInt("workers.count"),
		WorkerBacklog: configViper.GetInt("workers.backlog"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	if c.GeoCellScale <= 0 {
		return fmt.Errorf("geo.cell_scale must be positive")
	}
	if c.WorkerCount <= 0 {
		return fmt.Errorf("workers.count must be positive")
	}
	if c.WorkerBacklog <= 0 {
		return fmt.Errorf("workers.backlog must be positive")
	}
	return nil
}
