package config

import (
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/maxbolgarin/errm"

	"github.com/coursetrack/survival/internal/provider"
	"github.com/coursetrack/survival/internal/server"
	"github.com/coursetrack/survival/internal/store"
	"github.com/coursetrack/survival/internal/survival"
)

// Config represents the main application configuration
type Config struct {
	Server   server.Config   `yaml:"server"`
	Provider provider.Config `yaml:"provider"`
	Store    store.Config    `yaml:"store"`
	Analysis survival.Config `yaml:"analysis"`
}

// Load reads configuration from a YAML file overlaid with environment
// variables; with an empty path only the environment is used
func Load(path string) (Config, error) {
	var cfg Config

	if path == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return cfg, errm.Wrap(err, "failed to read environment")
		}
		return cfg, nil
	}

	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return cfg, errm.Wrap(err, "failed to read config file")
	}
	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Provider.Type == "" {
		return ErrMissingProviderType
	}
	if c.Provider.Token == "" {
		return ErrMissingProviderToken
	}
	return nil
}
