package provider

import (
	"github.com/maxbolgarin/errm"
)

// Type is a supported VCS provider kind
type Type string

const (
	GitHub Type = "github"
	GitLab Type = "gitlab"
)

// Config represents VCS provider configuration
type Config struct {
	Type    Type   `yaml:"type" env:"PROVIDER_TYPE"`
	BaseURL string `yaml:"base_url" env:"PROVIDER_BASE_URL"`
	Token   string `yaml:"token" env:"PROVIDER_TOKEN"`
}

func (cfg *Config) PrepareAndValidate() error {
	if cfg.Type == "" {
		return errm.New("provider type is required")
	}
	if cfg.Token == "" {
		return errm.New("provider token is required")
	}
	return nil
}
