// Package provider creates the VCS source the engine reads diffs and blame
// from. GitHub and GitLab are supported; both map their raw failures onto
// the model error taxonomy.
package provider

import (
	"github.com/maxbolgarin/erro"

	"github.com/coursetrack/survival/internal/model"
	"github.com/coursetrack/survival/internal/model/interfaces"
	"github.com/coursetrack/survival/internal/provider/github"
	"github.com/coursetrack/survival/internal/provider/gitlab"
)

// Source is a full VCS view: patches plus current content and blame
type Source interface {
	interfaces.DiffSource
	interfaces.BlameSource
}

// NewSource creates a new VCS source based on the configuration
func NewSource(cfg Config) (Source, error) {
	if err := cfg.PrepareAndValidate(); err != nil {
		return nil, erro.Wrap(err, "validate config")
	}

	cfgForProvider := model.ProviderConfig{
		BaseURL: cfg.BaseURL,
		Token:   cfg.Token,
	}

	var source Source
	var err error

	switch cfg.Type {
	case GitHub:
		source, err = github.New(cfgForProvider)
	case GitLab:
		source, err = gitlab.New(cfgForProvider)
	default:
		return nil, erro.New("unsupported provider type: %s", cfg.Type)
	}
	if err != nil {
		return nil, erro.Wrap(err, "failed to create provider")
	}

	return source, nil
}
