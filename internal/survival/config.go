package survival

import (
	"time"

	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/lang"
)

const (
	defaultWorkers          = 4
	defaultMaxAttempts      = 3
	defaultRetryBackoff     = 2 * time.Second
	defaultRateLimitBackoff = 30 * time.Second
	defaultCallTimeout      = 30 * time.Second

	maxWorkers = 32
)

// Config represents analysis engine configuration
type Config struct {
	// Workers bounds the number of PRs analyzed in parallel
	Workers int `yaml:"workers" env:"ANALYSIS_WORKERS"`

	// MaxAttempts is the retry budget for one provider call
	MaxAttempts int `yaml:"max_attempts" env:"ANALYSIS_MAX_ATTEMPTS"`

	// RetryBackoff is the base backoff for transient errors, doubled per attempt
	RetryBackoff time.Duration `yaml:"retry_backoff" env:"ANALYSIS_RETRY_BACKOFF"`

	// RateLimitBackoff replaces RetryBackoff when the provider rate-limits us
	RateLimitBackoff time.Duration `yaml:"rate_limit_backoff" env:"ANALYSIS_RATE_LIMIT_BACKOFF"`

	// CallTimeout bounds every single call to DiffSource/BlameSource
	CallTimeout time.Duration `yaml:"call_timeout" env:"ANALYSIS_CALL_TIMEOUT"`

	// TrimWhitespace matches lines ignoring surrounding whitespace
	TrimWhitespace bool `yaml:"trim_whitespace" env:"ANALYSIS_TRIM_WHITESPACE"`

	// ContentOnlyMatch disables the commit-lineage requirement and matches
	// purely by content
	ContentOnlyMatch bool `yaml:"content_only_match" env:"ANALYSIS_CONTENT_ONLY_MATCH"`
}

func (cfg *Config) PrepareAndValidate() error {
	cfg.Workers = lang.Check(cfg.Workers, defaultWorkers)
	cfg.MaxAttempts = lang.Check(cfg.MaxAttempts, defaultMaxAttempts)
	cfg.RetryBackoff = lang.Check(cfg.RetryBackoff, defaultRetryBackoff)
	cfg.RateLimitBackoff = lang.Check(cfg.RateLimitBackoff, defaultRateLimitBackoff)
	cfg.CallTimeout = lang.Check(cfg.CallTimeout, defaultCallTimeout)

	if cfg.Workers < 0 || cfg.Workers > maxWorkers {
		return errm.Errorf("workers must be in [1, %d], got %d", maxWorkers, cfg.Workers)
	}

	return nil
}

// MatchOptions builds resolver options from the config
func (cfg Config) MatchOptions() MatchOptions {
	return MatchOptions{
		TrimWhitespace:     cfg.TrimWhitespace,
		RequireCommitMatch: !cfg.ContentOnlyMatch,
	}
}
