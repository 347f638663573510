package config

import "errors"

var (
	ErrMissingProviderToken = errors.New("provider token is required")
	ErrMissingProviderType  = errors.New("provider type is required")
)
