package config

import "strings"

// ConfigError reports an invalid or unreadable configuration.
// It is fatal: the pipeline must not start with it.
type ConfigError struct {
	Problems []string
	Err      error
}

func (e *ConfigError) Error() string {
	if len(e.Problems) == 0 {
		return "invalid configuration"
	}
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
