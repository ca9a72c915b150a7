package model

import "fmt"

// ConfigError reports an invalid policy or input. It is the only error
// class surfaced directly by the orchestration entry point; everything
// else is captured per host.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}
