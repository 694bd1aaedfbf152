package services

import "fmt"

// ConfigurationError is fatal: a run that fails configuration validation
// aborts before writing any output. Per-ticker errors never use this type.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}
