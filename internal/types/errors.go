package types

import "fmt"

// ConfigError reports an unusable input configuration: a missing input file
// or a column mapping that cannot be resolved. Configuration errors are
// fatal and surface before any output is produced.
type ConfigError struct {
	Input  string // the file or descriptor the error refers to
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error in %s: %s", e.Input, e.Reason)
}

// Configf builds a ConfigError with a formatted reason.
func Configf(input, format string, args ...interface{}) error {
	return &ConfigError{Input: input, Reason: fmt.Sprintf(format, args...)}
}

// ParseError reports a malformed mapping descriptor. Parse errors are fatal
// and surface before any output is produced.
type ParseError struct {
	Input string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error in %s: %v", e.Input, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
