package config

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigNotFound indicates the configuration file was not found.
	ErrConfigNotFound = errors.New("configuration file not found")

	// ErrInvalidYAML indicates YAML parsing failed.
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// ErrMissingRequiredField indicates a required field is missing.
	ErrMissingRequiredField = errors.New("missing required field")

	// ErrInvalidValue indicates a field has an invalid value.
	ErrInvalidValue = errors.New("invalid field value")
)

// ValidationError wraps configuration validation errors with context.
type ValidationError struct {
	Section string // section being validated (llm, budget, specialist, ...)
	Field   string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: field '%s': %v", e.Section, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Section, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func newValidationError(section, field string, err error) *ValidationError {
	return &ValidationError{Section: section, Field: field, Err: err}
}
