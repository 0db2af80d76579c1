package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a record doesn't exist
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a record already exists for its natural key
	ErrDuplicate = errors.New("duplicate record")

	// ErrInvalid marks input rejected by a business rule rather than by struct validation
	ErrInvalid = errors.New("invalid input")
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ConfigurationError reports a program that lacks the rules needed to process a conversion
type ConfigurationError struct {
	ProgramID string
	Missing   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("program %s is missing %s", e.ProgramID, e.Missing)
}

// InvalidTransitionError reports a disallowed state machine edge
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition for %s: %s -> %s", e.Entity, e.ID, e.From, e.To)
}

// ExternalLookupError reports that a collaborator lookup was unavailable.
// The caller is expected to defer and retry the whole operation.
type ExternalLookupError struct {
	Lookup string
	Err    error
}

func (e *ExternalLookupError) Error() string {
	return fmt.Sprintf("%s lookup failed: %v", e.Lookup, e.Err)
}

func (e *ExternalLookupError) Unwrap() error {
	return e.Err
}
