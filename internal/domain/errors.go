package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidPrompt     = errors.New("invalid prompt")
	ErrInvalidDuration   = errors.New("invalid duration")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrEmptyFragment     = errors.New("empty scene fragment")
	ErrJobCancelled      = errors.New("job cancelled")
	ErrProviderFailure   = errors.New("provider failure")
	ErrNoScenesSucceeded = errors.New("no scenes succeeded")
	ErrSchemaMismatch    = errors.New("model response did not match expected schema")
)
