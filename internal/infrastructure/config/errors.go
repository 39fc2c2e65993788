package config

import "errors"

// Sentinel errors for configuration handling.
// Wrap these with fmt.Errorf("%w: detail", Err...) to add context.
var (
	// ErrValidation indicates the configuration failed structural validation.
	ErrValidation = errors.New("config: validation failed")

	// ErrSnapshot indicates a snapshot could not be built from the
	// configuration, typically due to cross-reference errors.
	ErrSnapshot = errors.New("config: snapshot build failed")
)
