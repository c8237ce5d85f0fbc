package secret

import "errors"

var (
	// ErrProviderNotRegistered is returned for references to unknown providers.
	ErrProviderNotRegistered = errors.New("secret: provider not registered")

	// ErrProviderExists is returned when a provider name is registered twice.
	ErrProviderExists = errors.New("secret: provider already registered")

	// ErrInvalidRegistration is returned for an empty name or nil factory.
	ErrInvalidRegistration = errors.New("secret: invalid provider registration")

	// ErrEmptyRef is returned for a reference with no provider or no ref.
	ErrEmptyRef = errors.New("secret: empty reference")

	// ErrEmptyValue is returned by a strict resolver when a secret is empty.
	ErrEmptyValue = errors.New("secret: empty value")

	// ErrNotFound is returned when a provider has no value for a ref.
	ErrNotFound = errors.New("secret: not found")

	// ErrMissingEnv is returned by ExpandEnvStrict for unset ${VAR} references.
	ErrMissingEnv = errors.New("secret: missing required environment variables")
)
