package persistent

import "errors"

var (
	// ErrDuplicateRegistration is returned when a store name is registered twice.
	ErrDuplicateRegistration = errors.New("store already registered")
	// ErrNotFound is returned for lookups of stores that were never registered.
	ErrNotFound = errors.New("store not found")
	// ErrUnknownKey is returned when a key is not declared by the store schema.
	ErrUnknownKey = errors.New("unknown key")
	// ErrInvalidValue is returned when a value does not match the declared kind.
	ErrInvalidValue = errors.New("invalid value")
	// ErrNotPrimary is returned when a primary-only operation runs on a secondary.
	ErrNotPrimary = errors.New("operation requires the primary process")
	// ErrNotSecondary is returned when a secondary-only operation runs on the primary.
	ErrNotSecondary = errors.New("operation requires a secondary process")
	// ErrRegistryClosed is returned by Register once Init has run.
	ErrRegistryClosed = errors.New("registry already initialized")
	// ErrPersistence wraps failures writing a store file.
	ErrPersistence = errors.New("persisting store")
	// ErrRemoteCall wraps failures of the update call to the primary.
	ErrRemoteCall = errors.New("remote update call")
)
