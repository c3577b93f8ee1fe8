package storage

import "errors"

// Common storage errors
var (
	// ErrUserNotFound indicates that user was not found in storage
	ErrUserNotFound = errors.New("user not found")

	// ErrUserAlreadyExists indicates that user with this username already exists
	ErrUserAlreadyExists = errors.New("user already exists")

	// ErrTokenNotFound indicates that refresh token was not found
	ErrTokenNotFound = errors.New("refresh token not found")

	// ErrEntityNotFound indicates that entity version record was not found
	ErrEntityNotFound = errors.New("entity not found")

	// ErrVersionMismatch indicates that compare-and-swap on the entity version
	// failed: another writer advanced the version first
	ErrVersionMismatch = errors.New("entity version mismatch")

	// ErrConflictNotFound indicates that sync conflict was not found
	ErrConflictNotFound = errors.New("conflict not found")

	// ErrConflictResolved indicates that sync conflict is already resolved
	ErrConflictResolved = errors.New("conflict already resolved")
)
