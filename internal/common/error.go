// Package common defines shared constants and sentinel errors used across
// the server, the HTTP layer and the CLI client. Callers should use errors.Is
// to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level input validation.
	ErrorValidation = errors.New("validation error")

	// ErrPersistence wraps any failure on the transactional write path.
	ErrPersistence = errors.New("persistence failure")

	// Credential errors.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// Access token errors (invalid or malformed token, bad signature).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Refresh token lifecycle errors.
	ErrTokenNotFound = errors.New("refresh token not found")
	ErrTokenInactive = errors.New("refresh token is not active")
)
