package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound     = errors.New("resource not found")
	ErrConflict     = errors.New("resource already exists")
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadRequest   = errors.New("bad request")

	// Infrastructure errors raised by the credential core
	ErrAttemptLogUnavailable = errors.New("login attempt log unavailable")
	ErrAccountStoreFailure   = errors.New("account store unavailable")
	ErrPasswordHashing       = errors.New("password hashing failed")
)
