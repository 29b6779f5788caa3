package domain

import "errors"

var (
	ErrInvalidWorkspace = errors.New("invalid_workspace")
	ErrInvalidPlatform  = errors.New("invalid_platform")
	ErrInvalidRequest   = errors.New("invalid_request")
	ErrStateNotFound    = errors.New("state_not_found")
	ErrStateAlreadyUsed = errors.New("state_already_used")
	ErrStateExpired     = errors.New("state_expired")
	ErrDuplicateState   = errors.New("duplicate_state")
	ErrPersistence      = errors.New("persistence_failure")
	ErrRandomSource     = errors.New("random_source_failure")
)
