package domain

import "errors"

var (
	ErrDisabled          = errors.New("scheduling is disabled")
	ErrNotFound          = errors.New("action not found")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrTargetUnreachable = errors.New("no execution target reached")
	ErrInvalidSettings   = errors.New("invalid settings")
)
