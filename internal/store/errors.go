package store

import "errors"

var (
	ErrNotFound         = errors.New("instance not found")
	ErrAlreadyExists    = errors.New("instance already exists")
	ErrVersionConflict  = errors.New("instance version conflict")
	ErrStoreUnavailable = errors.New("store unavailable")
)
