package model

import "errors"

// Cross-module sentinel kinds.
var (
	// ErrEntityMismatch signals a reference to a record owned by a
	// different entity.
	ErrEntityMismatch = errors.New("record belongs to a different entity")
)
