package repository

import "errors"

// Store error kinds shared by all implementations.
var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)
