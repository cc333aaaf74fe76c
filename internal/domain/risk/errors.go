package risk

import "errors"

// Registration-time sentinel errors for trigger definitions.
var (
	ErrUnknownSeverity = errors.New("unknown severity level")
	ErrNoConditions    = errors.New("trigger has no conditions")
)
