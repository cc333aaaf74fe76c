package rules

import "errors"

// Sentinel kinds for definition validation errors. These surface at
// registration time only; evaluation never raises.
var (
	ErrUnknownOperator = errors.New("unknown operator")
	ErrEmptyField      = errors.New("empty field name")
	ErrMissingOperand  = errors.New("missing comparison operand")
	ErrNotAList        = errors.New("operand is not a list")
)
