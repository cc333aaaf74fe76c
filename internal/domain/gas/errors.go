package gas

import "errors"

// ErrNoRecords signals an analysis window with no observations to analyze.
var ErrNoRecords = errors.New("no gas records in window")
