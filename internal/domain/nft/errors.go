package nft

import "errors"

// ErrInvalidColor rejects background colors that are not hex-encoded.
var ErrInvalidColor = errors.New("invalid hex color")
