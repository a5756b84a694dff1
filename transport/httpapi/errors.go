package httpapi

import "errors"

// ErrInvalidCursor is returned when the 'from' query parameter is not a
// non-negative integer.
var ErrInvalidCursor = errors.New("query parameter 'from' must be a non-negative integer")
