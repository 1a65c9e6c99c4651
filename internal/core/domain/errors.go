package domain

import "errors"

// ErrNotFound is returned when a resource does not exist on the platform.
var ErrNotFound = errors.New("not found")
