package shared

import "errors"

// ErrInvalidActor occurs when the actor header is malformed.
var ErrInvalidActor = errors.New("invalid actor id")
