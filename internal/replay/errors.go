package replay

import "errors"

// ErrInvalidOrdering is returned when events are not properly ordered.
var ErrInvalidOrdering = errors.New("events are not in deterministic order")

// ErrNoEvents is returned when there is nothing to replay.
var ErrNoEvents = errors.New("no events to replay")
