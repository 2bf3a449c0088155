package retry

import "errors"

// ErrRetriesExhausted is returned when every allowed attempt failed with a transient error.
var ErrRetriesExhausted = errors.New("retries exhausted")
