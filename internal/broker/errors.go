package broker

import "errors"

var (
	// ErrRejected is returned when an executor refuses a spread order.
	ErrRejected = errors.New("spread order rejected")
	// ErrNotImplemented is returned by the live executor.
	ErrNotImplemented = errors.New("live execution is not implemented")
)
