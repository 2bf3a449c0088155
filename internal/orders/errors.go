package orders

import "errors"

// ErrNotOpen is returned when an exit is requested for a position that is not open.
var ErrNotOpen = errors.New("position is not open")
