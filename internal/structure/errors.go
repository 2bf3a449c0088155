package structure

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownStructure is returned when a position matches no supported fly shape.
	ErrUnknownStructure = errors.New("unknown fly structure")
	// ErrStructural matches any *StructuralError via errors.Is.
	ErrStructural = errors.New("structural decomposition error")
)

// StructuralError reports body shorts that could not be paired with any long wing.
// It means the position is malformed and must not be exited with orphaned shorts.
type StructuralError struct {
	PositionID string
	Shorts     int
	Paired     int
	LowWings   int
	HighWings  int
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("cannot pair all short body contracts for %s: shorts=%d paired=%d wings low=%d high=%d",
		e.PositionID, e.Shorts, e.Paired, e.LowWings, e.HighWings)
}

// Is lets errors.Is(err, ErrStructural) match.
func (e *StructuralError) Is(target error) bool {
	return target == ErrStructural
}
