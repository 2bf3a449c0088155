package storage

import (
	"github.com/eddiefleurent/flyexit/internal/models"
)

// Interface defines the contract for the fly ledger.
//
// Implementations must be safe for concurrent use - callers can assume all methods
// are goroutine-safe and can safely call these methods from multiple goroutines.
//
// Positions handed out are copies; callers persist changes with UpdatePosition.
type Interface interface {
	// Position management
	AddPosition(pos *models.ButterflyPosition) (*models.TrackedPosition, error)
	GetPosition(id string) (*models.TrackedPosition, error)
	UpdatePosition(tp *models.TrackedPosition) error
	ListPositions() []*models.TrackedPosition
	GetOpenPositions() []*models.TrackedPosition

	// Exit attempts
	RecordExit(result *models.ExitResult, reason string) error
	GetExitHistory() []ExitRecord
	GetStatistics() *Statistics

	// Data persistence
	Save() error
	Load() error
}

// NewStorage creates the JSON ledger at path.
func NewStorage(path string) (Interface, error) {
	return NewJSONStorage(path)
}

// Ensure JSONStorage implements Interface
var _ Interface = (*JSONStorage)(nil)
