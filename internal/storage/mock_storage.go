package storage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eddiefleurent/flyexit/internal/models"
)

// MockStorage is an in-memory Interface for tests.
type MockStorage struct {
	saveError     error
	loadError     error
	updateError   error
	positions     map[string]*models.TrackedPosition
	exits         []ExitRecord
	saveCallCount int
	loadCallCount int
	mu            sync.Mutex
}

// NewMockStorage creates a new mock storage for testing
func NewMockStorage() *MockStorage {
	return &MockStorage{
		positions: make(map[string]*models.TrackedPosition),
	}
}

func (m *MockStorage) AddPosition(pos *models.ButterflyPosition) (*models.TrackedPosition, error) {
	if pos == nil {
		return nil, errors.New("position is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.positions[pos.ID()]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicatePosition, pos.ID())
	}
	tp := models.NewTrackedPosition(pos)
	m.positions[pos.ID()] = tp
	return tp.Copy(), nil
}

func (m *MockStorage) GetPosition(id string) (*models.TrackedPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tp, ok := m.positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	return tp.Copy(), nil
}

func (m *MockStorage) UpdatePosition(tp *models.TrackedPosition) error {
	if tp == nil || tp.Position == nil {
		return errors.New("tracked position is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.updateError != nil {
		return m.updateError
	}
	if _, ok := m.positions[tp.ID()]; !ok {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, tp.ID())
	}
	m.positions[tp.ID()] = tp.Copy()
	return nil
}

func (m *MockStorage) ListPositions() []*models.TrackedPosition {
	return m.filter(func(*models.TrackedPosition) bool { return true })
}

func (m *MockStorage) GetOpenPositions() []*models.TrackedPosition {
	return m.filter(func(tp *models.TrackedPosition) bool { return tp.State == models.StateOpen })
}

func (m *MockStorage) filter(keep func(*models.TrackedPosition) bool) []*models.TrackedPosition {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.TrackedPosition, 0, len(m.positions))
	for _, tp := range m.positions {
		if keep(tp) {
			out = append(out, tp.Copy())
		}
	}
	sortTracked(out)
	return out
}

func (m *MockStorage) RecordExit(result *models.ExitResult, reason string) error {
	if result == nil {
		return errors.New("exit result is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.exits = append(m.exits, ExitRecord{Result: *result, Reason: reason, RecordedAt: time.Now().UTC()})
	return nil
}

func (m *MockStorage) GetExitHistory() []ExitRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ExitRecord(nil), m.exits...)
}

func (m *MockStorage) GetStatistics() *Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return computeStatistics(m.exits)
}

// Data persistence methods (mocked)
func (m *MockStorage) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCallCount++
	return m.saveError
}

func (m *MockStorage) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadCallCount++
	return m.loadError
}

// Mock control methods for testing
func (m *MockStorage) SetSaveError(err error) {
	m.mu.Lock()
	m.saveError = err
	m.mu.Unlock()
}

func (m *MockStorage) SetLoadError(err error) {
	m.mu.Lock()
	m.loadError = err
	m.mu.Unlock()
}

// SetUpdateError makes UpdatePosition fail with err.
func (m *MockStorage) SetUpdateError(err error) {
	m.mu.Lock()
	m.updateError = err
	m.mu.Unlock()
}

func (m *MockStorage) GetSaveCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveCallCount
}

func (m *MockStorage) GetLoadCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadCallCount
}

var _ Interface = (*MockStorage)(nil)
