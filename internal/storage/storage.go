// Package storage provides the persistent fly ledger and exit journal.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/eddiefleurent/flyexit/internal/models"
)

// ExitRecord is one exit attempt as kept in the ledger history.
type ExitRecord struct {
	RecordedAt time.Time         `json:"recorded_at"`
	Reason     string            `json:"reason,omitempty"`
	Result     models.ExitResult `json:"result"`
}

// Data is the on-disk ledger document.
type Data struct {
	LastUpdated time.Time                          `json:"last_updated"`
	Positions   map[string]*models.TrackedPosition `json:"positions"`
	Statistics  *Statistics                        `json:"statistics"`
	Exits       []ExitRecord                       `json:"exits"`
}

// ExitJournal receives every recorded exit attempt.
type ExitJournal interface {
	RecordAttempt(ctx context.Context, result *models.ExitResult, reason string) error
}

// JSONStorage is a file-backed ledger. Writes go to a temp file that is renamed over the
// ledger so a crash never leaves a torn file.
type JSONStorage struct {
	journal  ExitJournal
	data     *Data
	filepath string
	mu       sync.RWMutex
}

// NewJSONStorage opens the ledger at path, loading it when the file exists.
func NewJSONStorage(path string) (*JSONStorage, error) {
	s := &JSONStorage{
		filepath: path,
		data:     newData(),
	}

	if _, err := os.Stat(path); err == nil {
		if err := s.Load(); err != nil {
			return nil, fmt.Errorf("loading storage: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat storage: %w", err)
	}

	return s, nil
}

func newData() *Data {
	return &Data{
		Positions:  make(map[string]*models.TrackedPosition),
		Statistics: &Statistics{},
	}
}

// SetJournal attaches a journal that mirrors every RecordExit.
func (s *JSONStorage) SetJournal(j ExitJournal) {
	s.mu.Lock()
	s.journal = j
	s.mu.Unlock()
}

// Load replaces the in-memory ledger with the file contents.
func (s *JSONStorage) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.filepath)
	if err != nil {
		return err
	}

	data := newData()
	if err := json.Unmarshal(raw, data); err != nil {
		return fmt.Errorf("decoding %s: %w", s.filepath, err)
	}
	if data.Positions == nil {
		data.Positions = make(map[string]*models.TrackedPosition)
	}
	for id, tp := range data.Positions {
		if tp == nil || tp.Position == nil {
			return fmt.Errorf("ledger entry %q has no position", id)
		}
	}
	data.Statistics = computeStatistics(data.Exits)
	s.data = data
	return nil
}

// Save writes the ledger to disk.
func (s *JSONStorage) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *JSONStorage) saveLocked() error {
	s.data.LastUpdated = time.Now().UTC()

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding ledger: %w", err)
	}

	if dir := filepath.Dir(s.filepath); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating ledger dir: %w", err)
		}
	}

	// Write to temp file first
	tmpFile := s.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, raw, 0o600); err != nil {
		return err
	}

	// Atomic rename
	return os.Rename(tmpFile, s.filepath)
}

// AddPosition books a new fly in the open state.
func (s *JSONStorage) AddPosition(pos *models.ButterflyPosition) (*models.TrackedPosition, error) {
	if pos == nil {
		return nil, errors.New("position is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Positions[pos.ID()]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicatePosition, pos.ID())
	}
	tp := models.NewTrackedPosition(pos)
	s.data.Positions[pos.ID()] = tp
	if err := s.saveLocked(); err != nil {
		delete(s.data.Positions, pos.ID())
		return nil, err
	}
	return tp.Copy(), nil
}

// GetPosition returns a copy of the ledger entry.
func (s *JSONStorage) GetPosition(id string) (*models.TrackedPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tp, ok := s.data.Positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	return tp.Copy(), nil
}

// UpdatePosition replaces an existing ledger entry.
func (s *JSONStorage) UpdatePosition(tp *models.TrackedPosition) error {
	if tp == nil || tp.Position == nil {
		return errors.New("tracked position is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.data.Positions[tp.ID()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, tp.ID())
	}
	s.data.Positions[tp.ID()] = tp.Copy()
	if err := s.saveLocked(); err != nil {
		s.data.Positions[tp.ID()] = prev
		return err
	}
	return nil
}

// ListPositions returns every ledger entry ordered by entry time.
func (s *JSONStorage) ListPositions() []*models.TrackedPosition {
	return s.filter(func(*models.TrackedPosition) bool { return true })
}

// GetOpenPositions returns the entries still eligible for an exit.
func (s *JSONStorage) GetOpenPositions() []*models.TrackedPosition {
	return s.filter(func(tp *models.TrackedPosition) bool {
		return tp.State == models.StateOpen
	})
}

func (s *JSONStorage) filter(keep func(*models.TrackedPosition) bool) []*models.TrackedPosition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.TrackedPosition, 0, len(s.data.Positions))
	for _, tp := range s.data.Positions {
		if keep(tp) {
			out = append(out, tp.Copy())
		}
	}
	sortTracked(out)
	return out
}

func sortTracked(out []*models.TrackedPosition) {
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].Position.EntryTime(), out[j].Position.EntryTime()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return out[i].ID() < out[j].ID()
	})
}

// RecordExit appends an exit attempt to the history and refreshes statistics.
func (s *JSONStorage) RecordExit(result *models.ExitResult, reason string) error {
	if result == nil {
		return errors.New("exit result is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := ExitRecord{Result: *result, Reason: reason, RecordedAt: time.Now().UTC()}
	s.data.Exits = append(s.data.Exits, rec)
	s.data.Statistics = computeStatistics(s.data.Exits)
	if err := s.saveLocked(); err != nil {
		s.data.Exits = s.data.Exits[:len(s.data.Exits)-1]
		s.data.Statistics = computeStatistics(s.data.Exits)
		return err
	}

	if s.journal != nil {
		if err := s.journal.RecordAttempt(context.Background(), result, reason); err != nil {
			return fmt.Errorf("journal exit %s: %w", result.AttemptID, err)
		}
	}
	return nil
}

// GetExitHistory returns all recorded exit attempts, oldest first.
func (s *JSONStorage) GetExitHistory() []ExitRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ExitRecord(nil), s.data.Exits...)
}

// GetStatistics returns a copy of the current statistics.
func (s *JSONStorage) GetStatistics() *Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := *s.data.Statistics
	return &stats
}
