package storage

import "errors"

var (
	// ErrPositionNotFound is returned when no position exists for an ID
	ErrPositionNotFound = errors.New("position not found")
	// ErrDuplicatePosition is returned when a position ID is already booked
	ErrDuplicatePosition = errors.New("position already exists")
)
