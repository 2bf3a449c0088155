package router

import "errors"

var (
	// ErrNoFill is returned when the executor does not fill a spread.
	ErrNoFill = errors.New("no fill")
	// ErrMissingQuote is returned when a spread leg has no mid price.
	ErrMissingQuote = errors.New("missing mid prices")
	// ErrSlippageExceeded is returned when a fill deviates too far from theoretical mid.
	ErrSlippageExceeded = errors.New("slippage exceeded")
	// ErrTimingBudget is returned when fills arrive too slowly.
	ErrTimingBudget = errors.New("timing budget exceeded")
	// ErrNotDecomposable is returned when a position cannot be split into two verticals.
	ErrNotDecomposable = errors.New("position cannot be split into two verticals")
)
