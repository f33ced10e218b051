package engine

import (
	"errors"

	"github.com/KevoDB/flashkv/pkg/format"
)

var (
	// ErrNotLoaded is returned when an operation needs a successful Load first
	ErrNotLoaded = errors.New("store is not loaded")
	// ErrKeyNotFound is returned when a key is not in the store
	ErrKeyNotFound = errors.New("key not found")
	// ErrCapacityExceeded is returned when a write would not fit in the region
	ErrCapacityExceeded = errors.New("store capacity exceeded")
	// ErrFlashIO wraps every failure reported by the flash device
	ErrFlashIO = errors.New("flash I/O failure")
	// ErrCorruptImage is returned when a signed image holds a record that runs past the region
	ErrCorruptImage = errors.New("corrupt store image")

	// Record validation errors, shared with the format package so errors.Is works on either
	ErrEmptyKey      = format.ErrEmptyKey
	ErrKeyTooLarge   = format.ErrKeyTooLarge
	ErrValueTooLarge = format.ErrValueTooLarge
)
