package store

import "errors"

var (
	ErrNotFound          = errors.New("record not found")
	ErrInvalidRecord     = errors.New("invalid record")
	ErrEntryNotFound     = errors.New("mutation entry not found")
	ErrUnknownCollection = errors.New("unknown collection")
)
