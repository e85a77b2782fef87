package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no state record has been saved yet.
var ErrNotFound = errors.New("storage: record not found")

// Store persists the single flat state record.
// Saves are full-record overwrites; there is exactly one writer.
type Store interface {
	Load(ctx context.Context) (*Record, error)
	Save(ctx context.Context, record Record) error
	Close() error
}
