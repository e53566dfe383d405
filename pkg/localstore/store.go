// Package localstore holds the device-local, string-keyed slots that back the
// cart and the pending checkout journal.
package localstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a slot has never been written or was deleted.
var ErrNotFound = errors.New("local slot not found")

// Store reads and overwrites whole slots. Implementations must make Put
// atomic: a reader sees either the previous value or the new one.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
