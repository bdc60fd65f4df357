package storage

import "errors"

// ErrLockHeld is returned by TryLock when another job already holds the
// named advisory lock. Safe to retry after the holder finishes.
var ErrLockHeld = errors.New("storage: advisory lock held by another job")

// ErrNotFound is returned by point lookups that matched nothing.
var ErrNotFound = errors.New("storage: not found")
