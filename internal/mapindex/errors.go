package mapindex

import (
	"context"
	"errors"
)

var (
	// ErrNotFound marks a depot asset that is permanently absent.
	ErrNotFound = errors.New("asset not found")
	// ErrMalformed marks an asset that could not be parsed.
	ErrMalformed = errors.New("malformed asset")
	// ErrDuplicateVersion is returned when a revision row already exists for the natural key.
	ErrDuplicateVersion = errors.New("duplicate revision version")
	// ErrLockContention marks a deadlock-class store failure.
	ErrLockContention = errors.New("store lock contention")
	// ErrStore marks an unexpected store failure.
	ErrStore = errors.New("store failure")
)

// IsPermanent reports whether err should never be retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrMalformed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsFatal reports whether err should be surfaced with fatal severity.
func IsFatal(err error) bool {
	return errors.Is(err, ErrLockContention) || errors.Is(err, ErrStore)
}
