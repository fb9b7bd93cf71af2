package primacy

import "errors"

var (
	// ErrNoStore is returned by New when no tabular store is configured.
	ErrNoStore = errors.New("primacy: no store configured")

	// ErrAlreadyStarted is returned by Start when the poll loop is running.
	ErrAlreadyStarted = errors.New("primacy: coordinator already started")
)
