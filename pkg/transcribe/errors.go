package transcribe

import "errors"

var (
	// ErrInvalidState is returned when an operation is not allowed in the
	// client's current connection state, e.g. streaming before Connect.
	ErrInvalidState = errors.New("transcribe: invalid state")

	// ErrNotInitialized is returned by [Shared.Get] when no credential has
	// ever been supplied.
	ErrNotInitialized = errors.New("transcribe: not initialized")

	// ErrDisconnected rejects a pending Connect that was cancelled by
	// Disconnect.
	ErrDisconnected = errors.New("transcribe: disconnected")

	// ErrClosed is returned by every method after Close.
	ErrClosed = errors.New("transcribe: client closed")
)
