package domain

import "errors"

// Domain errors represent error conditions in the listycity domain.
// These errors are returned by the public API and can be checked with errors.Is.
var (
	// ErrRemoteWrite wraps any failure to upsert a document in the remote store.
	ErrRemoteWrite = errors.New("listycity: remote write failed")

	// ErrRemoteDelete wraps any failure to remove a document from the remote store.
	ErrRemoteDelete = errors.New("listycity: remote delete failed")

	// ErrNoSelection is returned when a delete is requested with nothing selected.
	ErrNoSelection = errors.New("listycity: no record selected")

	// ErrMalformedDocument marks a snapshot document missing a required field.
	// It never leaves the synchronizer; such documents are logged and skipped.
	ErrMalformedDocument = errors.New("listycity: malformed document")

	// ErrSubscriptionLost is reported through the subscription error handler
	// when the change stream has ended and must be re-established.
	ErrSubscriptionLost = errors.New("listycity: subscription lost")

	// ErrNoSuchRow is returned when a row index or record is not in the list.
	ErrNoSuchRow = errors.New("listycity: no such row")

	// ErrAlreadyRunning is returned when Start() is called on a running instance.
	ErrAlreadyRunning = errors.New("listycity: already running")

	// ErrNotRunning is returned when Stop() is called on a stopped instance.
	ErrNotRunning = errors.New("listycity: not running")

	// ErrShutdownTimeout is returned when graceful shutdown times out.
	ErrShutdownTimeout = errors.New("listycity: shutdown timeout")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("listycity: invalid configuration")

	// ErrClosed is returned by adapters used after Close.
	ErrClosed = errors.New("listycity: store closed")
)
