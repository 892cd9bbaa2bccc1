package ports

import (
	"context"

	"github.com/bft-labs/listycity/internal/domain"
)

// SnapshotHandler receives the complete contents of the collection,
// in the order the store defines.
type SnapshotHandler func(docs []domain.Document)

// ErrorHandler receives subscription errors. Errors wrapping
// domain.ErrSubscriptionLost mean no further snapshots will arrive.
type ErrorHandler func(err error)

// Subscription is a live snapshot stream.
type Subscription interface {
	// Close cancels the stream. No handler is invoked after Close returns.
	Close() error
}

// RemoteStore is a document collection keyed by record name.
type RemoteStore interface {
	// Subscribe delivers the current snapshot immediately and again after
	// every change, until the subscription is closed or ctx is done.
	// Handlers for one subscription are never invoked concurrently.
	Subscribe(ctx context.Context, onSnapshot SnapshotHandler, onError ErrorHandler) (Subscription, error)

	// Write upserts the document keyed by rec.Name.
	// Failures wrap domain.ErrRemoteWrite.
	Write(ctx context.Context, rec domain.Record) error

	// Delete removes the document keyed by key. A missing key is not an error.
	// Failures wrap domain.ErrRemoteDelete.
	Delete(ctx context.Context, key string) error

	// Close releases connections and ends all subscriptions.
	Close() error
}
