// Package memory implements an in-process remote store.
// Documents are kept in first-insert order; rewriting a key keeps its
// position. It backs tests, the CLI's memory driver and the collection
// server when nothing else is configured.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/bft-labs/listycity/internal/adapters/feed"
	"github.com/bft-labs/listycity/internal/domain"
	"github.com/bft-labs/listycity/internal/ports"
)

// Store implements ports.RemoteStore in memory.
type Store struct {
	mu     sync.Mutex
	order  []string
	docs   map[string]map[string]any
	closed bool

	subs feed.Set
}

// New creates an empty store.
func New() *Store {
	return &Store{docs: make(map[string]map[string]any)}
}

// Subscribe delivers the current documents, then every change.
func (s *Store) Subscribe(ctx context.Context, onSnapshot ports.SnapshotHandler, onError ports.ErrorHandler) (ports.Subscription, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, domain.ErrClosed
	}
	st := s.subs.Add(onSnapshot, onError)
	st.Snapshot(s.snapshotLocked())
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			_ = st.Close()
		case <-st.Done():
		}
	}()
	return st, nil
}

// Write upserts the document for rec.
func (s *Store) Write(ctx context.Context, rec domain.Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrRemoteWrite, err)
	}
	return s.Put(domain.DocumentFor(rec))
}

// Put stores doc as is, without checking its fields.
func (s *Store) Put(doc domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: %w", domain.ErrRemoteWrite, domain.ErrClosed)
	}
	if _, ok := s.docs[doc.Key]; !ok {
		s.order = append(s.order, doc.Key)
	}
	fields := make(map[string]any, len(doc.Fields))
	for k, v := range doc.Fields {
		fields[k] = v
	}
	s.docs[doc.Key] = fields
	s.subs.Broadcast(s.snapshotLocked())
	return nil
}

// Delete removes the document stored under key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrRemoteDelete, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: %w", domain.ErrRemoteDelete, domain.ErrClosed)
	}
	if _, ok := s.docs[key]; !ok {
		return nil
	}
	delete(s.docs, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.subs.Broadcast(s.snapshotLocked())
	return nil
}

// Documents returns the current contents in store order.
func (s *Store) Documents() []domain.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return feed.CloneDocuments(s.snapshotLocked())
}

// Fail reports err to every subscriber.
func (s *Store) Fail(err error) {
	s.subs.Fail(err)
}

// Subscribers returns the number of open subscriptions.
func (s *Store) Subscribers() int {
	return s.subs.Len()
}

// Close ends all subscriptions. Later calls fail with domain.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.subs.CloseAll()
	return nil
}

func (s *Store) snapshotLocked() []domain.Document {
	out := make([]domain.Document, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, domain.Document{Key: key, Fields: s.docs[key]})
	}
	// feed.Stream copies field maps before delivery.
	return out
}
