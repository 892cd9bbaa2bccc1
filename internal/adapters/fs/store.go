// Package fs implements a remote store backed by a directory of JSON files,
// one per document, watched with fsnotify.
package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/listycity/internal/adapters/feed"
	"github.com/bft-labs/listycity/internal/domain"
	"github.com/bft-labs/listycity/internal/ports"
	"github.com/bft-labs/listycity/pkg/log"
)

const (
	docExt = ".json"
	tmpExt = ".tmp"

	// DefaultDebounce is the delay between the last file event and a reload.
	DefaultDebounce = 100 * time.Millisecond
)

// Option configures a Store.
type Option func(*Store)

// WithDebounce sets how long to wait after a change before reloading.
func WithDebounce(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.debounce = d
		}
	}
}

// WithLogger sets the logger for watcher diagnostics.
func WithLogger(l log.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Store implements ports.RemoteStore over a directory.
// Documents are ordered by file name.
type Store struct {
	dir      string
	debounce time.Duration
	logger   log.Logger

	// load reads the directory; replaced in tests.
	load func() ([]domain.Document, error)

	mu     sync.Mutex
	closed bool
	subs   feed.Set
}

// New creates a store rooted at dir. The directory is created on first write
// or subscription.
func New(dir string, opts ...Option) *Store {
	s := &Store{
		dir:      dir,
		debounce: DefaultDebounce,
		logger:   log.NewNoopLogger(),
	}
	s.load = s.Load
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the collection directory.
func (s *Store) Dir() string {
	return s.dir
}

// Subscribe delivers the directory contents now and after every change.
func (s *Store) Subscribe(ctx context.Context, onSnapshot ports.SnapshotHandler, onError ports.ErrorHandler) (ports.Subscription, error) {
	if s.isClosed() {
		return nil, domain.ErrClosed
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return nil, fmt.Errorf("create collection dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", s.dir, err)
	}

	docs, err := s.load()
	if err != nil {
		watcher.Close()
		return nil, err
	}

	st := s.subs.Add(onSnapshot, onError)
	st.Snapshot(docs)

	go s.watchLoop(ctx, watcher, st)
	return st, nil
}

// watchLoop reloads the directory a debounce interval after the last change.
// Reloads run on this goroutine, one at a time, so an older listing is never
// delivered after a newer one.
func (s *Store) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, st *feed.Stream) {
	defer watcher.Close()

	timer := time.NewTimer(s.debounce)
	timer.Stop()
	defer timer.Stop()
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			_ = st.Close()
			return

		case <-st.Done():
			return

		case <-fire:
			fire = nil
			docs, err := s.load()
			if err != nil {
				s.logger.Warn("reload collection", log.String("dir", s.dir), log.Err(err))
				st.Fail(err)
				continue
			}
			st.Snapshot(docs)

		case event, ok := <-watcher.Events:
			if !ok {
				st.Fail(fmt.Errorf("%w: watcher closed", domain.ErrSubscriptionLost))
				return
			}
			if !isDocumentFile(event.Name) {
				continue
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			timer.Reset(s.debounce)
			fire = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				st.Fail(fmt.Errorf("%w: watcher closed", domain.ErrSubscriptionLost))
				return
			}
			s.logger.Error("watcher error", log.String("dir", s.dir), log.Err(err))
			st.Fail(err)
		}
	}
}

// Load reads every document in the directory in file name order.
// A file that cannot be parsed yields a document with no fields.
func (s *Store) Load() ([]domain.Document, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []domain.Document{}, nil
		}
		return nil, fmt.Errorf("read collection dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !isDocumentFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	docs := make([]domain.Document, 0, len(names))
	for _, name := range names {
		key, err := KeyFromFile(name)
		if err != nil {
			s.logger.Warn("skipping unreadable file name", log.String("file", name), log.Err(err))
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		var fields map[string]any
		if err := json.Unmarshal(data, &fields); err != nil {
			s.logger.Debug("unparsable document", log.String("key", key), log.Err(err))
			fields = nil
		}
		docs = append(docs, domain.Document{Key: key, Fields: fields})
	}
	return docs, nil
}

// Write stores rec atomically (temp file, then rename).
func (s *Store) Write(ctx context.Context, rec domain.Record) error {
	if err := s.checkOpen(ctx); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrRemoteWrite, err)
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrRemoteWrite, err)
	}

	path := s.path(rec.Key())
	tmp := path + tmpExt

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrRemoteWrite, err)
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrRemoteWrite, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %w", domain.ErrRemoteWrite, err)
	}
	return nil
}

// Delete removes the file for key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.checkOpen(ctx); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrRemoteDelete, err)
	}
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %w", domain.ErrRemoteDelete, err)
	}
	return nil
}

// Close ends all subscriptions.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.subs.CloseAll()
	return nil
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Store) checkOpen(ctx context.Context) error {
	if s.isClosed() {
		return domain.ErrClosed
	}
	return ctx.Err()
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, FileForKey(key))
}

// FileForKey returns the file name holding the document for key.
func FileForKey(key string) string {
	return url.PathEscape(key) + docExt
}

// KeyFromFile reverses FileForKey.
func KeyFromFile(name string) (string, error) {
	return url.PathUnescape(strings.TrimSuffix(name, docExt))
}

func isDocumentFile(name string) bool {
	return strings.HasSuffix(filepath.Base(name), docExt)
}
