// Package sqlite implements a remote store on a SQLite database.
// Every mutation bumps a per-collection version row in the same
// transaction; subscribers poll that row and reload on change.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/bft-labs/listycity/internal/adapters/feed"
	"github.com/bft-labs/listycity/internal/domain"
	"github.com/bft-labs/listycity/internal/ports"
	"github.com/bft-labs/listycity/pkg/log"
)

// DefaultPollInterval is how often subscribers check for changes.
const DefaultPollInterval = 500 * time.Millisecond

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	key        TEXT NOT NULL,
	body       TEXT NOT NULL,
	PRIMARY KEY (collection, key)
);
CREATE TABLE IF NOT EXISTS versions (
	collection TEXT PRIMARY KEY,
	version    INTEGER NOT NULL
);`

// Option configures a Store.
type Option func(*Store)

// WithPollInterval sets the subscriber polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.poll = d
		}
	}
}

// WithLogger sets the logger for polling diagnostics.
func WithLogger(l log.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Store implements ports.RemoteStore for one collection of a SQLite database.
// Documents are ordered by first insertion.
type Store struct {
	db         *sql.DB
	path       string
	collection string
	poll       time.Duration
	logger     log.Logger

	mu     sync.Mutex
	closed bool
	subs   feed.Set
	wg     sync.WaitGroup
}

// Open opens (creating if needed) the database at path and prepares the
// schema. collection names the document set this store reads and writes.
func Open(path, collection string, opts ...Option) (*Store, error) {
	if path == "" {
		path = "listycity.db"
	}
	if collection == "" {
		return nil, fmt.Errorf("%w: collection is required", domain.ErrInvalidConfig)
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	s := &Store{
		db:         db,
		path:       path,
		collection: collection,
		poll:       DefaultPollInterval,
		logger:     log.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Subscribe delivers the collection now and whenever its version changes.
func (s *Store) Subscribe(ctx context.Context, onSnapshot ports.SnapshotHandler, onError ports.ErrorHandler) (ports.Subscription, error) {
	if s.isClosed() {
		return nil, domain.ErrClosed
	}
	version, docs, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	st := s.subs.Add(onSnapshot, onError)
	st.Snapshot(docs)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pollLoop(ctx, st, version)
	}()
	return st, nil
}

func (s *Store) pollLoop(ctx context.Context, st *feed.Stream, seen int64) {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = st.Close()
			return
		case <-st.Done():
			return
		case <-ticker.C:
		}

		version, err := s.Version(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrConnDone) || s.isClosed() {
				st.Fail(fmt.Errorf("%w: %w", domain.ErrSubscriptionLost, err))
				return
			}
			s.logger.Warn("poll collection version", log.String("collection", s.collection), log.Err(err))
			st.Fail(err)
			continue
		}
		if version == seen {
			continue
		}

		v, docs, err := s.load(ctx)
		if err != nil {
			s.logger.Warn("reload collection", log.String("collection", s.collection), log.Err(err))
			st.Fail(err)
			continue
		}
		seen = v
		st.Snapshot(docs)
	}
}

// Version returns the collection's change counter.
func (s *Store) Version(ctx context.Context) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM versions WHERE collection = ?`, s.collection).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("select version: %w", err)
	}
	return v, nil
}

// Documents returns the collection in store order.
func (s *Store) Documents(ctx context.Context) ([]domain.Document, error) {
	_, docs, err := s.load(ctx)
	return docs, err
}

// load reads the version and documents in one transaction.
func (s *Store) load(ctx context.Context) (int64, []domain.Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var version int64
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM versions WHERE collection = ?`, s.collection).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, nil, fmt.Errorf("select version: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT key, body FROM documents WHERE collection = ? ORDER BY rowid`, s.collection)
	if err != nil {
		return 0, nil, fmt.Errorf("select documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	docs := []domain.Document{}
	for rows.Next() {
		var (
			key  string
			body string
		)
		if err := rows.Scan(&key, &body); err != nil {
			return 0, nil, fmt.Errorf("scan: %w", err)
		}
		var fields map[string]any
		if err := json.Unmarshal([]byte(body), &fields); err != nil {
			s.logger.Debug("unparsable document", log.String("key", key), log.Err(err))
			fields = nil
		}
		docs = append(docs, domain.Document{Key: key, Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("iterate documents: %w", err)
	}
	return version, docs, nil
}

// Write upserts the document for rec.
func (s *Store) Write(ctx context.Context, rec domain.Record) error {
	if err := s.Put(ctx, domain.DocumentFor(rec)); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrRemoteWrite, err)
	}
	return nil
}

// Put stores doc as is, without checking its fields.
func (s *Store) Put(ctx context.Context, doc domain.Document) (retErr error) {
	if s.isClosed() {
		return domain.ErrClosed
	}
	body, err := json.Marshal(doc.Fields)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents(collection, key, body) VALUES(?, ?, ?)
		 ON CONFLICT(collection, key) DO UPDATE SET body = excluded.body`,
		s.collection, doc.Key, string(body)); err != nil {
		return fmt.Errorf("upsert %s: %w", doc.Key, err)
	}
	if err := bumpVersion(ctx, tx, s.collection); err != nil {
		return err
	}
	return tx.Commit()
}

// Delete removes the document for key.
func (s *Store) Delete(ctx context.Context, key string) (retErr error) {
	if s.isClosed() {
		return fmt.Errorf("%w: %w", domain.ErrRemoteDelete, domain.ErrClosed)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", domain.ErrRemoteDelete, err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND key = ?`, s.collection, key)
	if err != nil {
		return fmt.Errorf("%w: delete %s: %w", domain.ErrRemoteDelete, key, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		if err := bumpVersion(ctx, tx, s.collection); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrRemoteDelete, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", domain.ErrRemoteDelete, err)
	}
	return nil
}

func bumpVersion(ctx context.Context, tx *sql.Tx, collection string) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO versions(collection, version) VALUES(?, 1)
		 ON CONFLICT(collection) DO UPDATE SET version = version + 1`,
		collection); err != nil {
		return fmt.Errorf("bump version: %w", err)
	}
	return nil
}

// Close ends all subscriptions and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.subs.CloseAll()
	s.wg.Wait()
	return s.db.Close()
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Collection returns the collection name.
func (s *Store) Collection() string { return s.collection }
