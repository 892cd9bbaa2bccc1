// Package postgres implements a remote store on PostgreSQL.
// Mutations notify a per-collection channel in the same transaction;
// each subscription holds one pooled connection in LISTEN and reloads the
// collection on every notification.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bft-labs/listycity/internal/adapters/feed"
	"github.com/bft-labs/listycity/internal/domain"
	"github.com/bft-labs/listycity/internal/ports"
	"github.com/bft-labs/listycity/pkg/log"
)

// DefaultDSN is used when Open is given an empty DSN.
const DefaultDSN = "postgres://localhost/listycity?sslmode=disable"

const ddl = `CREATE TABLE IF NOT EXISTS listy_documents (
	collection TEXT   NOT NULL,
	key        TEXT   NOT NULL,
	body       JSONB  NOT NULL,
	position   BIGSERIAL,
	PRIMARY KEY (collection, key)
)`

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for listener diagnostics.
func WithLogger(l log.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Store implements ports.RemoteStore for one collection.
// Documents are ordered by first insertion.
type Store struct {
	pool       *pgxpool.Pool
	collection string
	channel    string
	logger     log.Logger

	mu     sync.Mutex
	closed bool
	subs   feed.Set
	wg     sync.WaitGroup
}

// Open connects to dsn and ensures the documents table exists.
func Open(ctx context.Context, dsn, collection string, opts ...Option) (*Store, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	if collection == "" {
		return nil, fmt.Errorf("%w: collection is required", domain.ErrInvalidConfig)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure documents table: %w", err)
	}

	s := &Store{
		pool:       pool,
		collection: collection,
		channel:    ChannelName(collection),
		logger:     log.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ChannelName returns the notification channel for collection.
func ChannelName(collection string) string {
	return "listy_" + collection
}

// Subscribe delivers the collection now and after every notification.
func (s *Store) Subscribe(ctx context.Context, onSnapshot ports.SnapshotHandler, onError ports.ErrorHandler) (ports.Subscription, error) {
	if s.isClosed() {
		return nil, domain.ErrClosed
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listener: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{s.channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", s.channel, err)
	}

	// Load after LISTEN so no change between the two is missed.
	docs, err := s.Documents(ctx)
	if err != nil {
		s.releaseListener(conn)
		return nil, err
	}

	st := s.subs.Add(onSnapshot, onError)
	st.Snapshot(docs)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.listen(ctx, conn, st)
	}()
	return st, nil
}

func (s *Store) listen(ctx context.Context, conn *pgxpool.Conn, st *feed.Stream) {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-st.Done():
			cancel()
		case <-waitCtx.Done():
		}
	}()

	for {
		n, err := conn.Conn().WaitForNotification(waitCtx)
		if err != nil {
			if waitCtx.Err() != nil {
				s.releaseListener(conn)
				if ctx.Err() != nil {
					_ = st.Close()
				}
				return
			}
			s.logger.Error("listen connection failed", log.String("channel", s.channel), log.Err(err))
			st.Fail(fmt.Errorf("%w: %w", domain.ErrSubscriptionLost, err))
			conn.Release()
			return
		}
		s.logger.Debug("notification", log.String("channel", n.Channel), log.String("key", n.Payload))

		docs, err := s.Documents(waitCtx)
		if err != nil {
			if waitCtx.Err() != nil {
				continue
			}
			s.logger.Warn("reload collection", log.String("collection", s.collection), log.Err(err))
			st.Fail(err)
			continue
		}
		st.Snapshot(docs)
	}
}

// releaseListener stops listening and returns conn to the pool.
func (s *Store) releaseListener(conn *pgxpool.Conn) {
	if _, err := conn.Exec(context.Background(), "UNLISTEN *"); err != nil {
		// The connection is in an unknown state, drop it.
		_ = conn.Conn().Close(context.Background())
	}
	conn.Release()
}

// Documents returns the collection in store order.
func (s *Store) Documents(ctx context.Context) ([]domain.Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, body FROM listy_documents WHERE collection = $1 ORDER BY position`, s.collection)
	if err != nil {
		return nil, fmt.Errorf("select documents: %w", err)
	}
	defer rows.Close()

	docs := []domain.Document{}
	for rows.Next() {
		var (
			key  string
			body []byte
		)
		if err := rows.Scan(&key, &body); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		var fields map[string]any
		if err := json.Unmarshal(body, &fields); err != nil {
			fields = nil
		}
		docs = append(docs, domain.Document{Key: key, Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

// Write upserts the document for rec.
func (s *Store) Write(ctx context.Context, rec domain.Record) error {
	if err := s.Put(ctx, domain.DocumentFor(rec)); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrRemoteWrite, err)
	}
	return nil
}

// Put stores doc as is, without checking its fields.
func (s *Store) Put(ctx context.Context, doc domain.Document) error {
	if s.isClosed() {
		return domain.ErrClosed
	}
	body, err := json.Marshal(doc.Fields)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO listy_documents(collection, key, body) VALUES($1, $2, $3)
			 ON CONFLICT (collection, key) DO UPDATE SET body = excluded.body`,
			s.collection, doc.Key, string(body)); err != nil {
			return fmt.Errorf("upsert %s: %w", doc.Key, err)
		}
		return s.notify(ctx, tx, doc.Key)
	})
}

// Delete removes the document for key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if s.isClosed() {
		return fmt.Errorf("%w: %w", domain.ErrRemoteDelete, domain.ErrClosed)
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM listy_documents WHERE collection = $1 AND key = $2`, s.collection, key)
		if err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		return s.notify(ctx, tx, key)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrRemoteDelete, err)
	}
	return nil
}

func (s *Store) notify(ctx context.Context, tx pgx.Tx, key string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, s.channel, key); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

// Close ends all subscriptions and closes the pool.
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
	s.pool.Close()
	return nil
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Pool exposes the underlying pool for integration testing hooks.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Collection returns the collection name.
func (s *Store) Collection() string { return s.collection }
