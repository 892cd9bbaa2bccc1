package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bft-labs/listycity/internal/domain"
	"github.com/bft-labs/listycity/internal/ports"
)

// DefaultQueueSize is the capacity of the synchronizer's event queue.
const DefaultQueueSize = 16

// SyncConfig contains configuration for the synchronizer.
type SyncConfig struct {
	QueueSize      int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// SyncEventEmitter is called as snapshots are applied and remote calls fail.
type SyncEventEmitter interface {
	OnSnapshotApplied(kept, skipped int)
	OnRemoteError(op string, err error)
}

// ChangeCause says why the list changed.
type ChangeCause int

const (
	ChangeSnapshot ChangeCause = iota
	ChangeAdd
	ChangeEdit
)

// String returns a human-readable representation of the cause.
func (c ChangeCause) String() string {
	switch c {
	case ChangeSnapshot:
		return "snapshot"
	case ChangeAdd:
		return "add"
	case ChangeEdit:
		return "edit"
	default:
		return "unknown"
	}
}

// ListListener observes list changes. It receives a private copy of the list
// and is called without any synchronizer lock held.
type ListListener func(list domain.ListState, cause ChangeCause)

// event is one adapter callback placed on the queue.
type event struct {
	epoch uint64
	docs  []domain.Document
	err   error
}

// Synchronizer keeps the local list consistent with a remote collection.
// Adapter callbacks are funnelled through a single consumer goroutine;
// list and selection are also mutex-guarded so controller calls from other
// goroutines are safe.
type Synchronizer struct {
	config    SyncConfig
	store     ports.RemoteStore
	logger    ports.Logger
	emitter   SyncEventEmitter
	lifecycle *Lifecycle

	// opMu serializes Start and Stop.
	opMu sync.Mutex

	mu        sync.RWMutex
	list      domain.ListState
	selection domain.Selection
	listeners []ListListener

	events chan event

	subMu   sync.Mutex
	sub     ports.Subscription
	subDone chan struct{}
	epoch   uint64
}

// NewSynchronizer creates a synchronizer in StateIdle with an empty list.
// emitter and lifecycleEmitter may be nil.
func NewSynchronizer(
	config SyncConfig,
	store ports.RemoteStore,
	logger ports.Logger,
	emitter SyncEventEmitter,
	lifecycleEmitter EventEmitter,
) *Synchronizer {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.BackoffInitial <= 0 {
		config.BackoffInitial = DefaultBackoffInitial
	}
	if config.BackoffMax <= 0 {
		config.BackoffMax = DefaultBackoffMax
	}
	return &Synchronizer{
		config:    config,
		store:     store,
		logger:    logger,
		emitter:   emitter,
		lifecycle: NewLifecycle(logger, lifecycleEmitter),
		events:    make(chan event, config.QueueSize),
	}
}

// Start subscribes to the store and begins applying snapshots.
// It returns once the subscription is established.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if !s.lifecycle.CanStart() {
		return domain.ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := s.subscribe(runCtx); err != nil {
		cancel()
		return fmt.Errorf("subscribe: %w", err)
	}
	s.lifecycle.SetCancel(cancel)

	if err := s.lifecycle.TransitionTo(StateSubscribed, "Start() called"); err != nil {
		cancel()
		s.closeSubscription()
		return err
	}

	s.lifecycle.AddWorker()
	go func() {
		defer s.lifecycle.WorkerDone()
		s.run(runCtx)
	}()

	return nil
}

// Stop cancels the subscription and waits for the consumer to exit.
func (s *Synchronizer) Stop() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if !s.lifecycle.CanStop() {
		return domain.ErrNotRunning
	}

	s.lifecycle.Cancel()
	s.closeSubscription()
	err := s.lifecycle.WaitWithTimeout(ShutdownTimeout)
	// A resubscribe racing with Cancel may have installed a new stream.
	s.closeSubscription()

	_ = s.lifecycle.TransitionTo(StateIdle, "Stop() called")
	return err
}

// Status returns the current lifecycle state.
func (s *Synchronizer) Status() State {
	return s.lifecycle.State()
}

// subscribe opens a new subscription whose callbacks feed the queue.
func (s *Synchronizer) subscribe(ctx context.Context) error {
	s.subMu.Lock()
	s.epoch++
	epoch := s.epoch
	done := make(chan struct{})
	s.subMu.Unlock()

	post := func(ev event) {
		ev.epoch = epoch
		select {
		case s.events <- ev:
		case <-done:
		case <-ctx.Done():
		}
	}

	sub, err := s.store.Subscribe(ctx,
		func(docs []domain.Document) {
			dup := make([]domain.Document, len(docs))
			copy(dup, docs)
			post(event{docs: dup})
		},
		func(err error) {
			post(event{err: err})
		},
	)
	if err != nil {
		close(done)
		return err
	}

	s.subMu.Lock()
	s.sub = sub
	s.subDone = done
	s.subMu.Unlock()
	return nil
}

// closeSubscription unblocks pending callbacks and closes the stream.
func (s *Synchronizer) closeSubscription() {
	s.subMu.Lock()
	sub, done := s.sub, s.subDone
	s.sub, s.subDone = nil, nil
	// Bump the epoch so queued events from this stream are discarded.
	s.epoch++
	s.subMu.Unlock()

	if done != nil {
		close(done)
	}
	if sub != nil {
		if err := sub.Close(); err != nil {
			s.logger.Warn("close subscription", ports.Err(err))
		}
	}
}

func (s *Synchronizer) currentEpoch() uint64 {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return s.epoch
}

// run is the single consumer of the event queue.
func (s *Synchronizer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			if ev.epoch != s.currentEpoch() {
				continue
			}
			if ev.err != nil {
				s.handleError(ctx, ev.err)
				continue
			}
			s.ApplySnapshot(ev.docs)
		}
	}
}

func (s *Synchronizer) handleError(ctx context.Context, err error) {
	if s.emitter != nil {
		s.emitter.OnRemoteError("subscribe", err)
	}
	if !errors.Is(err, domain.ErrSubscriptionLost) {
		s.logger.Error("listen failed", ports.Err(err))
		return
	}

	s.logger.Warn("subscription lost, resubscribing", ports.Err(err))
	s.closeSubscription()

	back := newBackoff(s.config.BackoffInitial, s.config.BackoffMax)
	for {
		if werr := back.Wait(ctx); werr != nil {
			return
		}
		serr := s.subscribe(ctx)
		if serr == nil {
			s.logger.Info("resubscribed")
			return
		}
		s.logger.Error("resubscribe failed",
			ports.Err(serr),
			ports.Duration("next_retry", back.Current()),
		)
		if s.emitter != nil {
			s.emitter.OnRemoteError("subscribe", serr)
		}
	}
}

// ApplySnapshot replaces the list with the well-formed documents of docs,
// in the given order, and clears the selection. Malformed documents are
// logged and skipped.
func (s *Synchronizer) ApplySnapshot(docs []domain.Document) {
	entries := make([]domain.Entry, 0, len(docs))
	skipped := 0
	for _, doc := range docs {
		rec, err := doc.Record()
		if err != nil {
			skipped++
			s.logger.Warn("skipping document with missing fields",
				ports.String("key", doc.Key),
				ports.Err(err),
			)
			continue
		}
		entries = append(entries, domain.Entry{Record: rec})
	}

	s.mu.Lock()
	s.list.Replace(entries)
	// Reset selection whenever the list reloads
	s.selection = domain.Selection{}
	snap := s.list.Clone()
	listeners := s.listeners
	s.mu.Unlock()

	s.logger.Debug("snapshot applied",
		ports.Int("records", len(entries)),
		ports.Int("skipped", skipped),
		ports.Uint64("generation", snap.Generation),
	)
	if s.emitter != nil {
		s.emitter.OnSnapshotApplied(len(entries), skipped)
	}
	notify(listeners, snap, ChangeSnapshot)
}

// AddListener registers l for every subsequent list change.
func (s *Synchronizer) AddListener(l ListListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// List returns a copy of the current list.
func (s *Synchronizer) List() domain.ListState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list.Clone()
}

// Records returns the current list as plain records.
func (s *Synchronizer) Records() []domain.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list.Records()
}

// Selection returns the current selection.
func (s *Synchronizer) Selection() domain.Selection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selection
}

// Store returns the remote store the synchronizer subscribes to.
func (s *Synchronizer) Store() ports.RemoteStore {
	return s.store
}

// appendPending optimistically appends rec to the list.
func (s *Synchronizer) appendPending(rec domain.Record) {
	s.mu.Lock()
	s.list.Append(rec)
	snap := s.list.Clone()
	listeners := s.listeners
	s.mu.Unlock()

	notify(listeners, snap, ChangeAdd)
}

// selectIndex makes the row at index the selection.
func (s *Synchronizer) selectIndex(index int) (domain.Selection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sel, ok := domain.NewSelection(&s.list, index)
	if !ok {
		return domain.Selection{}, fmt.Errorf("%w: index %d", domain.ErrNoSuchRow, index)
	}
	s.selection = sel
	return sel, nil
}

// selectRecord makes the first row equal to rec the selection.
func (s *Synchronizer) selectRecord(rec domain.Record) (domain.Selection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.list.Entries {
		if e.Record == rec {
			sel, _ := domain.NewSelection(&s.list, i)
			s.selection = sel
			return sel, nil
		}
	}
	return domain.Selection{}, fmt.Errorf("%w: %s", domain.ErrNoSuchRow, rec.Name)
}

// clearSelectionIf clears the selection if it is still sel.
func (s *Synchronizer) clearSelectionIf(sel domain.Selection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.selection.Same(sel) {
		return false
	}
	s.selection = domain.Selection{}
	return true
}

// editAt rewrites the entry at index in place and returns its previous value.
func (s *Synchronizer) editAt(index int, name, province string) (domain.Record, error) {
	s.mu.Lock()
	if index < 0 || index >= len(s.list.Entries) {
		s.mu.Unlock()
		return domain.Record{}, fmt.Errorf("%w: index %d", domain.ErrNoSuchRow, index)
	}
	old := s.list.Entries[index].Record
	updated := domain.Record{Name: name, Province: province}
	s.list.Entries[index].Record = updated

	// Keep a selection of this row pointing at the edited record.
	if !s.selection.Empty() && s.selection.Index == index && s.selection.Generation == s.list.Generation {
		s.selection.Key = updated.Key()
		s.selection.Record = updated
	}

	snap := s.list.Clone()
	listeners := s.listeners
	s.mu.Unlock()

	notify(listeners, snap, ChangeEdit)
	return old, nil
}

func notify(listeners []ListListener, snap domain.ListState, cause ChangeCause) {
	for _, l := range listeners {
		l(snap.Clone(), cause)
	}
}
