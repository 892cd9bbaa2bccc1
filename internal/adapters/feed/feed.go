// Package feed delivers snapshots to one subscriber from a dedicated
// goroutine. Store adapters push into a Stream from any goroutine; the
// subscriber's handlers run serially and only ever see the latest snapshot.
package feed

import (
	"sync"

	"github.com/bft-labs/listycity/internal/domain"
	"github.com/bft-labs/listycity/internal/ports"
)

// Stream is a single subscription's delivery queue.
// It implements ports.Subscription.
type Stream struct {
	onSnapshot ports.SnapshotHandler
	onError    ports.ErrorHandler
	onClose    func()

	mu      sync.Mutex
	docs    []domain.Document
	hasDocs bool
	errs    []error

	signal    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Start begins delivering to the given handlers. onClose, if non-nil, runs
// once after the delivery goroutine exits.
func Start(onSnapshot ports.SnapshotHandler, onError ports.ErrorHandler, onClose func()) *Stream {
	s := &Stream{
		onSnapshot: onSnapshot,
		onError:    onError,
		onClose:    onClose,
		signal:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

// Snapshot queues docs, replacing any snapshot not yet delivered.
func (s *Stream) Snapshot(docs []domain.Document) {
	s.mu.Lock()
	s.docs = CloneDocuments(docs)
	s.hasDocs = true
	s.mu.Unlock()
	s.wake()
}

// Fail queues err for the error handler.
func (s *Stream) Fail(err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
	s.wake()
}

// Done is closed when the stream is closed.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Close stops delivery and waits for an in-flight handler to return.
// It must not be called from inside a handler.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}

func (s *Stream) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Stream) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case <-s.signal:
		}

		s.mu.Lock()
		errs := s.errs
		docs, hasDocs := s.docs, s.hasDocs
		s.errs, s.docs, s.hasDocs = nil, nil, false
		s.mu.Unlock()

		for _, err := range errs {
			if s.closed() {
				return
			}
			if s.onError != nil {
				s.onError(err)
			}
		}
		if hasDocs && !s.closed() && s.onSnapshot != nil {
			s.onSnapshot(docs)
		}
	}
}

func (s *Stream) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// CloneDocuments copies docs and their field maps.
func CloneDocuments(docs []domain.Document) []domain.Document {
	out := make([]domain.Document, len(docs))
	for i, d := range docs {
		out[i] = domain.Document{Key: d.Key}
		if d.Fields != nil {
			out[i].Fields = make(map[string]any, len(d.Fields))
			for k, v := range d.Fields {
				out[i].Fields[k] = v
			}
		}
	}
	return out
}

// Set tracks the live streams of one store.
type Set struct {
	mu      sync.Mutex
	streams map[*Stream]struct{}
}

// Add starts a stream registered in the set; closing it unregisters it.
func (set *Set) Add(onSnapshot ports.SnapshotHandler, onError ports.ErrorHandler) *Stream {
	var st *Stream
	st = Start(onSnapshot, onError, func() { set.remove(st) })
	set.mu.Lock()
	if set.streams == nil {
		set.streams = make(map[*Stream]struct{})
	}
	set.streams[st] = struct{}{}
	set.mu.Unlock()
	return st
}

func (set *Set) remove(st *Stream) {
	set.mu.Lock()
	delete(set.streams, st)
	set.mu.Unlock()
}

// Len returns the number of live streams.
func (set *Set) Len() int {
	set.mu.Lock()
	defer set.mu.Unlock()
	return len(set.streams)
}

// Broadcast queues docs on every live stream.
func (set *Set) Broadcast(docs []domain.Document) {
	for _, st := range set.snapshot() {
		st.Snapshot(docs)
	}
}

// Fail queues err on every live stream.
func (set *Set) Fail(err error) {
	for _, st := range set.snapshot() {
		st.Fail(err)
	}
}

// CloseAll closes every live stream.
func (set *Set) CloseAll() {
	for _, st := range set.snapshot() {
		_ = st.Close()
	}
}

func (set *Set) snapshot() []*Stream {
	set.mu.Lock()
	defer set.mu.Unlock()
	out := make([]*Stream, 0, len(set.streams))
	for st := range set.streams {
		out = append(out, st)
	}
	return out
}
