package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bft-labs/listycity/internal/domain"
	"github.com/bft-labs/listycity/internal/ports"
)

// fakeStore is a scriptable ports.RemoteStore.
// Snapshots are pushed by the test through push and fail.
type fakeStore struct {
	mu sync.Mutex

	writeErr     error
	deleteErr    error
	subscribeErr error

	writes     []domain.Record
	deletes    []string
	subscribes int
	subClosed  int

	onSnapshot ports.SnapshotHandler
	onError    ports.ErrorHandler

	// deleteCalled is signalled before Delete returns, if set
	deleteCalled chan struct{}
	// writeGate, if set, blocks Write until closed
	writeGate chan struct{}
}

type fakeSub struct{ s *fakeStore }

func (f fakeSub) Close() error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.subClosed++
	f.s.onSnapshot = nil
	f.s.onError = nil
	return nil
}

func (s *fakeStore) Subscribe(ctx context.Context, onSnapshot ports.SnapshotHandler, onError ports.ErrorHandler) (ports.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribes++
	if s.subscribeErr != nil {
		return nil, s.subscribeErr
	}
	s.onSnapshot = onSnapshot
	s.onError = onError
	return fakeSub{s}, nil
}

func (s *fakeStore) Write(ctx context.Context, rec domain.Record) error {
	s.mu.Lock()
	gate := s.writeGate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, rec)
	return s.writeErr
}

func (s *fakeStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	s.deletes = append(s.deletes, key)
	err := s.deleteErr
	called := s.deleteCalled
	s.mu.Unlock()
	if called != nil {
		called <- struct{}{}
	}
	return err
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) push(docs ...domain.Document) {
	s.mu.Lock()
	h := s.onSnapshot
	s.mu.Unlock()
	if h != nil {
		h(docs)
	}
}

func (s *fakeStore) fail(err error) {
	s.mu.Lock()
	h := s.onError
	s.mu.Unlock()
	if h != nil {
		h(err)
	}
}

func (s *fakeStore) Writes() []domain.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Record(nil), s.writes...)
}

func (s *fakeStore) Deletes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deletes...)
}

func (s *fakeStore) Subscribes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribes
}

// recordingEmitter captures SyncEventEmitter calls.
type recordingEmitter struct {
	mu        sync.Mutex
	applied   [][2]int
	remoteOps []string
}

func (e *recordingEmitter) OnSnapshotApplied(kept, skipped int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applied = append(e.applied, [2]int{kept, skipped})
}

func (e *recordingEmitter) OnRemoteError(op string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.remoteOps = append(e.remoteOps, op)
}

func (e *recordingEmitter) RemoteOps() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.remoteOps...)
}

// noticeLog collects notices.
type noticeLog struct {
	mu      sync.Mutex
	notices []ports.Notice
}

func (n *noticeLog) Notify(notice ports.Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *noticeLog) All() []ports.Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]ports.Notice(nil), n.notices...)
}

func city(name, province string) domain.Record {
	return domain.Record{Name: name, Province: province}
}

func doc(name, province string) domain.Document {
	return domain.DocumentFor(city(name, province))
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
