package app

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/bft-labs/listycity/internal/domain"
	"github.com/bft-labs/listycity/pkg/log"
	"github.com/bft-labs/listycity/pkg/log/logtest"
)

func newTestSync(store *fakeStore, logger log.Logger, emitter SyncEventEmitter) *Synchronizer {
	return NewSynchronizer(SyncConfig{
		BackoffInitial: time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
	}, store, logger, emitter, nil)
}

func TestApplySnapshot_SkipsMalformed(t *testing.T) {
	rec := logtest.NewRecorder()
	emitter := &recordingEmitter{}
	s := newTestSync(&fakeStore{}, rec, emitter)

	s.ApplySnapshot([]domain.Document{
		doc("Edmonton", "AB"),
		{Key: "Vancouver", Fields: map[string]any{"name": "Vancouver"}},
		doc("Regina", "SK"),
	})

	want := []domain.Record{city("Edmonton", "AB"), city("Regina", "SK")}
	if got := s.Records(); !reflect.DeepEqual(got, want) {
		t.Errorf("Records() = %v, want %v", got, want)
	}
	if n := rec.Count("warn", "skipping document with missing fields"); n != 1 {
		t.Errorf("got %d malformed diagnostics, want 1", n)
	}
	if len(emitter.applied) != 1 || emitter.applied[0] != [2]int{2, 1} {
		t.Errorf("emitter applied = %v, want [[2 1]]", emitter.applied)
	}
}

func TestApplySnapshot_ProjectsInStoreOrder(t *testing.T) {
	tests := []struct {
		name string
		docs []domain.Document
		want []domain.Record
	}{
		{
			name: "empty",
			docs: nil,
			want: []domain.Record{},
		},
		{
			name: "unsorted order is kept",
			docs: []domain.Document{doc("Toronto", "ON"), doc("Calgary", "AB"), doc("Montreal", "QC")},
			want: []domain.Record{city("Toronto", "ON"), city("Calgary", "AB"), city("Montreal", "QC")},
		},
		{
			name: "null and non-string fields are malformed",
			docs: []domain.Document{
				{Key: "a", Fields: map[string]any{"name": nil, "province": "AB"}},
				{Key: "b", Fields: map[string]any{"name": "b", "province": 7}},
				{Key: "c"},
				doc("Halifax", "NS"),
			},
			want: []domain.Record{city("Halifax", "NS")},
		},
		{
			name: "empty strings are present",
			docs: []domain.Document{doc("", "")},
			want: []domain.Record{city("", "")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSync(&fakeStore{}, log.NewNoopLogger(), nil)
			s.ApplySnapshot(tt.docs)

			got := s.Records()
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Records() = %v, want %v", got, tt.want)
			}
			for _, e := range s.List().Entries {
				if e.Pending {
					t.Errorf("entry %v is pending after snapshot", e.Record)
				}
			}
		})
	}
}

func TestApplySnapshot_ClearsSelection(t *testing.T) {
	s := newTestSync(&fakeStore{}, log.NewNoopLogger(), nil)
	s.ApplySnapshot([]domain.Document{doc("Regina", "SK"), doc("Saskatoon", "SK")})

	if _, err := s.selectIndex(0); err != nil {
		t.Fatalf("selectIndex: %v", err)
	}

	// Regina is still present, selection is cleared anyway.
	s.ApplySnapshot([]domain.Document{doc("Regina", "SK"), doc("Saskatoon", "SK")})

	if !s.Selection().Empty() {
		t.Errorf("selection = %+v after snapshot, want empty", s.Selection())
	}
}

func TestApplySnapshot_DropsUnconfirmedPending(t *testing.T) {
	s := newTestSync(&fakeStore{}, log.NewNoopLogger(), nil)
	s.appendPending(city("Whitehorse", "YT"))
	s.appendPending(city("Iqaluit", "NU"))

	s.ApplySnapshot([]domain.Document{doc("Iqaluit", "NU")})

	list := s.List()
	if list.Len() != 1 || list.Entries[0].Name != "Iqaluit" || list.Entries[0].Pending {
		t.Errorf("list = %+v, want confirmed Iqaluit only", list.Entries)
	}
}

func TestApplySnapshot_GenerationIncrements(t *testing.T) {
	s := newTestSync(&fakeStore{}, log.NewNoopLogger(), nil)
	for i := 1; i <= 3; i++ {
		s.ApplySnapshot(nil)
		if g := s.List().Generation; g != uint64(i) {
			t.Errorf("generation = %d after %d snapshots", g, i)
		}
	}
}

func TestSynchronizer_Listeners(t *testing.T) {
	s := newTestSync(&fakeStore{}, log.NewNoopLogger(), nil)

	var causes []ChangeCause
	var lens []int
	s.AddListener(func(list domain.ListState, cause ChangeCause) {
		causes = append(causes, cause)
		lens = append(lens, list.Len())
	})

	s.ApplySnapshot([]domain.Document{doc("Regina", "SK")})
	s.appendPending(city("Victoria", "BC"))
	if _, err := s.editAt(0, "Moose Jaw", "SK"); err != nil {
		t.Fatalf("editAt: %v", err)
	}

	wantCauses := []ChangeCause{ChangeSnapshot, ChangeAdd, ChangeEdit}
	if !reflect.DeepEqual(causes, wantCauses) {
		t.Errorf("causes = %v, want %v", causes, wantCauses)
	}
	if !reflect.DeepEqual(lens, []int{1, 2, 2}) {
		t.Errorf("lens = %v, want [1 2 2]", lens)
	}
}

func TestSynchronizer_StartStop(t *testing.T) {
	store := &fakeStore{}
	emitter := &mockEmitter{}
	s := NewSynchronizer(SyncConfig{}, store, log.NewNoopLogger(), nil, emitter)

	if s.Status() != StateIdle {
		t.Fatalf("initial status = %v, want Idle", s.Status())
	}
	if err := s.Stop(); err != domain.ErrNotRunning {
		t.Errorf("Stop() on idle = %v, want ErrNotRunning", err)
	}

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	if s.Status() != StateSubscribed {
		t.Errorf("status = %v, want Subscribed", s.Status())
	}
	if err := s.Start(ctx); err != domain.ErrAlreadyRunning {
		t.Errorf("second Start() = %v, want ErrAlreadyRunning", err)
	}

	store.push(doc("Regina", "SK"), doc("Saskatoon", "SK"))
	waitFor(t, "snapshot", func() bool { return len(s.Records()) == 2 })

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	if s.Status() != StateIdle {
		t.Errorf("status = %v after Stop, want Idle", s.Status())
	}
	if store.subClosed != 1 {
		t.Errorf("subscription closed %d times, want 1", store.subClosed)
	}

	events := emitter.Events()
	if len(events) != 2 || events[1].current != StateIdle {
		t.Errorf("events = %+v, want Idle->Subscribed->Idle", events)
	}

	// Restart after stop is allowed.
	if err := s.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	_ = s.Stop()
}

func TestSynchronizer_StartSubscribeError(t *testing.T) {
	boom := errors.New("offline")
	store := &fakeStore{subscribeErr: boom}
	s := newTestSync(store, log.NewNoopLogger(), nil)

	err := s.Start(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Start() = %v, want wrapping %v", err, boom)
	}
	if s.Status() != StateIdle {
		t.Errorf("status = %v, want Idle", s.Status())
	}
}

func TestSynchronizer_ListenErrorKeepsRunning(t *testing.T) {
	store := &fakeStore{}
	rec := logtest.NewRecorder()
	emitter := &recordingEmitter{}
	s := newTestSync(store, rec, emitter)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	store.fail(errors.New("permission denied"))
	store.push(doc("Regina", "SK"))

	waitFor(t, "snapshot after error", func() bool { return len(s.Records()) == 1 })
	if store.Subscribes() != 1 {
		t.Errorf("subscribes = %d, want 1", store.Subscribes())
	}
	if rec.Count("error", "listen failed") != 1 {
		t.Errorf("want one listen failed log, got %+v", rec.Entries())
	}
	if ops := emitter.RemoteOps(); len(ops) != 1 || ops[0] != "subscribe" {
		t.Errorf("remote ops = %v, want [subscribe]", ops)
	}
}

func TestSynchronizer_ResubscribesOnLoss(t *testing.T) {
	store := &fakeStore{}
	s := newTestSync(store, log.NewNoopLogger(), nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	store.push(doc("Regina", "SK"))
	waitFor(t, "first snapshot", func() bool { return len(s.Records()) == 1 })

	store.fail(fmt.Errorf("%w: connection reset", domain.ErrSubscriptionLost))
	waitFor(t, "resubscribe", func() bool { return store.Subscribes() == 2 })

	store.push(doc("Regina", "SK"), doc("Prince Albert", "SK"))
	waitFor(t, "snapshot on new stream", func() bool { return len(s.Records()) == 2 })
}

func TestSynchronizer_ConcurrentAccess(t *testing.T) {
	store := &fakeStore{}
	s := newTestSync(store, log.NewNoopLogger(), nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			store.push(doc("Regina", "SK"), doc("Saskatoon", "SK"))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			s.appendPending(city("Banff", "AB"))
			_, _ = s.selectIndex(0)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_ = s.List()
			_ = s.Selection()
		}
	}()
	wg.Wait()
}
