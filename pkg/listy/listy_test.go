package listy_test

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bft-labs/listycity/internal/adapters/memory"
	"github.com/bft-labs/listycity/pkg/listy"
)

// eventTracker records events for assertions.
type eventTracker struct {
	listy.BaseEventHandler
	mu        sync.Mutex
	states    []listy.StateChangeEvent
	snapshots []listy.SnapshotEvent
}

func (e *eventTracker) OnStateChange(event listy.StateChangeEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.states = append(e.states, event)
}

func (e *eventTracker) OnSnapshot(event listy.SnapshotEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snapshots = append(e.snapshots, event)
}

func (e *eventTracker) stateChanges() []listy.StateChangeEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]listy.StateChangeEvent(nil), e.states...)
}

func (e *eventTracker) snapshotCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.snapshots)
}

// noticeLog collects notices.
type noticeLog struct {
	mu      sync.Mutex
	notices []listy.Notice
}

func (n *noticeLog) Notify(notice listy.Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *noticeLog) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := []string{}
	for _, notice := range n.notices {
		out = append(out, notice.Message)
	}
	return out
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func names(records []listy.Record) []string {
	out := []string{}
	for _, r := range records {
		out = append(out, r.Name)
	}
	return out
}

func startListy(t *testing.T, cfg listy.Config, opts ...listy.Option) *listy.Listy {
	t.Helper()
	l, err := listy.New(cfg, opts...)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	return l
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  listy.Config
	}{
		{"unknown store", listy.Config{Store: "firestore"}},
		{"fs without dir", listy.Config{Store: listy.DriverFS}},
		{"sqlite without dsn", listy.Config{Store: listy.DriverSQLite}},
		{"ws without url", listy.Config{Store: listy.DriverWS}},
		{"negative debounce", listy.Config{Store: listy.DriverMemory, Debounce: -time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := listy.New(tt.cfg); !errors.Is(err, listy.ErrInvalidConfig) {
				t.Errorf("New() = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	l, err := listy.New(listy.Config{})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	defer l.Close()

	cfg := l.Config()
	if cfg.Store != listy.DriverMemory || cfg.Collection != "cities" {
		t.Errorf("Config() = %+v, want memory store on cities", cfg)
	}
	if l.Status() != listy.StateIdle {
		t.Errorf("Status() = %v, want Idle", l.Status())
	}
}

func TestListy_StartStop(t *testing.T) {
	events := &eventTracker{}
	l, err := listy.New(listy.Config{}, listy.WithEventHandler(events))
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	defer l.Close()

	ctx := context.Background()
	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	if err := l.Start(ctx); !errors.Is(err, listy.ErrAlreadyRunning) {
		t.Errorf("second Start() = %v, want ErrAlreadyRunning", err)
	}
	if l.Status() != listy.StateSubscribed {
		t.Errorf("Status() = %v, want Subscribed", l.Status())
	}
	eventually(t, "initial snapshot", func() bool { return events.snapshotCount() > 0 })

	if err := l.Stop(); err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	if err := l.Stop(); !errors.Is(err, listy.ErrNotRunning) {
		t.Errorf("second Stop() = %v, want ErrNotRunning", err)
	}

	want := []listy.StateChangeEvent{
		{Previous: listy.StateIdle, Current: listy.StateSubscribed, Reason: "Start() called"},
		{Previous: listy.StateSubscribed, Current: listy.StateIdle, Reason: "Stop() called"},
	}
	if got := events.stateChanges(); !reflect.DeepEqual(got, want) {
		t.Errorf("state changes = %+v, want %+v", got, want)
	}
}

func TestListy_StartAfterClose(t *testing.T) {
	l, err := listy.New(listy.Config{})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if err := l.Start(context.Background()); !errors.Is(err, listy.ErrClosed) {
		t.Errorf("Start() after Close = %v, want ErrClosed", err)
	}
}

func TestListy_AddSelectDelete(t *testing.T) {
	notices := &noticeLog{}
	l := startListy(t, listy.Config{}, listy.WithNotifier(notices))
	ctx := context.Background()

	if err := l.Delete(ctx); !errors.Is(err, listy.ErrNoSelection) {
		t.Fatalf("Delete() without selection = %v, want ErrNoSelection", err)
	}

	if err := l.Add(ctx, listy.Record{Name: "Regina", Province: "SK"}); err != nil {
		t.Fatalf("Add() = %v", err)
	}
	if err := l.Add(ctx, listy.Record{Name: "Calgary", Province: "AB"}); err != nil {
		t.Fatalf("Add() = %v", err)
	}
	eventually(t, "confirmed adds", func() bool {
		list := l.List()
		return list.Len() == 2 && !list.Entries[0].Pending && !list.Entries[1].Pending
	})

	rec, err := l.Select(0)
	if err != nil || rec.Name != "Regina" {
		t.Fatalf("Select(0) = %v, %v", rec, err)
	}
	if err := l.Delete(ctx); err != nil {
		t.Fatalf("Delete() = %v", err)
	}
	eventually(t, "delete snapshot", func() bool {
		return reflect.DeepEqual(names(l.Records()), []string{"Calgary"})
	})
	if !l.Selection().Empty() {
		t.Errorf("Selection() = %+v, want empty", l.Selection())
	}

	want := []string{"Please select a city first", "Regina deleted"}
	if got := notices.messages(); !reflect.DeepEqual(got, want) {
		t.Errorf("notices = %q, want %q", got, want)
	}
}

func TestListy_OnChange(t *testing.T) {
	var mu sync.Mutex
	var causes []listy.ChangeCause
	l := startListy(t, listy.Config{}, listy.WithListListener(func(_ listy.ListState, cause listy.ChangeCause) {
		mu.Lock()
		defer mu.Unlock()
		causes = append(causes, cause)
	}))

	if err := l.Add(context.Background(), listy.Record{Name: "Regina", Province: "SK"}); err != nil {
		t.Fatalf("Add() = %v", err)
	}
	eventually(t, "add and snapshots", func() bool {
		mu.Lock()
		defer mu.Unlock()
		adds, snaps := 0, 0
		for _, c := range causes {
			switch c {
			case listy.ChangeAdd:
				adds++
			case listy.ChangeSnapshot:
				snaps++
			}
		}
		return adds == 1 && snaps >= 1
	})
}

func TestListy_PersistEdits(t *testing.T) {
	store := memory.New()
	defer store.Close()
	l := startListy(t, listy.Config{PersistEdits: true}, listy.WithStore(store))
	ctx := context.Background()

	if err := l.Add(ctx, listy.Record{Name: "Regina", Province: "SK"}); err != nil {
		t.Fatalf("Add() = %v", err)
	}
	eventually(t, "confirmed add", func() bool {
		if len(store.Documents()) != 1 {
			return false
		}
		st := l.List()
		return st.Len() == 1
	})

	if err := l.Edit(ctx, 0, "Moose Jaw", "SK"); err != nil {
		t.Fatalf("Edit() = %v", err)
	}
	eventually(t, "renamed document", func() bool {
		docs := store.Documents()
		return len(docs) == 1 && docs[0].Key == "Moose Jaw"
	})
}

func TestListy_WithStoreIsNotClosed(t *testing.T) {
	store := memory.New()
	defer store.Close()

	l, err := listy.New(listy.Config{}, listy.WithStore(store))
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	if l.Store() != listy.RemoteStore(store) {
		t.Error("Store() does not return the injected store")
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if err := store.Write(context.Background(), listy.Record{Name: "Regina", Province: "SK"}); err != nil {
		t.Errorf("injected store closed by Close(): %v", err)
	}
}

func TestListy_FSStore(t *testing.T) {
	dir := t.TempDir()
	l := startListy(t, listy.Config{Store: listy.DriverFS, Dir: dir, Debounce: 10 * time.Millisecond})

	if err := l.Add(context.Background(), listy.Record{Name: "Regina", Province: "SK"}); err != nil {
		t.Fatalf("Add() = %v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "*.json"))
	if len(matches) != 1 || filepath.Base(matches[0]) != "Regina.json" {
		t.Errorf("collection files = %v, want Regina.json", matches)
	}
	eventually(t, "confirmed add", func() bool {
		list := l.List()
		return list.Len() == 1 && !list.Entries[0].Pending
	})
}

func TestListy_Prometheus(t *testing.T) {
	reg := prometheus.NewRegistry()
	l := startListy(t, listy.Config{}, listy.WithPrometheus(reg))

	expected := `
# HELP listycity_subscribed 1 while the synchronizer holds a subscription.
# TYPE listycity_subscribed gauge
listycity_subscribed 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "listycity_subscribed"); err != nil {
		t.Error(err)
	}

	if err := l.Stop(); err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	expected = strings.Replace(expected, "listycity_subscribed 1", "listycity_subscribed 0", 1)
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "listycity_subscribed"); err != nil {
		t.Error(err)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state listy.State
		want  string
	}{
		{listy.StateIdle, "Idle"},
		{listy.StateSubscribed, "Subscribed"},
		{listy.State(99), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestBaseEventHandler_DefaultBehavior(t *testing.T) {
	beh := listy.BaseEventHandler{}

	// All methods should be no-ops (not panic)
	beh.OnStateChange(listy.StateChangeEvent{})
	beh.OnSnapshot(listy.SnapshotEvent{})
	beh.OnRemoteError(listy.RemoteErrorEvent{})
}
