package postgres

import (
	"context"
	"errors"
	"os"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/bft-labs/listycity/internal/domain"
)

// openTestStore connects to LISTYCITY_TEST_POSTGRES_DSN, skipping when unset.
// Each test gets its own collection.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("LISTYCITY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LISTYCITY_TEST_POSTGRES_DSN not set")
	}
	collection := "t_" + strings.ToLower(ulid.Make().String())

	ctx := context.Background()
	s, err := Open(ctx, dsn, collection)
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.Pool().Exec(context.Background(),
			`DELETE FROM listy_documents WHERE collection = $1`, collection)
		_ = s.Close()
	})
	return s
}

type recorder struct {
	mu    sync.Mutex
	snaps [][]domain.Document
}

func (r *recorder) onSnapshot(docs []domain.Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, docs)
}

func (r *recorder) onError(error) {}

func (r *recorder) lastKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		return nil
	}
	keys := []string{}
	for _, d := range r.snaps[len(r.snaps)-1] {
		keys = append(keys, d.Key)
	}
	return keys
}

func waitKeys(t *testing.T, r *recorder, want []string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if reflect.DeepEqual(r.lastKeys(), want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("keys = %v, want %v", r.lastKeys(), want)
}

func TestChannelName(t *testing.T) {
	if got := ChannelName("cities"); got != "listy_cities" {
		t.Errorf("ChannelName() = %q", got)
	}
}

func TestOpen_RequiresCollection(t *testing.T) {
	_, err := Open(context.Background(), "postgres://unused", "")
	if !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("Open() = %v, want ErrInvalidConfig", err)
	}
}

func TestStore_WriteDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, rec := range []domain.Record{
		{Name: "Toronto", Province: "ON"},
		{Name: "Calgary", Province: "AB"},
		{Name: "Toronto", Province: "XX"},
	} {
		if err := s.Write(ctx, rec); err != nil {
			t.Fatalf("Write(%v) = %v", rec, err)
		}
	}
	docs, err := s.Documents(ctx)
	if err != nil {
		t.Fatalf("Documents() = %v", err)
	}
	if len(docs) != 2 || docs[0].Key != "Toronto" || docs[0].Fields["province"] != "XX" {
		t.Errorf("documents = %v", docs)
	}

	if err := s.Delete(ctx, "Nowhere"); err != nil {
		t.Errorf("Delete(missing) = %v", err)
	}
}

func TestStore_Subscribe(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_ = s.Write(ctx, domain.Record{Name: "Regina", Province: "SK"})

	var r recorder
	sub, err := s.Subscribe(ctx, r.onSnapshot, r.onError)
	if err != nil {
		t.Fatalf("Subscribe() = %v", err)
	}
	defer sub.Close()
	waitKeys(t, &r, []string{"Regina"})

	_ = s.Write(ctx, domain.Record{Name: "Saskatoon", Province: "SK"})
	waitKeys(t, &r, []string{"Regina", "Saskatoon"})

	_ = s.Delete(ctx, "Regina")
	waitKeys(t, &r, []string{"Saskatoon"})
}
