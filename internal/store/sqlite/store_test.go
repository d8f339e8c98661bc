package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"kiteticker/internal/model"
	"kiteticker/pkg/kiteticker"
)

var _ model.SubscriptionStore = (*Store)(nil)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(StoreConfig{DBPath: filepath.Join(t.TempDir(), "subs.db")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_EmptyLoad(t *testing.T) {
	s := openTestStore(t)
	got, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Load = %v, want empty", got)
	}
	ts, err := s.LastUpdated(context.Background())
	if err != nil || ts != 0 {
		t.Errorf("LastUpdated = %d, %v", ts, err)
	}
}

func TestStore_SaveReplaces(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	var commits int
	s.OnCommit = func(time.Duration) { commits++ }

	first := map[uint32]kiteticker.Mode{408065: kiteticker.ModeFull, 256265: kiteticker.ModeLTP}
	if err := s.Save(ctx, first); err != nil {
		t.Fatalf("Save: %v", err)
	}
	second := map[uint32]kiteticker.Mode{256265: kiteticker.ModeQuote, 884737: kiteticker.ModeQuote}
	if err := s.Save(ctx, second); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(second, got); diff != "" {
		t.Errorf("subscriptions mismatch (-want +got):\n%s", diff)
	}
	if commits != 2 {
		t.Errorf("OnCommit called %d times, want 2", commits)
	}
	if ts, _ := s.LastUpdated(ctx); ts == 0 {
		t.Error("LastUpdated not set after Save")
	}
}

func TestStore_SkipsUnknownMode(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if _, err := s.DB().Exec(`INSERT INTO subscriptions (token, mode, updated_at) VALUES (1, 'snap', 0), (2, 'full', 0)`); err != nil {
		t.Fatalf("seed: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(map[uint32]kiteticker.Mode{2: kiteticker.ModeFull}, got); diff != "" {
		t.Errorf("subscriptions mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "subs.db")

	s, err := New(StoreConfig{DBPath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	want := map[uint32]kiteticker.Mode{738561: kiteticker.ModeFull}
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	s.Close()

	s, err = New(StoreConfig{DBPath: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("subscriptions mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_RunWritesLatestSnapshot(t *testing.T) {
	s := openTestStore(t)

	ch := make(chan map[uint32]kiteticker.Mode, 3)
	ch <- map[uint32]kiteticker.Mode{1: kiteticker.ModeLTP}
	ch <- map[uint32]kiteticker.Mode{1: kiteticker.ModeFull, 2: kiteticker.ModeQuote}
	close(ch)

	s.Run(context.Background(), ch)

	got, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := map[uint32]kiteticker.Mode{1: kiteticker.ModeFull, 2: kiteticker.ModeQuote}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("subscriptions mismatch (-want +got):\n%s", diff)
	}
}
