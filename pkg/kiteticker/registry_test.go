package kiteticker

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRegistry_SubscribeDefaultMode(t *testing.T) {
	r := NewRegistry()
	got := r.Subscribe([]uint32{3, 1, 2}, 0)

	want := []Request{SubscribeRequest([]uint32{1, 2, 3})}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("requests mismatch (-want +got):\n%s", diff)
	}
	for _, tok := range []uint32{1, 2, 3} {
		if m, ok := r.Mode(tok); !ok || m != ModeQuote {
			t.Errorf("token %d mode = %s, %v; want quote", tok, m, ok)
		}
	}
}

func TestRegistry_SubscribeNonDefaultMode(t *testing.T) {
	r := NewRegistry()
	r.Subscribe([]uint32{10, 20}, ModeQuote)
	got := r.Subscribe([]uint32{30, 30}, ModeFull)

	want := []Request{
		SubscribeRequest([]uint32{10, 20, 30}),
		ModeRequest(ModeFull, []uint32{30}),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("requests mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistry_SubscribeOverwritesMode(t *testing.T) {
	r := NewRegistry()
	r.Subscribe([]uint32{1}, ModeLTP)
	r.Subscribe([]uint32{1}, ModeFull)

	if m, _ := r.Mode(1); m != ModeFull {
		t.Errorf("mode = %s, want full", m)
	}
	if r.Len() != 1 {
		t.Errorf("len = %d, want 1", r.Len())
	}
}

func TestRegistry_TokensIsUnion(t *testing.T) {
	r := NewRegistry()
	batches := [][]uint32{{5, 1}, {3}, {1, 9}, {}}
	seen := map[uint32]bool{}
	for _, b := range batches {
		r.Subscribe(b, ModeLTP)
		for _, tok := range b {
			seen[tok] = true
		}

		got := map[uint32]bool{}
		for _, tok := range r.Tokens() {
			got[tok] = true
		}
		if diff := cmp.Diff(seen, got); diff != "" {
			t.Fatalf("after %v (-want +got):\n%s", b, diff)
		}
	}
}

func TestRegistry_UnsubscribeAll(t *testing.T) {
	r := NewRegistry()
	r.Subscribe([]uint32{1, 2, 3}, 0)

	got := r.Unsubscribe(nil)
	want := []Request{UnsubscribeRequest([]uint32{1, 2, 3})}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("requests mismatch (-want +got):\n%s", diff)
	}
	if toks := r.Tokens(); len(toks) != 0 {
		t.Errorf("tokens after unsubscribe all = %v", toks)
	}
}

func TestRegistry_UnsubscribeIgnoresUnknown(t *testing.T) {
	r := NewRegistry()
	r.Subscribe([]uint32{1, 2}, 0)

	got := r.Unsubscribe([]uint32{2, 7})
	want := []Request{UnsubscribeRequest([]uint32{2})}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("requests mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint32{1}, r.Tokens()); diff != "" {
		t.Errorf("tokens mismatch (-want +got):\n%s", diff)
	}

	got = r.Unsubscribe([]uint32{99})
	if len(got) != 1 || !got[0].Empty() {
		t.Errorf("unsubscribe of unknown token = %v, want one empty request", got)
	}
}

func TestRegistry_SetModeAll(t *testing.T) {
	r := NewRegistry()
	r.Subscribe([]uint32{1, 2}, 0)

	got := r.SetMode(nil, ModeFull)
	want := []Request{ModeRequest(ModeFull, []uint32{1, 2})}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("requests mismatch (-want +got):\n%s", diff)
	}
	wantEntries := map[uint32]Mode{1: ModeFull, 2: ModeFull}
	if diff := cmp.Diff(wantEntries, r.Entries()); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistry_SetModeNeverAdds(t *testing.T) {
	r := NewRegistry()
	r.Subscribe([]uint32{1}, 0)

	got := r.SetMode([]uint32{1, 2}, ModeLTP)
	want := []Request{ModeRequest(ModeLTP, []uint32{1})}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("requests mismatch (-want +got):\n%s", diff)
	}
	if _, ok := r.Mode(2); ok {
		t.Error("SetMode added an unsubscribed token")
	}
}

func TestRegistry_EmptyRegistry(t *testing.T) {
	r := NewRegistry()
	if reqs := r.Subscribe(nil, ModeFull); reqs != nil {
		t.Errorf("subscribe nothing = %v, want nil", reqs)
	}
	if reqs := r.Requests(); reqs != nil {
		t.Errorf("requests of empty registry = %v", reqs)
	}
	if reqs := r.SetMode(nil, ModeFull); len(reqs) != 1 || !reqs[0].Empty() {
		t.Errorf("set mode on empty registry = %v", reqs)
	}
}

func TestRegistry_Restore(t *testing.T) {
	r := NewRegistry()
	r.Subscribe([]uint32{4}, ModeQuote)

	got := r.Restore(map[uint32]Mode{1: ModeFull, 2: ModeLTP, 3: 0, 5: ModeFull})
	want := []Request{
		SubscribeRequest([]uint32{1, 2, 3, 4, 5}),
		ModeRequest(ModeLTP, []uint32{2}),
		ModeRequest(ModeFull, []uint32{1, 5}),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("requests mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, r.Requests()); diff != "" {
		t.Errorf("Requests mismatch (-want +got):\n%s", diff)
	}
	if m, _ := r.Mode(3); m != DefaultMode {
		t.Errorf("unspecified mode restored as %s", m)
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()
	const workers = 8
	const perWorker = 100

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				tok := uint32(w*perWorker + i)
				r.Subscribe([]uint32{tok}, ModeFull)
				r.SetMode([]uint32{tok}, ModeLTP)
				_ = r.Tokens()
			}
		}(w)
	}
	wg.Wait()

	if r.Len() != workers*perWorker {
		t.Fatalf("len = %d, want %d", r.Len(), workers*perWorker)
	}
	for tok, m := range r.Entries() {
		if m != ModeLTP {
			t.Fatalf("token %d mode = %s, want ltp", tok, m)
		}
	}

	wg = sync.WaitGroup{}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			toks := make([]uint32, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				toks = append(toks, uint32(w*perWorker+i))
			}
			r.Unsubscribe(toks)
		}(w)
	}
	wg.Wait()

	if r.Len() != 0 {
		t.Errorf("len after concurrent unsubscribe = %d", r.Len())
	}
}
