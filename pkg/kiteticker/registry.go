package kiteticker

import (
	"sort"
	"sync"
)

// Registry tracks the requested mode of every subscribed instrument and
// derives the control commands that keep the server in step with it.
// It performs no I/O: callers send the returned requests themselves.
//
// Every operation holds the lock for its whole read-modify-write, so
// concurrent callers observe each other's updates atomically.
type Registry struct {
	mu     sync.Mutex
	tokens map[uint32]Mode
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tokens: make(map[uint32]Mode)}
}

// Subscribe adds tokens with mode (DefaultMode when unspecified),
// overwriting the mode of tokens already present. It returns a subscribe
// request for the whole subscribed set, followed by a mode request for the
// given tokens when mode is not the default.
func (r *Registry) Subscribe(tokens []uint32, mode Mode) []Request {
	mode = mode.orDefault()

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range tokens {
		r.tokens[t] = mode
	}
	if len(r.tokens) == 0 {
		return nil
	}

	reqs := []Request{SubscribeRequest(r.keysLocked())}
	if mode != DefaultMode && len(tokens) > 0 {
		reqs = append(reqs, ModeRequest(mode, uniqueSorted(tokens)))
	}
	return reqs
}

// SetMode changes the mode of subscribed tokens. An empty tokens slice
// means every subscribed token; tokens that are not subscribed are ignored.
func (r *Registry) SetMode(tokens []uint32, mode Mode) []Request {
	mode = mode.orDefault()

	r.mu.Lock()
	defer r.mu.Unlock()

	affected := r.selectLocked(tokens)
	for _, t := range affected {
		r.tokens[t] = mode
	}
	return []Request{ModeRequest(mode, affected)}
}

// Unsubscribe removes subscribed tokens. An empty tokens slice means every
// subscribed token; tokens that are not subscribed are ignored.
func (r *Registry) Unsubscribe(tokens []uint32) []Request {
	r.mu.Lock()
	defer r.mu.Unlock()

	affected := r.selectLocked(tokens)
	for _, t := range affected {
		delete(r.tokens, t)
	}
	return []Request{UnsubscribeRequest(affected)}
}

// Restore merges saved entries into the registry; a saved mode overwrites
// the current one. It returns the requests that re-establish the full state
// on a fresh connection.
func (r *Registry) Restore(entries map[uint32]Mode) []Request {
	r.mu.Lock()
	defer r.mu.Unlock()

	for t, m := range entries {
		r.tokens[t] = m.orDefault()
	}
	return r.snapshotRequestsLocked()
}

// Requests returns the commands that reproduce the current state on a new
// connection: one subscribe plus one mode request per non-default mode.
func (r *Registry) Requests() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotRequestsLocked()
}

// Tokens returns the subscribed tokens in ascending order.
func (r *Registry) Tokens() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.keysLocked()
}

// Mode returns the current mode of token.
func (r *Registry) Mode(token uint32) (Mode, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.tokens[token]
	return m, ok
}

// Entries returns a copy of the token to mode mapping.
func (r *Registry) Entries() map[uint32]Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[uint32]Mode, len(r.tokens))
	for t, m := range r.tokens {
		out[t] = m
	}
	return out
}

// Len returns the number of subscribed tokens.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}

func (r *Registry) snapshotRequestsLocked() []Request {
	if len(r.tokens) == 0 {
		return nil
	}
	reqs := []Request{SubscribeRequest(r.keysLocked())}

	byMode := make(map[Mode][]uint32)
	for t, m := range r.tokens {
		if m != DefaultMode {
			byMode[m] = append(byMode[m], t)
		}
	}
	for _, m := range []Mode{ModeLTP, ModeFull} {
		if toks, ok := byMode[m]; ok {
			reqs = append(reqs, ModeRequest(m, uniqueSorted(toks)))
		}
	}
	return reqs
}

// selectLocked resolves the empty-means-all rule and drops unknown tokens.
func (r *Registry) selectLocked(tokens []uint32) []uint32 {
	if len(tokens) == 0 {
		return r.keysLocked()
	}
	out := make([]uint32, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := r.tokens[t]; ok {
			out = append(out, t)
		}
	}
	return uniqueSorted(out)
}

func (r *Registry) keysLocked() []uint32 {
	out := make([]uint32, 0, len(r.tokens))
	for t := range r.tokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func uniqueSorted(tokens []uint32) []uint32 {
	seen := make(map[uint32]struct{}, len(tokens))
	out := make([]uint32, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
