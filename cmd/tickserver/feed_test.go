package main

import (
	"context"
	"math"
	"math/rand"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"kiteticker/pkg/kiteticker"
)

func TestInstrument_Step(t *testing.T) {
	in := newInstrument(408065)
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		in.step(rng)
		if in.last < in.low || in.last > in.high {
			t.Fatalf("step %d: last %v outside [%v, %v]", i, in.last, in.low, in.high)
		}
		if r := in.last * 20; math.Abs(r-math.Round(r)) > 1e-6 {
			t.Fatalf("step %d: %v not on the 0.05 grid", i, in.last)
		}
	}
	if in.volume == 0 {
		t.Error("volume did not grow")
	}
}

func TestFeed_FrameRoundTrip(t *testing.T) {
	f := newFeed([]uint32{256265, 408065})
	c := &client{reg: kiteticker.NewRegistry(), out: make(chan wsMessage, 4)}
	c.reg.Subscribe([]uint32{256265}, kiteticker.ModeLTP)
	c.reg.Subscribe([]uint32{408065}, kiteticker.ModeFull)

	now := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	ticks, err := kiteticker.DecodeFrame(f.frameLocked(c, now))
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if len(ticks) != 2 {
		t.Fatalf("got %d ticks, want 2", len(ticks))
	}

	idx, eq := ticks[0], ticks[1]
	if idx.InstrumentToken != 256265 || idx.Mode != kiteticker.ModeLTP || !idx.IsIndex {
		t.Errorf("index tick = %+v", idx)
	}
	if *idx.LastPrice != 24150 {
		t.Errorf("index last = %v", *idx.LastPrice)
	}
	if eq.Mode != kiteticker.ModeFull || eq.Depth == nil || eq.Depth.Buy[0].Price >= *eq.LastPrice {
		t.Errorf("full tick = %+v", eq)
	}
	if !eq.ExchangeTime.Equal(now) {
		t.Errorf("exchange time = %v, want %v", eq.ExchangeTime, now)
	}
}

func TestFeed_Heartbeat(t *testing.T) {
	f := newFeed([]uint32{408065})
	c := &client{reg: kiteticker.NewRegistry(), out: make(chan wsMessage, 4)}
	f.register(c)
	f.step(time.Now())

	msg := <-c.out
	if string(msg.data) != string(heartbeat) {
		t.Errorf("frame = %x, want heartbeat", msg.data)
	}
	ticks, err := kiteticker.DecodeFrame(msg.data)
	if err != nil || len(ticks) != 0 {
		t.Errorf("heartbeat decoded as %v, %v", ticks, err)
	}
}

func TestFeed_Session(t *testing.T) {
	f := newFeed([]uint32{408065})
	srv := httptest.NewServer(wsHandler(f))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tk, err := kiteticker.Connect(ctx,
		kiteticker.Credentials{APIKey: "key", AccessToken: "token"},
		kiteticker.WithURL("ws"+strings.TrimPrefix(srv.URL, "http")),
	)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tk.Close()

	sub, err := tk.Subscribe([]uint32{408065, 999}, kiteticker.ModeFull)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// Both commands name the unknown token, so two errors come back.
	for i := 0; i < 2; i++ {
		msg, err := sub.NextMessage()
		if err != nil {
			t.Fatalf("NextMessage: %v", err)
		}
		em, ok := msg.(kiteticker.ErrorMessage)
		if !ok || !strings.Contains(em.Text, "999") {
			t.Fatalf("message %d = %#v, want error for 999", i, msg)
		}
	}

	// The error for the mode command is sent after the subscribe is applied
	// and before the mode change, so wait for the server-side registry.
	deadline := time.Now().Add(2 * time.Second)
	for {
		f.mu.Lock()
		var mode kiteticker.Mode
		for c := range f.clients {
			mode, _ = c.reg.Mode(408065)
		}
		f.mu.Unlock()
		if mode == kiteticker.ModeFull {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("server never applied the mode change")
		}
		time.Sleep(10 * time.Millisecond)
	}

	f.step(time.Now())
	msg, err := sub.NextMessage()
	if err != nil {
		t.Fatalf("NextMessage: %v", err)
	}
	tm, ok := msg.(kiteticker.TicksMessage)
	if !ok || len(tm.Ticks) != 1 {
		t.Fatalf("message = %#v, want one tick", msg)
	}
	if tm.Ticks[0].InstrumentToken != 408065 || tm.Ticks[0].Mode != kiteticker.ModeFull {
		t.Errorf("tick = %+v", tm.Ticks[0])
	}
}
