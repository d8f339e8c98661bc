package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"kiteticker/pkg/kiteticker"
)

// heartbeat is the one-byte binary frame sent when a client has nothing
// subscribed.
var heartbeat = []byte{0x00}

// ─── Instruments ──────────────────────────────────────────────────────────────

// instrument holds per-token simulation state.
type instrument struct {
	token     uint32
	exchange  kiteticker.Exchange
	open      float64
	high      float64
	low       float64
	prevClose float64
	last      float64
	volume    uint32
	oi        uint32
}

// Default starting prices in rupees.
var defaultPrices = map[uint32]float64{
	256265: 24150.00, // NIFTY 50
	260105: 51200.00, // NIFTY BANK
	408065: 1512.40,  // INFY
	738561: 2915.75,  // RELIANCE
	884737: 962.30,   // TATAMOTORS
}

func newInstrument(token uint32) *instrument {
	price := defaultPrices[token]
	if price == 0 {
		price = 1000
	}
	return &instrument{
		token:     token,
		exchange:  kiteticker.ExchangeFromToken(token),
		open:      price,
		high:      price,
		low:       price,
		prevClose: price,
		last:      price,
		oi:        uint32(rand.Intn(500000)),
	}
}

// step applies a small random walk (±0.1%) snapped to the 0.05 tick size.
func (in *instrument) step(rng *rand.Rand) {
	pct := (rng.Float64()*0.2 - 0.1) / 100.0
	in.last = roundTick(in.last * (1 + pct))
	if in.last < 0.05 {
		in.last = 0.05
	}
	in.high = math.Max(in.high, in.last)
	in.low = math.Min(in.low, in.last)
	in.volume += uint32(rng.Intn(500) + 1)
}

// tick renders the instrument at mode; fields beyond mode are ignored by
// the encoder.
func (in *instrument) tick(mode kiteticker.Mode, now time.Time) kiteticker.Tick {
	last := in.last
	qty := uint32(rand.Intn(100) + 1)
	avg := roundTick((in.open + in.high + in.low + in.last) / 4)
	buyQty := in.volume / 3
	sellQty := in.volume / 4
	ts := now.Truncate(time.Second)

	t := kiteticker.Tick{
		Mode:            mode,
		InstrumentToken: in.token,
		Exchange:        in.exchange,
		LastPrice:       &last,
		LastTradedQty:   &qty,
		AvgTradedPrice:  &avg,
		VolumeTraded:    &in.volume,
		TotalBuyQty:     &buyQty,
		TotalSellQty:    &sellQty,
		OHLC:            &kiteticker.OHLC{Open: in.open, High: in.high, Low: in.low, Close: in.prevClose},
		LastTradedTime:  &ts,
		OI:              &in.oi,
		OIDayHigh:       &in.oi,
		OIDayLow:        &in.oi,
		ExchangeTime:    &ts,
		Depth:           &kiteticker.Depth{},
	}
	for i := 0; i < 5; i++ {
		gap := 0.05 * float64(i+1)
		t.Depth.Buy[i] = kiteticker.DepthItem{Quantity: uint32(10 * (i + 1)), Price: roundTick(last - gap), Orders: uint16(i + 1)}
		t.Depth.Sell[i] = kiteticker.DepthItem{Quantity: uint32(12 * (i + 1)), Price: roundTick(last + gap), Orders: uint16(i + 1)}
	}
	return t
}

func roundTick(p float64) float64 {
	return math.Round(p*20) / 20
}

// ─── Feed ─────────────────────────────────────────────────────────────────────

// client is one streaming connection with its own subscriptions.
type client struct {
	conn *websocket.Conn
	reg  *kiteticker.Registry
	out  chan wsMessage
}

type wsMessage struct {
	kind int
	data []byte
}

// feed simulates the streaming endpoint: it tracks per-client
// subscriptions and broadcasts binary frames on every step.
type feed struct {
	mu          sync.Mutex
	instruments map[uint32]*instrument
	clients     map[*client]struct{}
	rng         *rand.Rand
}

func newFeed(tokens []uint32) *feed {
	f := &feed{
		instruments: make(map[uint32]*instrument, len(tokens)),
		clients:     make(map[*client]struct{}),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, tok := range tokens {
		f.instruments[tok] = newInstrument(tok)
	}
	return f
}

func (f *feed) register(c *client) {
	f.mu.Lock()
	f.clients[c] = struct{}{}
	f.mu.Unlock()
}

func (f *feed) unregister(c *client) {
	f.mu.Lock()
	if _, ok := f.clients[c]; ok {
		close(c.out)
		delete(f.clients, c)
	}
	f.mu.Unlock()
}

// apply runs a control command against c's subscriptions. Unknown tokens
// are reported to the client and not subscribed.
func (f *feed) apply(c *client, req kiteticker.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var known, unknown []uint32
	for _, tok := range req.Tokens {
		if _, ok := f.instruments[tok]; ok {
			known = append(known, tok)
		} else {
			unknown = append(unknown, tok)
		}
	}
	if len(unknown) > 0 && req.Action != kiteticker.ActionUnsubscribe {
		c.send(websocket.TextMessage, errorText(fmt.Sprintf("unknown instrument tokens %v", unknown)))
	}
	if len(known) == 0 && len(req.Tokens) > 0 {
		return
	}

	switch req.Action {
	case kiteticker.ActionSubscribe:
		c.reg.Subscribe(known, req.Mode)
	case kiteticker.ActionMode:
		c.reg.SetMode(known, req.Mode)
	case kiteticker.ActionUnsubscribe:
		c.reg.Unsubscribe(known)
	}
}

// step advances every instrument and sends each client a frame with its
// subscribed tokens, or a heartbeat when it has none.
func (f *feed) step(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, in := range f.instruments {
		in.step(f.rng)
	}
	for c := range f.clients {
		c.send(websocket.BinaryMessage, f.frameLocked(c, now))
	}
}

func (f *feed) frameLocked(c *client, now time.Time) []byte {
	tokens := c.reg.Tokens()
	if len(tokens) == 0 {
		return heartbeat
	}
	packets := make([][]byte, 0, len(tokens))
	for _, tok := range tokens {
		mode, _ := c.reg.Mode(tok)
		b, err := kiteticker.EncodeTick(f.instruments[tok].tick(mode, now))
		if err != nil {
			log.Printf("[tickserver] encode %d: %v", tok, err)
			continue
		}
		packets = append(packets, b)
	}
	return kiteticker.EncodeFrame(packets...)
}

func (f *feed) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for now := range ticker.C {
		f.step(now)
	}
}

// send queues a message, dropping it for a slow client.
func (c *client) send(kind int, data []byte) {
	select {
	case c.out <- wsMessage{kind, data}:
	default:
	}
}

func errorText(msg string) []byte {
	b, _ := json.Marshal(struct {
		Type string `json:"type"`
		Data string `json:"data"`
	}{"error", msg})
	return b
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(f *feed) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("api_key") == "" || q.Get("access_token") == "" {
			http.Error(w, "missing api_key or access_token", http.StatusForbidden)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[tickserver] upgrade error: %v", err)
			return
		}
		log.Printf("[tickserver] client connected: %s (api_key=%s)", r.RemoteAddr, q.Get("api_key"))

		c := &client{conn: conn, reg: kiteticker.NewRegistry(), out: make(chan wsMessage, 256)}
		f.register(c)

		// Read pump: applies control commands until the client goes away.
		go func() {
			defer f.unregister(c)
			for {
				mt, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				if mt != websocket.TextMessage {
					continue
				}
				var req kiteticker.Request
				if err := json.Unmarshal(data, &req); err != nil {
					c.send(websocket.TextMessage, errorText("invalid request: "+err.Error()))
					continue
				}
				f.apply(c, req)
			}
		}()

		// Write pump
		defer func() {
			conn.Close()
			log.Printf("[tickserver] client disconnected: %s", r.RemoteAddr)
		}()
		for msg := range c.out {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(msg.kind, msg.data); err != nil {
				return
			}
		}
	}
}
