package redis

import (
	"context"
	"log"
	"sync"

	"kiteticker/internal/model"
	"kiteticker/pkg/kiteticker"
)

// pendingEvent is an event that was buffered during circuit-open state.
type pendingEvent struct {
	Channel string
	Payload []byte
}

// BufferedPublisher wraps a Publisher with a circuit breaker. While the
// circuit is open, broker events are buffered locally and flushed when it
// closes again. Tick batches are dropped instead: a stale tick is worse
// than a missing one.
type BufferedPublisher struct {
	pub model.Publisher
	cb  *CircuitBreaker
	ctx context.Context

	mu     sync.Mutex
	buffer []pendingEvent
	maxBuf int // max buffered events before dropping oldest (default: 10000)

	// Callbacks
	OnBuffer    func()          // called when an event is buffered (for metrics)
	OnFlush     func(count int) // called after flushing buffered events
	OnTickDrop  func(count int) // called when a tick batch is dropped
	flushWaitWG sync.WaitGroup
}

// NewBufferedPublisher creates a BufferedPublisher wrapping pub.
func NewBufferedPublisher(ctx context.Context, pub model.Publisher, cb *CircuitBreaker, maxBufferSize int) *BufferedPublisher {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bp := &BufferedPublisher{
		pub:    pub,
		cb:     cb,
		ctx:    ctx,
		buffer: make([]pendingEvent, 0, 64),
		maxBuf: maxBufferSize,
	}

	// Register flush on circuit close
	prevCallback := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prevCallback != nil {
			prevCallback(from, to)
		}
		if to == StateClosed {
			bp.flushWaitWG.Add(1)
			go func() {
				defer bp.flushWaitWG.Done()
				bp.flush()
			}()
		}
	}

	return bp
}

// PublishTicks publishes a tick batch through the circuit breaker. Batches
// arriving while the circuit is open are dropped.
func (bp *BufferedPublisher) PublishTicks(ctx context.Context, ticks []kiteticker.Tick) error {
	err := bp.cb.Execute(func() error {
		return bp.pub.PublishTicks(ctx, ticks)
	})
	if err == ErrCircuitOpen {
		if bp.OnTickDrop != nil {
			bp.OnTickDrop(len(ticks))
		}
		return nil
	}
	return err
}

// PublishEvent publishes an event through the circuit breaker.
// If the circuit is open, the event is buffered locally.
func (bp *BufferedPublisher) PublishEvent(ctx context.Context, channel string, payload []byte) error {
	err := bp.cb.Execute(func() error {
		return bp.pub.PublishEvent(ctx, channel, payload)
	})
	if err == ErrCircuitOpen {
		bp.bufferEvent(channel, payload)
		return nil // buffered, not lost
	}
	return err
}

// Run reads tick batches from in and publishes them.
// Blocks until ctx is cancelled or in is closed.
func (bp *BufferedPublisher) Run(ctx context.Context, in <-chan []kiteticker.Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case ticks, ok := <-in:
			if !ok {
				return
			}
			if err := bp.PublishTicks(ctx, ticks); err != nil {
				log.Printf("[buffered-publisher] tick batch error (%d ticks): %v", len(ticks), err)
			}
		}
	}
}

func (bp *BufferedPublisher) bufferEvent(channel string, payload []byte) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if len(bp.buffer) >= bp.maxBuf {
		// Buffer full — drop oldest
		bp.buffer = bp.buffer[1:]
	}
	bp.buffer = append(bp.buffer, pendingEvent{Channel: channel, Payload: payload})

	if bp.OnBuffer != nil {
		bp.OnBuffer()
	}
}

// flush replays all buffered events through the underlying publisher.
func (bp *BufferedPublisher) flush() {
	bp.mu.Lock()
	if len(bp.buffer) == 0 {
		bp.mu.Unlock()
		return
	}
	// Take ownership of the buffer
	toFlush := bp.buffer
	bp.buffer = make([]pendingEvent, 0, 64)
	bp.mu.Unlock()

	flushed := 0
	for _, ev := range toFlush {
		if err := bp.pub.PublishEvent(bp.ctx, ev.Channel, ev.Payload); err != nil {
			log.Printf("[buffered-publisher] flush %s: %v", ev.Channel, err)
			continue
		}
		flushed++
	}

	log.Printf("[buffered-publisher] flushed %d of %d buffered events", flushed, len(toFlush))
	if bp.OnFlush != nil {
		bp.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered events waiting to be flushed.
func (bp *BufferedPublisher) PendingCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.buffer)
}

// Wait blocks until in-flight flushes have finished.
func (bp *BufferedPublisher) Wait() {
	bp.flushWaitWG.Wait()
}
