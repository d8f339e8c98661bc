package bus

import (
	"context"
	"log"
	"sync"

	"kiteticker/pkg/kiteticker"
)

// FanOut broadcasts decoded tick batches from a single input channel to N
// output channels. If an output channel is full, the batch is dropped for
// that consumer so a slow consumer never stalls the websocket read loop.
type FanOut struct {
	mu      sync.RWMutex
	outputs []chan []kiteticker.Tick
	bufSize int

	// OnDrop is called when a batch is dropped for a subscriber.
	// subscriberIdx is the 0-based index of the slow consumer.
	OnDrop func(subscriberIdx int)
}

// New creates a FanOut with the given buffer size for output channels.
func New(outputBufferSize int) *FanOut {
	return &FanOut{
		bufSize: outputBufferSize,
	}
}

// Subscribe creates and returns a new output channel. Subscribe before Run.
func (f *FanOut) Subscribe() <-chan []kiteticker.Tick {
	ch := make(chan []kiteticker.Tick, f.bufSize)
	f.mu.Lock()
	f.outputs = append(f.outputs, ch)
	f.mu.Unlock()
	return ch
}

// Run reads from the input channel and fans out to all subscribers.
// Consumers share the batch slice and must not modify it.
// Blocks until ctx is cancelled or input is closed.
func (f *FanOut) Run(ctx context.Context, input <-chan []kiteticker.Tick) {
	defer func() {
		f.mu.RLock()
		for _, ch := range f.outputs {
			close(ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-input:
			if !ok {
				return
			}
			f.mu.RLock()
			for i, ch := range f.outputs {
				select {
				case ch <- batch:
				default:
					if f.OnDrop != nil {
						f.OnDrop(i)
					} else {
						log.Printf("[bus] output channel %d full, dropping %d ticks", i, len(batch))
					}
				}
			}
			f.mu.RUnlock()
		}
	}
}

// ChannelStat is the (length, capacity) of one subscriber channel.
type ChannelStat struct {
	Len int
	Cap int
}

// ChannelStats reports saturation of each subscriber channel.
func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, ch := range f.outputs {
		stats[i] = ChannelStat{Len: len(ch), Cap: cap(ch)}
	}
	return stats
}
