package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds configuration for the batcher.
type Config struct {
	MaxBatchSize int
	FlushEvery   time.Duration
}

// DefaultConfig matches a low-rate desktop capture client.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize: 100,
		FlushEvery:   5 * time.Second,
	}
}

// Batcher buffers events and ships them in batches, either when the buffer
// fills or on the flush interval, whichever comes first.
type Batcher struct {
	config    Config
	transport Transport

	events []Event
	mu     sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	flushing atomic.Bool // one in-flight flush at a time
}

// NewBatcher creates a batcher over the given transport.
func NewBatcher(transport Transport, config Config) *Batcher {
	if config.MaxBatchSize < 1 {
		config.MaxBatchSize = DefaultConfig().MaxBatchSize
	}
	if config.FlushEvery <= 0 {
		config.FlushEvery = DefaultConfig().FlushEvery
	}
	return &Batcher{
		config:    config,
		transport: transport,
		events:    make([]Event, 0, config.MaxBatchSize),
		done:      make(chan struct{}),
	}
}

// Start starts the background flush loop.
func (b *Batcher) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)

	go b.flushLoop()
	return nil
}

// Record buffers one event. When the buffer fills, a flush is kicked off in
// the background; the atomic flag keeps a burst of Records from spawning a
// flush goroutine each.
func (b *Batcher) Record(event Event) {
	b.mu.Lock()
	b.events = append(b.events, event)
	shouldFlush := len(b.events) >= b.config.MaxBatchSize
	b.mu.Unlock()

	if shouldFlush && b.flushing.CompareAndSwap(false, true) {
		go func() {
			b.flush()
			b.flushing.Store(false)
		}()
	}
}

// Flush synchronously sends all pending events.
func (b *Batcher) Flush() error {
	b.mu.Lock()
	if len(b.events) == 0 {
		b.mu.Unlock()
		return nil
	}

	events := make([]Event, len(b.events))
	copy(events, b.events)
	b.events = b.events[:0]
	b.mu.Unlock()

	return b.send(events)
}

// Stop stops the flush loop and drains the buffer.
func (b *Batcher) Stop() error {
	if b.cancel != nil {
		b.cancel()
	}

	<-b.done

	return b.Flush()
}

func (b *Batcher) flushLoop() {
	defer close(b.done)

	ticker := time.NewTicker(b.config.FlushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			if b.flushing.CompareAndSwap(false, true) {
				b.flush()
				b.flushing.Store(false)
			}
		}
	}
}

// flush sends pending events without blocking the caller.
func (b *Batcher) flush() {
	b.mu.Lock()
	if len(b.events) == 0 {
		b.mu.Unlock()
		return
	}

	events := make([]Event, len(b.events))
	copy(events, b.events)
	b.events = b.events[:0]
	b.mu.Unlock()

	go b.send(events)
}

func (b *Batcher) send(events []Event) error {
	// Stop drains after cancelling b.ctx; the final flush still has to ship.
	base := b.ctx
	if base == nil || base.Err() != nil {
		base = context.Background()
	}
	ctx, cancel := context.WithTimeout(base, 5*time.Second)
	defer cancel()

	return b.transport.Send(ctx, events)
}
