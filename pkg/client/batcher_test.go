package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu      sync.Mutex
	batches [][]Event
}

func (f *fakeTransport) Send(ctx context.Context, events []Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	batch := make([]Event, len(events))
	copy(batch, events)
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeTransport) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func TestBatcher_FlushesWhenFull(t *testing.T) {
	transport := &fakeTransport{}
	b := NewBatcher(transport, Config{MaxBatchSize: 5, FlushEvery: time.Hour})
	require.NoError(t, b.Start(context.Background()))
	defer b.Stop()

	for i := 0; i < 5; i++ {
		b.Record(Event{Source: "editor", Type: "keypress"})
	}

	require.Eventually(t, func() bool {
		return transport.total() == 5
	}, time.Second, 10*time.Millisecond)
}

func TestBatcher_StopDrainsBuffer(t *testing.T) {
	transport := &fakeTransport{}
	b := NewBatcher(transport, Config{MaxBatchSize: 100, FlushEvery: time.Hour})
	require.NoError(t, b.Start(context.Background()))

	b.Record(Event{Source: "editor", Type: "save"})
	b.Record(Event{Source: "editor", Type: "save"})

	require.NoError(t, b.Stop())
	require.Equal(t, 2, transport.total())
}

func TestBatcher_PeriodicFlush(t *testing.T) {
	transport := &fakeTransport{}
	b := NewBatcher(transport, Config{MaxBatchSize: 100, FlushEvery: 20 * time.Millisecond})
	require.NoError(t, b.Start(context.Background()))
	defer b.Stop()

	b.Record(Event{Source: "browser", Type: "click"})

	require.Eventually(t, func() bool {
		return transport.total() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestBatcher_ManualFlushEmptyIsNoop(t *testing.T) {
	transport := &fakeTransport{}
	b := NewBatcher(transport, Config{MaxBatchSize: 10, FlushEvery: time.Hour})
	require.NoError(t, b.Start(context.Background()))
	defer b.Stop()

	require.NoError(t, b.Flush())
	require.Zero(t, transport.total())
}
