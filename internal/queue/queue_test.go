package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/apptracker/apptracker-go/internal/event"
	"github.com/apptracker/apptracker-go/internal/identity"
	"github.com/apptracker/apptracker-go/internal/storage"
	"github.com/apptracker/apptracker-go/internal/transport"
	"github.com/stretchr/testify/require"
)

// memoryStore is an in-memory EventStore preserving insertion order.
type memoryStore struct {
	mu     sync.Mutex
	nextID int64
	rows   []storage.StoredEvent
}

func newMemoryStore() *memoryStore {
	return &memoryStore{}
}

func (s *memoryStore) InsertEvent(_ context.Context, ev *event.Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.rows = append(s.rows, storage.StoredEvent{
		ID:        s.nextID,
		CreatedAt: time.Now(),
		Event:     *ev,
	})
	return s.nextID, nil
}

func (s *memoryStore) PendingEvents(_ context.Context, limit int) ([]storage.StoredEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := limit
	if n > len(s.rows) {
		n = len(s.rows)
	}
	out := make([]storage.StoredEvent, n)
	copy(out, s.rows[:n])
	return out, nil
}

func (s *memoryStore) CountEvents(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows), nil
}

func (s *memoryStore) DeleteEvents(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := make(map[int64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := s.rows[:0]
	for _, row := range s.rows {
		if !drop[row.ID] {
			kept = append(kept, row)
		}
	}
	s.rows = kept
	return nil
}

func (s *memoryStore) snapshot() []storage.StoredEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.StoredEvent, len(s.rows))
	copy(out, s.rows)
	return out
}

// memoryKV is an in-memory KeyValueStore for the identity manager.
type memoryKV struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryKV() *memoryKV {
	return &memoryKV{data: make(map[string]string)}
}

func (m *memoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.data[key]
	return value, ok, nil
}

func (m *memoryKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

// fakeSender records batches and can fail or run a hook mid-send.
type fakeSender struct {
	mu      sync.Mutex
	batches [][]event.Event
	err     error
	onSend  func()
}

func (f *fakeSender) SendBatch(_ context.Context, _ string, events []event.Event) (*transport.BatchResponse, error) {
	f.mu.Lock()
	batch := make([]event.Event, len(events))
	copy(batch, events)
	f.mu.Unlock()

	if f.onSend != nil {
		f.onSend()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.batches = append(f.batches, batch)
	return &transport.BatchResponse{Received: len(events), Inserted: len(events)}, nil
}

func (f *fakeSender) sentBatches() [][]event.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]event.Event, len(f.batches))
	copy(out, f.batches)
	return out
}

func newTestQueue(t *testing.T, store storage.EventStore, sender Sender, batchSize int) *Queue {
	t.Helper()
	idm := identity.NewManager(newMemoryKV())
	return New(store, idm, sender, "pk-test", batchSize, time.Hour)
}

func testEvent(name string) event.Event {
	return event.New(name, nil)
}

func TestEnqueue_EnrichesAndPersists(t *testing.T) {
	store := newMemoryStore()
	q := newTestQueue(t, store, &fakeSender{}, 100)
	ctx := context.Background()

	ev := testEvent("screen_view")
	require.NoError(t, q.Enqueue(ctx, &ev))

	rows := store.snapshot()
	require.Len(t, rows, 1)
	require.True(t, strings.HasPrefix(rows[0].Event.AnonymousID, "anon-"))
	require.True(t, strings.HasPrefix(rows[0].Event.SessionID, "session-"))
	require.Empty(t, rows[0].Event.UserID)
}

func TestEnqueue_DoesNotOverwriteExplicitFields(t *testing.T) {
	store := newMemoryStore()
	q := newTestQueue(t, store, &fakeSender{}, 100)
	ctx := context.Background()

	ev := testEvent("screen_view")
	ev.AnonymousID = "anon-explicit"
	ev.UserID = "user-explicit"
	ev.SessionID = "session-explicit"
	require.NoError(t, q.Enqueue(ctx, &ev))

	rows := store.snapshot()
	require.Len(t, rows, 1)
	require.Equal(t, "anon-explicit", rows[0].Event.AnonymousID)
	require.Equal(t, "user-explicit", rows[0].Event.UserID)
	require.Equal(t, "session-explicit", rows[0].Event.SessionID)
}

func TestEnqueue_RejectsInvalidEvent(t *testing.T) {
	store := newMemoryStore()
	q := newTestQueue(t, store, &fakeSender{}, 100)

	ev := event.Event{Timestamp: "2026-08-29T12:00:00Z"}
	require.Error(t, q.Enqueue(context.Background(), &ev))
	require.Empty(t, store.snapshot())
}

func TestFlush_EmptyStoreIsNoop(t *testing.T) {
	sender := &fakeSender{}
	q := newTestQueue(t, newMemoryStore(), sender, 10)

	require.NoError(t, q.Flush(context.Background()))
	require.Empty(t, sender.sentBatches())
}

func TestFlush_SuccessDeletesExactlySentRows(t *testing.T) {
	store := newMemoryStore()
	sender := &fakeSender{}
	q := newTestQueue(t, store, sender, 2)
	ctx := context.Background()

	// Seed the store directly so the size trigger stays out of the picture.
	for _, name := range []string{"a", "b", "c"} {
		ev := testEvent(name)
		_, err := store.InsertEvent(ctx, &ev)
		require.NoError(t, err)
	}

	// Batch size 2: one flush delivers the two oldest rows only.
	require.NoError(t, q.Flush(ctx))

	batches := sender.sentBatches()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 2)
	require.Equal(t, "a", batches[0][0].Name)
	require.Equal(t, "b", batches[0][1].Name)

	rows := store.snapshot()
	require.Len(t, rows, 1)
	require.Equal(t, "c", rows[0].Event.Name)
}

func TestFlush_FailureLeavesAllRows(t *testing.T) {
	store := newMemoryStore()
	sender := &fakeSender{err: errors.New("connection refused")}
	q := newTestQueue(t, store, sender, 10)
	ctx := context.Background()

	for _, name := range []string{"a", "b"} {
		ev := testEvent(name)
		require.NoError(t, q.Enqueue(ctx, &ev))
	}
	before := store.snapshot()

	require.Error(t, q.Flush(ctx))
	require.Equal(t, before, store.snapshot())

	// The same rows are eligible for the next attempt; flipping the sender
	// healthy delivers them.
	sender.mu.Lock()
	sender.err = nil
	sender.mu.Unlock()

	require.NoError(t, q.Flush(ctx))
	require.Empty(t, store.snapshot())
}

func TestFlush_NonSuccessStatusLeavesAllRows(t *testing.T) {
	store := newMemoryStore()
	sender := &fakeSender{err: &transport.StatusError{StatusCode: 500, Body: "boom"}}
	q := newTestQueue(t, store, sender, 10)
	ctx := context.Background()

	ev := testEvent("a")
	require.NoError(t, q.Enqueue(ctx, &ev))

	require.Error(t, q.Flush(ctx))
	require.Len(t, store.snapshot(), 1)
}

func TestFlush_ConcurrentInsertIsNotDeleted(t *testing.T) {
	store := newMemoryStore()
	q := newTestQueue(t, store, &fakeSender{}, 10)
	ctx := context.Background()

	sender := &fakeSender{}
	sender.onSend = func() {
		// Simulates an enqueue racing the in-flight send: the new row lands
		// between the fetch and the delete.
		late := testEvent("late")
		require.NoError(t, q.Enqueue(ctx, &late))
	}
	q.sender = sender

	early := testEvent("early")
	require.NoError(t, q.Enqueue(ctx, &early))

	require.NoError(t, q.Flush(ctx))

	rows := store.snapshot()
	require.Len(t, rows, 1)
	require.Equal(t, "late", rows[0].Event.Name)

	batches := sender.sentBatches()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)
	require.Equal(t, "early", batches[0][0].Name)
}

func TestFlush_DeliversOldestFirst(t *testing.T) {
	store := newMemoryStore()
	sender := &fakeSender{}
	q := newTestQueue(t, store, sender, 10)
	ctx := context.Background()

	var names []string
	for i := 0; i < 5; i++ {
		names = append(names, fmt.Sprintf("event-%d", i))
		ev := testEvent(names[i])
		require.NoError(t, q.Enqueue(ctx, &ev))
	}

	require.NoError(t, q.Flush(ctx))

	batches := sender.sentBatches()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 5)
	for i, ev := range batches[0] {
		require.Equal(t, names[i], ev.Name)
	}
}

func TestEnqueue_BatchSizeTriggersImmediateFlush(t *testing.T) {
	store := newMemoryStore()
	sender := &fakeSender{}
	// flushInterval is an hour: only the size threshold can flush here.
	q := newTestQueue(t, store, sender, 5)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		ev := testEvent(fmt.Sprintf("event-%d", i))
		require.NoError(t, q.Enqueue(ctx, &ev))
	}
	require.Empty(t, sender.sentBatches(), "below the threshold nothing is sent")

	ev := testEvent("event-4")
	require.NoError(t, q.Enqueue(ctx, &ev))

	require.Eventually(t, func() bool {
		return len(sender.sentBatches()) > 0
	}, 2*time.Second, 10*time.Millisecond, "5th event must trigger a flush without waiting for the timer")
}

func TestPeriodicFlush(t *testing.T) {
	store := newMemoryStore()
	sender := &fakeSender{}
	idm := identity.NewManager(newMemoryKV())
	q := New(store, idm, sender, "pk-test", 100, 20*time.Millisecond)
	ctx := context.Background()

	ev := testEvent("slow-traffic")
	require.NoError(t, q.Enqueue(ctx, &ev))

	q.Start()
	defer q.Stop()

	require.Eventually(t, func() bool {
		count, err := store.CountEvents(ctx)
		return err == nil && count == 0
	}, 2*time.Second, 10*time.Millisecond, "timer must deliver traffic below the batch size")
}

func TestStop_IsIdempotentAndKeepsQueueUsable(t *testing.T) {
	store := newMemoryStore()
	sender := &fakeSender{}
	idm := identity.NewManager(newMemoryKV())
	q := New(store, idm, sender, "pk-test", 100, 10*time.Millisecond)
	ctx := context.Background()

	q.Start()
	q.Stop()
	q.Stop()

	// Enqueue and Flush keep Ready semantics after Stop, just unscheduled.
	ev := testEvent("after-stop")
	require.NoError(t, q.Enqueue(ctx, &ev))
	require.NoError(t, q.Flush(ctx))
	require.Empty(t, store.snapshot())
}

func TestPendingCount(t *testing.T) {
	store := newMemoryStore()
	q := newTestQueue(t, store, &fakeSender{}, 100)
	ctx := context.Background()

	count, err := q.PendingCount(ctx)
	require.NoError(t, err)
	require.Zero(t, count)

	ev := testEvent("a")
	require.NoError(t, q.Enqueue(ctx, &ev))

	count, err = q.PendingCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
