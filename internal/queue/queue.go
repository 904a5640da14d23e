// Package queue is the orchestration core of the pipeline: it enriches and
// persists incoming events, decides when to flush (size threshold or timer),
// and drives delivery retries against the collector.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/apptracker/apptracker-go/internal/event"
	"github.com/apptracker/apptracker-go/internal/identity"
	"github.com/apptracker/apptracker-go/internal/storage"
	"github.com/apptracker/apptracker-go/internal/transport"
	"golang.org/x/sync/singleflight"
)

// Sender delivers one batch of events in a single network call.
type Sender interface {
	SendBatch(ctx context.Context, projectKey string, events []event.Event) (*transport.BatchResponse, error)
}

// Queue owns the durable event table and the flush schedule. The project key
// is fixed for the queue's lifetime. Safe for concurrent use: enqueues may
// race with a flush; a flush deletes only the rows it fetched, so rows
// inserted during the send are never lost.
type Queue struct {
	store         storage.EventStore
	identity      *identity.Manager
	sender        Sender
	projectKey    string
	batchSize     int
	flushInterval time.Duration

	// flushGroup collapses concurrent flush triggers (size threshold racing
	// the periodic timer) into one delivery attempt.
	flushGroup singleflight.Group

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a queue. Call Start to begin periodic flushing.
func New(store storage.EventStore, idm *identity.Manager, sender Sender, projectKey string, batchSize int, flushInterval time.Duration) *Queue {
	return &Queue{
		store:         store,
		identity:      idm,
		sender:        sender,
		projectKey:    projectKey,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Start launches the periodic flush loop. This is the only source of flush
// attempts when traffic stays below the batch size.
func (q *Queue) Start() {
	slog.Info("[Queue] Starting periodic flush",
		"interval", q.flushInterval,
		"batch_size", q.batchSize,
	)
	go q.run()
}

func (q *Queue) run() {
	defer close(q.doneCh)

	ticker := time.NewTicker(q.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := q.Flush(context.Background()); err != nil {
				slog.Warn("[Queue] Periodic flush failed, events retained for retry", "error", err)
			}
		case <-q.stopCh:
			return
		}
	}
}

// Stop cancels future timer ticks. A flush already in flight completes; no
// events are lost. Enqueue and Flush keep working after Stop, just
// unscheduled.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
		<-q.doneCh
		slog.Info("[Queue] Periodic flush stopped")
	})
}

// Enqueue enriches the event with the current identity/session snapshot,
// persists it, records activity, and triggers an immediate flush when the
// durable row count reaches the batch size.
func (q *Queue) Enqueue(ctx context.Context, ev *event.Event) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	if err := q.enrich(ctx, ev); err != nil {
		return err
	}

	id, err := q.store.InsertEvent(ctx, ev)
	if err != nil {
		return fmt.Errorf("failed to persist event %q: %w", ev.Name, err)
	}

	if err := q.identity.Touch(ctx); err != nil {
		slog.Warn("[Queue] Failed to record session activity", "error", err)
	}

	count, err := q.store.CountEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to count pending events: %w", err)
	}

	slog.Debug("[Queue] Event enqueued",
		"event_name", ev.Name,
		"row_id", id,
		"pending", count,
	)

	if count >= q.batchSize {
		slog.Debug("[Queue] Batch size reached, flushing immediately", "pending", count)
		go func() {
			if err := q.Flush(context.Background()); err != nil {
				slog.Warn("[Queue] Size-triggered flush failed, events retained for retry", "error", err)
			}
		}()
	}

	return nil
}

// enrich fills any enrichment field not already set on the event. An
// explicitly supplied field is never overwritten.
func (q *Queue) enrich(ctx context.Context, ev *event.Event) error {
	if ev.AnonymousID == "" {
		anonID, err := q.identity.AnonymousID(ctx)
		if err != nil {
			return fmt.Errorf("failed to resolve anonymous id: %w", err)
		}
		ev.AnonymousID = anonID
	}

	if ev.UserID == "" {
		userID, err := q.identity.UserID(ctx)
		if err != nil {
			return fmt.Errorf("failed to resolve user id: %w", err)
		}
		ev.UserID = userID
	}

	if ev.SessionID == "" {
		sessionID, err := q.identity.SessionID(ctx)
		if err != nil {
			return fmt.Errorf("failed to resolve session id: %w", err)
		}
		ev.SessionID = sessionID
	}

	return nil
}

// Flush attempts to deliver one batch of the oldest pending events.
// Concurrent callers share a single attempt. On success the fetched rows are
// deleted; on any failure every row stays in place and the next flush
// trigger retries the same batch. Retries are unbounded with no backoff.
func (q *Queue) Flush(ctx context.Context) error {
	_, err, _ := q.flushGroup.Do("flush", func() (any, error) {
		return nil, q.flushOnce(ctx)
	})
	return err
}

func (q *Queue) flushOnce(ctx context.Context) error {
	stored, err := q.store.PendingEvents(ctx, q.batchSize)
	if err != nil {
		return fmt.Errorf("failed to fetch pending events: %w", err)
	}
	if len(stored) == 0 {
		return nil
	}

	events := make([]event.Event, len(stored))
	ids := make([]int64, len(stored))
	for i, se := range stored {
		events[i] = se.Event
		ids[i] = se.ID
	}

	slog.Debug("[Queue] Sending batch", "events", len(events))

	resp, err := q.sender.SendBatch(ctx, q.projectKey, events)
	if err != nil {
		// Rows stay untouched; the same batch is eligible for the very next
		// flush attempt.
		return fmt.Errorf("failed to send batch of %d events: %w", len(events), err)
	}

	// Delete exactly the fetched rows. Rows inserted while the send was in
	// flight are outside the id set and survive.
	if err := q.store.DeleteEvents(ctx, ids); err != nil {
		return fmt.Errorf("failed to delete delivered events: %w", err)
	}

	slog.Info("[Queue] Batch delivered",
		"events", len(events),
		"received", resp.Received,
		"inserted", resp.Inserted,
	)
	return nil
}

// PendingCount returns the number of undelivered rows in the durable store.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	return q.store.CountEvents(ctx)
}
