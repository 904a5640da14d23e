// Package storage defines the persistence boundary consumed by the queue and
// identity layers. Implementations live in subpackages (sqlite).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/apptracker/apptracker-go/internal/event"
)

// ErrNoRows is returned by adapters when a lookup matches nothing.
var ErrNoRows = errors.New("storage: no rows")

// StoredEvent is an event plus the row identity assigned on insert. ID is
// monotonic and used only for deletion; CreatedAt is the insertion-order sort
// key (oldest-first delivery).
type StoredEvent struct {
	ID        int64
	CreatedAt time.Time
	Event     event.Event
}

// EventStore is an ordered, durable table of not-yet-delivered events.
//
// Rows are never reordered: PendingEvents returns the limit oldest rows, and
// DeleteEvents is the only removal path, invoked only after a confirmed
// successful send of exactly those ids.
type EventStore interface {
	// InsertEvent appends an event and returns its row id.
	InsertEvent(ctx context.Context, ev *event.Event) (int64, error)

	// PendingEvents returns up to limit rows, oldest first.
	PendingEvents(ctx context.Context, limit int) ([]StoredEvent, error)

	// CountEvents returns the number of undelivered rows.
	CountEvents(ctx context.Context) (int, error)

	// DeleteEvents removes exactly the rows with the given ids. Ids that no
	// longer exist are ignored.
	DeleteEvents(ctx context.Context, ids []int64) error
}

// KeyValueStore persists small scalar values (identity and credential state)
// across process restarts.
type KeyValueStore interface {
	// Get returns the stored value for key, with ok=false when absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error
}
