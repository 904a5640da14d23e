// Package sqlite implements the storage interfaces on an embedded SQLite
// database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/apptracker/apptracker-go/internal/event"
	"github.com/apptracker/apptracker-go/internal/migrations"
	"github.com/apptracker/apptracker-go/internal/storage"
	_ "modernc.org/sqlite" // Register sqlite driver
)

const connectPingTimeout = 5 * time.Second

// Adapter implements storage.EventStore and storage.KeyValueStore on a single
// SQLite database file. It prepares statements during initialization; the
// variable-arity delete builds its statement per call.
type Adapter struct {
	db               *sql.DB
	stmtInsertEvent  *sql.Stmt
	stmtPendingRows  *sql.Stmt
	stmtCountEvents  *sql.Stmt
	stmtGetValue     *sql.Stmt
	stmtSetValue     *sql.Stmt
}

// Open creates the adapter, runs embedded migrations, and prepares
// statements. path is the SQLite database file; it is created on first open.
func Open(path string) (*Adapter, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite allows one writer at a time; funneling everything through a
	// single connection avoids SQLITE_BUSY churn under concurrent enqueues.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(context.Background(), connectPingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate sqlite database: %w", err)
	}

	a := &Adapter{db: db}
	prepared := []struct {
		query string
		dst   **sql.Stmt
	}{
		{queryInsertEvent, &a.stmtInsertEvent},
		{queryPendingEvents, &a.stmtPendingRows},
		{queryCountEvents, &a.stmtCountEvents},
		{queryGetValue, &a.stmtGetValue},
		{querySetValue, &a.stmtSetValue},
	}
	for _, p := range prepared {
		stmt, err := db.Prepare(p.query)
		if err != nil {
			a.closeStatements()
			db.Close()
			return nil, fmt.Errorf("failed to prepare statement: %w", err)
		}
		*p.dst = stmt
	}

	slog.Debug("[SQLite] Adapter initialized", "path", path)
	return a, nil
}

// InsertEvent appends an event row and returns its id.
func (a *Adapter) InsertEvent(ctx context.Context, ev *event.Event) (int64, error) {
	propsJSON, err := marshalProperties(ev)
	if err != nil {
		return 0, err
	}

	res, err := a.stmtInsertEvent.ExecContext(ctx,
		ev.Name,
		ev.Timestamp,
		nullable(ev.AnonymousID),
		nullable(ev.UserID),
		nullable(ev.SessionID),
		propsJSON,
		time.Now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert event: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted event id: %w", err)
	}

	slog.Debug("[SQLite] Inserted event", "event_name", ev.Name, "id", id)
	return id, nil
}

// PendingEvents returns up to limit rows, oldest first.
func (a *Adapter) PendingEvents(ctx context.Context, limit int) ([]storage.StoredEvent, error) {
	rows, err := a.stmtPendingRows.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending events: %w", err)
	}
	defer rows.Close()

	var stored []storage.StoredEvent
	for rows.Next() {
		se, err := scanEventRow(rows)
		if err != nil {
			return nil, err
		}
		stored = append(stored, se)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending events: %w", err)
	}

	return stored, nil
}

// CountEvents returns the number of undelivered rows.
func (a *Adapter) CountEvents(ctx context.Context) (int, error) {
	var count int
	if err := a.stmtCountEvents.QueryRowContext(ctx).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// DeleteEvents removes exactly the rows with the given ids. The id list comes
// from a prior PendingEvents fetch, so rows inserted concurrently with a
// flush are never touched.
func (a *Adapter) DeleteEvents(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := queryDeleteEventsPrefix + "(" + placeholders + ")"

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	res, err := a.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete events: %w", err)
	}

	if affected, err := res.RowsAffected(); err == nil {
		slog.Debug("[SQLite] Deleted delivered events", "requested", len(ids), "deleted", affected)
	}
	return nil
}

// Get returns the stored value for key.
func (a *Adapter) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := a.stmtGetValue.QueryRowContext(ctx, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get key %q: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key, replacing any previous value.
func (a *Adapter) Set(ctx context.Context, key, value string) error {
	if _, err := a.stmtSetValue.ExecContext(ctx, key, value); err != nil {
		return fmt.Errorf("failed to set key %q: %w", key, err)
	}
	return nil
}

// DB returns the underlying *sql.DB.
func (a *Adapter) DB() *sql.DB {
	return a.db
}

// Close closes the prepared statements and the database.
func (a *Adapter) Close() error {
	firstErr := a.closeStatements()

	if err := a.db.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close database: %w", err)
	}

	return firstErr
}

func (a *Adapter) closeStatements() error {
	var firstErr error
	for _, stmt := range []*sql.Stmt{
		a.stmtInsertEvent,
		a.stmtPendingRows,
		a.stmtCountEvents,
		a.stmtGetValue,
		a.stmtSetValue,
	} {
		if stmt == nil {
			continue
		}
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close statement: %w", err)
		}
	}
	return firstErr
}

var (
	_ storage.EventStore    = (*Adapter)(nil)
	_ storage.KeyValueStore = (*Adapter)(nil)
)
