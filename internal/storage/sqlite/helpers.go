package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/apptracker/apptracker-go/internal/event"
	"github.com/apptracker/apptracker-go/internal/property"
	"github.com/apptracker/apptracker-go/internal/storage"
)

// marshalProperties marshals an event's properties to JSON for storage.
// Nil properties produce nil (SQL NULL) rather than the JSON "null" literal.
func marshalProperties(ev *event.Event) ([]byte, error) {
	if len(ev.Properties) == 0 {
		return nil, nil
	}
	propsJSON, err := json.Marshal(ev.Properties)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal properties: %w", err)
	}
	return propsJSON, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanEventRow scans a database row into a StoredEvent. Nullable identity
// columns map to empty strings; the properties column round-trips through the
// closed property value type.
func scanEventRow(row scanner) (storage.StoredEvent, error) {
	var (
		se        storage.StoredEvent
		anonID    sql.NullString
		userID    sql.NullString
		sessionID sql.NullString
		propsJSON []byte
		createdAt int64
	)

	err := row.Scan(
		&se.ID,
		&se.Event.Name,
		&se.Event.Timestamp,
		&anonID,
		&userID,
		&sessionID,
		&propsJSON,
		&createdAt,
	)
	if err != nil {
		return storage.StoredEvent{}, fmt.Errorf("failed to scan event row: %w", err)
	}

	se.Event.AnonymousID = anonID.String
	se.Event.UserID = userID.String
	se.Event.SessionID = sessionID.String
	se.CreatedAt = time.UnixMilli(createdAt)

	if len(propsJSON) > 0 {
		var props property.Map
		if err := json.Unmarshal(propsJSON, &props); err != nil {
			return storage.StoredEvent{}, fmt.Errorf("failed to unmarshal properties: %w", err)
		}
		se.Event.Properties = props
	}

	return se, nil
}

// nullable maps an empty string to SQL NULL.
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
