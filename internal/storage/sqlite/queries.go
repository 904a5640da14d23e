package sqlite

// SQL statements for the local event table and the kv scalar table.

const (
	// queryInsertEvent appends one event row. created_at carries unix millis
	// and is the insertion-order sort key; id exists only so a flush can
	// delete exactly the rows it fetched.
	queryInsertEvent = `
		INSERT INTO events (
			event_name, timestamp, anonymous_id, user_id, session_id,
			properties, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	// queryPendingEvents fetches the oldest undelivered rows. The id
	// tie-breaker keeps ordering strict when two rows share a millisecond.
	queryPendingEvents = `
		SELECT
			id, event_name, timestamp, anonymous_id, user_id, session_id,
			properties, created_at
		FROM events
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`

	queryCountEvents = `SELECT COUNT(*) FROM events`

	// queryDeleteEventsPrefix is completed with one placeholder per id at
	// call time; a prepared statement cannot cover a variable-length IN list.
	queryDeleteEventsPrefix = `DELETE FROM events WHERE id IN `

	queryGetValue = `SELECT value FROM kv WHERE key = ?`

	querySetValue = `
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`
)
