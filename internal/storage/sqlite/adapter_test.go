package sqlite

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/apptracker/apptracker-go/internal/event"
	"github.com/apptracker/apptracker-go/internal/property"
	"github.com/stretchr/testify/require"
)

func TestAdapter_InsertEvent(t *testing.T) {
	tests := []struct {
		name       string
		event      event.Event
		mockResult func(mock sqlmock.Sqlmock)
		assertions func(t *testing.T, id int64, err error)
	}{
		{
			name: "success returns row id",
			event: event.Event{
				Name:        "screen_view",
				Timestamp:   "2026-08-29T12:00:00Z",
				AnonymousID: "anon-1",
				SessionID:   "session-1",
				Properties:  property.Map{"screen": property.String("home")},
			},
			mockResult: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(regexp.QuoteMeta(queryInsertEvent)).
					WithArgs(
						"screen_view",
						"2026-08-29T12:00:00Z",
						"anon-1",
						nil,
						"session-1",
						[]byte(`{"screen":"home"}`),
						sqlmock.AnyArg(),
					).
					WillReturnResult(sqlmock.NewResult(42, 1))
			},
			assertions: func(t *testing.T, id int64, err error) {
				require.NoError(t, err)
				require.Equal(t, int64(42), id)
			},
		},
		{
			name: "nil properties stored as SQL NULL",
			event: event.Event{
				Name:        "app_open",
				Timestamp:   "2026-08-29T12:00:00Z",
				AnonymousID: "anon-1",
				SessionID:   "session-1",
			},
			mockResult: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(regexp.QuoteMeta(queryInsertEvent)).
					WithArgs(
						"app_open",
						"2026-08-29T12:00:00Z",
						"anon-1",
						nil,
						"session-1",
						nil,
						sqlmock.AnyArg(),
					).
					WillReturnResult(sqlmock.NewResult(7, 1))
			},
			assertions: func(t *testing.T, id int64, err error) {
				require.NoError(t, err)
				require.Equal(t, int64(7), id)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			adapter, mock, db := newMockAdapter(t)
			defer db.Close()

			tc.mockResult(mock)

			id, err := adapter.InsertEvent(context.Background(), &tc.event)
			tc.assertions(t, id, err)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAdapter_PendingEvents(t *testing.T) {
	adapter, mock, db := newMockAdapter(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(queryPendingEvents)).
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows(eventRowColumns()).
			AddRow(
				int64(1),
				"screen_view",
				"2026-08-29T12:00:00Z",
				"anon-1",
				nil,
				"session-1",
				[]byte(`{"screen":"home","count":3}`),
				int64(1756468800000),
			).
			AddRow(
				int64(2),
				"button_click",
				"2026-08-29T12:00:01Z",
				"anon-1",
				"user-7",
				"session-1",
				nil,
				int64(1756468801000),
			),
		).RowsWillBeClosed()

	stored, err := adapter.PendingEvents(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, stored, 2)

	require.Equal(t, int64(1), stored[0].ID)
	require.Equal(t, "screen_view", stored[0].Event.Name)
	require.Empty(t, stored[0].Event.UserID)
	screen, ok := stored[0].Event.Properties["screen"].AsString()
	require.True(t, ok)
	require.Equal(t, "home", screen)
	count, ok := stored[0].Event.Properties["count"].AsNumber()
	require.True(t, ok)
	require.Equal(t, "3", count.String())

	require.Equal(t, int64(2), stored[1].ID)
	require.Equal(t, "user-7", stored[1].Event.UserID)
	require.Nil(t, stored[1].Event.Properties)
	require.True(t, stored[1].CreatedAt.After(stored[0].CreatedAt))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_CountEvents(t *testing.T) {
	adapter, mock, db := newMockAdapter(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(queryCountEvents)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	count, err := adapter.CountEvents(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_DeleteEvents(t *testing.T) {
	t.Run("builds one placeholder per id", func(t *testing.T) {
		adapter, mock, db := newMockAdapter(t)
		defer db.Close()

		mock.ExpectExec(regexp.QuoteMeta(queryDeleteEventsPrefix+"(?,?,?)")).
			WithArgs(int64(1), int64(2), int64(5)).
			WillReturnResult(sqlmock.NewResult(0, 3))

		err := adapter.DeleteEvents(context.Background(), []int64{1, 2, 5})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty id set is a no-op", func(t *testing.T) {
		adapter, mock, db := newMockAdapter(t)
		defer db.Close()

		err := adapter.DeleteEvents(context.Background(), nil)
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAdapter_KeyValue(t *testing.T) {
	t.Run("get existing key", func(t *testing.T) {
		adapter, mock, db := newMockAdapter(t)
		defer db.Close()

		mock.ExpectQuery(regexp.QuoteMeta(queryGetValue)).
			WithArgs("anonymous_id").
			WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("anon-1"))

		value, ok, err := adapter.Get(context.Background(), "anonymous_id")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "anon-1", value)
	})

	t.Run("get missing key reports absent", func(t *testing.T) {
		adapter, mock, db := newMockAdapter(t)
		defer db.Close()

		mock.ExpectQuery(regexp.QuoteMeta(queryGetValue)).
			WithArgs("user_id").
			WillReturnRows(sqlmock.NewRows([]string{"value"}))

		value, ok, err := adapter.Get(context.Background(), "user_id")
		require.NoError(t, err)
		require.False(t, ok)
		require.Empty(t, value)
	})

	t.Run("set upserts", func(t *testing.T) {
		adapter, mock, db := newMockAdapter(t)
		defer db.Close()

		mock.ExpectExec(regexp.QuoteMeta(querySetValue)).
			WithArgs("session_id", "session-9").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, adapter.Set(context.Background(), "session_id", "session-9"))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func newMockAdapter(t *testing.T) (*Adapter, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	adapter := &Adapter{
		db:              db,
		stmtInsertEvent: mustPrepareStmt(t, db, mock, queryInsertEvent),
		stmtPendingRows: mustPrepareStmt(t, db, mock, queryPendingEvents),
		stmtCountEvents: mustPrepareStmt(t, db, mock, queryCountEvents),
		stmtGetValue:    mustPrepareStmt(t, db, mock, queryGetValue),
		stmtSetValue:    mustPrepareStmt(t, db, mock, querySetValue),
	}

	return adapter, mock, db
}

func mustPrepareStmt(t *testing.T, db *sql.DB, mock sqlmock.Sqlmock, query string) *sql.Stmt {
	t.Helper()

	mock.ExpectPrepare(regexp.QuoteMeta(query))
	stmt, err := db.Prepare(query)
	require.NoError(t, err)

	return stmt
}

func eventRowColumns() []string {
	return []string{
		"id",
		"event_name",
		"timestamp",
		"anonymous_id",
		"user_id",
		"session_id",
		"properties",
		"created_at",
	}
}
