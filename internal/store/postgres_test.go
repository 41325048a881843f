package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/openlegalaid/session-server-go/internal/errors"
	"github.com/openlegalaid/session-server-go/internal/model"
)

func newTestPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db := sqlx.NewDb(mockDB, "sqlmock")
	return NewPostgresStore(Config{SessionTimeout: time.Hour}, db), mock
}

func sessionRows(t *testing.T, session *model.Session) *sqlmock.Rows {
	t.Helper()
	state, err := json.Marshal(session)
	require.NoError(t, err)
	return sqlmock.NewRows([]string{"state", "last_activity"}).
		AddRow(state, session.LastActivity)
}

func TestPostgresStoreCreate(t *testing.T) {
	s, mock := newTestPostgresStore(t)

	mock.ExpectExec("INSERT INTO sessions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	created, err := s.Create(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "en", created.Language)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreGet(t *testing.T) {
	ctx := context.Background()

	t.Run("returns a stored session", func(t *testing.T) {
		s, mock := newTestPostgresStore(t)
		session := model.NewSession("abc", time.Now())

		mock.ExpectQuery("SELECT state, last_activity FROM sessions").
			WithArgs("abc").
			WillReturnRows(sessionRows(t, session))

		got, err := s.Get(ctx, "abc")
		require.NoError(t, err)
		assert.Equal(t, "abc", got.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown id is not found", func(t *testing.T) {
		s, mock := newTestPostgresStore(t)

		mock.ExpectQuery("SELECT state, last_activity FROM sessions").
			WithArgs("nope").
			WillReturnError(sql.ErrNoRows)

		_, err := s.Get(ctx, "nope")
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeSessionNotFound))
	})

	t.Run("stale row is purged and reported as not found", func(t *testing.T) {
		s, mock := newTestPostgresStore(t)
		session := model.NewSession("abc", time.Now().Add(-2*time.Hour))

		mock.ExpectQuery("SELECT state, last_activity FROM sessions").
			WithArgs("abc").
			WillReturnRows(sessionRows(t, session))
		mock.ExpectExec("DELETE FROM sessions WHERE id").
			WithArgs("abc").
			WillReturnResult(sqlmock.NewResult(0, 1))

		_, err := s.Get(ctx, "abc")
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeSessionNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unreadable state surfaces an integrity error", func(t *testing.T) {
		s, mock := newTestPostgresStore(t)

		rows := sqlmock.NewRows([]string{"state", "last_activity"}).
			AddRow([]byte("not json"), time.Now())
		mock.ExpectQuery("SELECT state, last_activity FROM sessions").
			WithArgs("abc").
			WillReturnRows(rows)

		_, err := s.Get(ctx, "abc")
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeIntegrity))
	})
}

func TestPostgresStoreUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("merges inside a transaction with the row locked", func(t *testing.T) {
		s, mock := newTestPostgresStore(t)
		session := model.NewSession("abc", time.Now())

		mock.ExpectBegin()
		mock.ExpectQuery("FROM sessions WHERE id = (.+) FOR UPDATE").
			WithArgs("abc").
			WillReturnRows(sessionRows(t, session))
		mock.ExpectExec("UPDATE sessions SET state").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		lang := "es"
		err := s.Update(ctx, "abc", model.SessionUpdate{
			UserContext: &model.UserContextUpdate{PreferredLanguage: &lang},
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid merge rolls back without writing", func(t *testing.T) {
		s, mock := newTestPostgresStore(t)
		session := model.NewSession("abc", time.Now())

		mock.ExpectBegin()
		mock.ExpectQuery("FROM sessions WHERE id = (.+) FOR UPDATE").
			WithArgs("abc").
			WillReturnRows(sessionRows(t, session))
		mock.ExpectRollback()

		bad := model.UrgencyLevel("panic")
		err := s.Update(ctx, "abc", model.SessionUpdate{
			UserContext: &model.UserContextUpdate{Urgency: &bad},
		})
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStoreEnd(t *testing.T) {
	ctx := context.Background()

	t.Run("removes a live session", func(t *testing.T) {
		s, mock := newTestPostgresStore(t)

		mock.ExpectExec("DELETE FROM sessions WHERE id").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, s.End(ctx, "abc"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown session is not found", func(t *testing.T) {
		s, mock := newTestPostgresStore(t)

		mock.ExpectExec("DELETE FROM sessions WHERE id").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("DELETE FROM sessions WHERE id").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := s.End(ctx, "abc")
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeSessionNotFound))
	})
}

func TestPostgresStoreCleanupExpired(t *testing.T) {
	s, mock := newTestPostgresStore(t)

	mock.ExpectExec("DELETE FROM sessions WHERE last_activity").
		WillReturnResult(sqlmock.NewResult(0, 3))

	removed, err := s.CleanupExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
