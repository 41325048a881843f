package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	apperrors "github.com/openlegalaid/session-server-go/internal/errors"
	"github.com/openlegalaid/session-server-go/internal/model"
)

// PostgresStore persists sessions in a single table with the entity as a
// JSONB state column and last_activity broken out for the expiry sweep.
type PostgresStore struct {
	db      *sqlx.DB
	timeout time.Duration

	now func() time.Time
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(cfg Config, db *sqlx.DB) *PostgresStore {
	return &PostgresStore{
		db:      db,
		timeout: cfg.SessionTimeout,
		now:     time.Now,
	}
}

// EnsureSchema creates the sessions table if it does not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			state JSONB NOT NULL,
			last_activity TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return apperrors.Storage(fmt.Errorf("ensure schema: %w", err))
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context) (*model.Session, error) {
	session := model.NewSession(uuid.NewString(), s.now())
	state, err := json.Marshal(session)
	if err != nil {
		return nil, apperrors.Storage(fmt.Errorf("marshal session: %w", err))
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, state, last_activity, created_at)
		VALUES ($1, $2, $3, $4)
	`, session.ID, state, session.LastActivity, session.StartTime)
	if err != nil {
		return nil, apperrors.Storage(fmt.Errorf("insert session: %w", err))
	}

	log.Debug().Str("sessionId", session.ID).Msg("postgres session created")
	return session, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*model.Session, error) {
	return s.load(ctx, s.db, id)
}

// Update runs inside a transaction with the row locked, so two concurrent
// updates on the same id merge against a consistent snapshot.
func (s *PostgresStore) Update(ctx context.Context, id string, update model.SessionUpdate) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.Storage(fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback()

	session, err := s.load(ctx, tx, id)
	if err != nil {
		return err
	}

	merged := session
	if !update.Empty() {
		merged = update.Apply(session)
		if err := merged.Validate(); err != nil {
			return apperrors.Validation(err.Error())
		}
	}
	merged.LastActivity = monotonicAfter(session.LastActivity, s.now())

	state, err := json.Marshal(merged)
	if err != nil {
		return apperrors.Storage(fmt.Errorf("marshal session: %w", err))
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sessions SET state = $2, last_activity = $3 WHERE id = $1
	`, id, state, merged.LastActivity)
	if err != nil {
		return apperrors.Storage(fmt.Errorf("update session: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Storage(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

func (s *PostgresStore) End(ctx context.Context, id string) error {
	cutoff := s.now().Add(-s.timeout)
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE id = $1 AND last_activity > $2
	`, id, cutoff)
	if err != nil {
		return apperrors.Storage(fmt.Errorf("delete session: %w", err))
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return apperrors.Storage(fmt.Errorf("delete session: %w", err))
	}
	if removed == 0 {
		// Purge a stale row if one was sitting past the timeout.
		s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
		return apperrors.SessionNotFound(id)
	}

	log.Debug().Str("sessionId", id).Msg("postgres session ended")
	return nil
}

func (s *PostgresStore) CleanupExpired(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.timeout)
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE last_activity <= $1
	`, cutoff)
	if err != nil {
		return 0, apperrors.Storage(fmt.Errorf("delete expired sessions: %w", err))
	}
	return result.RowsAffected()
}

func (s *PostgresStore) Close() error {
	return nil
}

// sessionDB is satisfied by both *sqlx.DB and *sqlx.Tx.
type sessionDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *PostgresStore) load(ctx context.Context, db sessionDB, id string) (*model.Session, error) {
	var row struct {
		State        []byte    `db:"state"`
		LastActivity time.Time `db:"last_activity"`
	}
	query := `SELECT state, last_activity FROM sessions WHERE id = $1`
	if _, isTx := db.(*sqlx.Tx); isTx {
		query += ` FOR UPDATE`
	}

	err := db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.SessionNotFound(id)
	}
	if err != nil {
		return nil, apperrors.Storage(fmt.Errorf("load session: %w", err))
	}

	if s.now().Sub(row.LastActivity) > s.timeout {
		db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
		return nil, apperrors.SessionNotFound(id)
	}

	var session model.Session
	if err := json.Unmarshal(row.State, &session); err != nil {
		return nil, apperrors.Integrity(id, err)
	}
	return &session, nil
}
