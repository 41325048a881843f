package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	apperrors "github.com/openlegalaid/session-server-go/internal/errors"
	"github.com/openlegalaid/session-server-go/internal/model"
)

const sessionKeyPrefix = "session:"

// RedisStore keeps one JSON value per session with the inactivity timeout
// as the key TTL; Redis evicts idle sessions on its own and Update
// refreshes the TTL, so no sweep is needed. A local mutex serializes
// read-modify-write cycles from this process, matching the one-owner-
// per-session model.
type RedisStore struct {
	mu      sync.Mutex
	rdb     *redis.Client
	timeout time.Duration

	now func() time.Time
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(cfg Config, rdb *redis.Client) *RedisStore {
	return &RedisStore{
		rdb:     rdb,
		timeout: cfg.SessionTimeout,
		now:     time.Now,
	}
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func (s *RedisStore) Create(ctx context.Context) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := model.NewSession(uuid.NewString(), s.now())
	data, err := json.Marshal(session)
	if err != nil {
		return nil, apperrors.Storage(fmt.Errorf("marshal session: %w", err))
	}

	// SetNX guards the (vanishingly unlikely) uuid collision with a live key.
	ok, err := s.rdb.SetNX(ctx, sessionKey(session.ID), data, s.timeout).Result()
	if err != nil {
		return nil, apperrors.Storage(fmt.Errorf("store session: %w", err))
	}
	if !ok {
		return nil, apperrors.Internal("session id collision")
	}

	log.Debug().Str("sessionId", session.ID).Msg("redis session created")
	return session, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(ctx, id)
}

func (s *RedisStore) Update(ctx context.Context, id string, update model.SessionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.getLocked(ctx, id)
	if err != nil {
		return err
	}

	// An empty update is a keep-alive touch; it still rewrites the key so
	// the TTL is refreshed.
	merged := session
	if !update.Empty() {
		merged = update.Apply(session)
		if err := merged.Validate(); err != nil {
			return apperrors.Validation(err.Error())
		}
	}
	merged.LastActivity = monotonicAfter(session.LastActivity, s.now())

	data, err := json.Marshal(merged)
	if err != nil {
		return apperrors.Storage(fmt.Errorf("marshal session: %w", err))
	}
	if err := s.rdb.Set(ctx, sessionKey(id), data, s.timeout).Err(); err != nil {
		return apperrors.Storage(fmt.Errorf("store session: %w", err))
	}
	return nil
}

func (s *RedisStore) End(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed, err := s.rdb.Del(ctx, sessionKey(id)).Result()
	if err != nil {
		return apperrors.Storage(fmt.Errorf("delete session: %w", err))
	}
	if removed == 0 {
		return apperrors.SessionNotFound(id)
	}
	log.Debug().Str("sessionId", id).Msg("redis session ended")
	return nil
}

// CleanupExpired is a no-op for the Redis backend: expiry is delegated to
// key TTLs, which Update refreshes on every successful mutation.
func (s *RedisStore) CleanupExpired(ctx context.Context) (int64, error) {
	return 0, nil
}

func (s *RedisStore) Close() error {
	return nil
}

func (s *RedisStore) getLocked(ctx context.Context, id string) (*model.Session, error) {
	data, err := s.rdb.Get(ctx, sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, apperrors.SessionNotFound(id)
	}
	if err != nil {
		return nil, apperrors.Storage(fmt.Errorf("load session: %w", err))
	}

	var session model.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, apperrors.Integrity(id, err)
	}

	// Guard against a TTL that lagged a clock jump: the logical expiry
	// check still applies.
	if session.Expired(s.now(), s.timeout) {
		s.rdb.Del(ctx, sessionKey(id))
		return nil, apperrors.SessionNotFound(id)
	}
	return &session, nil
}
