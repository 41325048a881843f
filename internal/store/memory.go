package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/openlegalaid/session-server-go/internal/errors"
	"github.com/openlegalaid/session-server-go/internal/model"
)

// MemoryStore keeps sessions in a mutex-guarded map. A single coarse lock
// serializes per-session mutations against the eviction sweep, so the
// expiry decision and the removal are one atomic step.
type MemoryStore struct {
	mu         sync.Mutex
	sessions   map[string]*model.Session
	timeout    time.Duration
	sweepEvery time.Duration
	lastSweep  time.Time

	now func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(cfg Config) *MemoryStore {
	return &MemoryStore{
		sessions:   make(map[string]*model.Session),
		timeout:    cfg.SessionTimeout,
		sweepEvery: cfg.CleanupInterval,
		now:        time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.maybeSweepLocked(now)

	id := uuid.NewString()
	for _, taken := s.sessions[id]; taken; _, taken = s.sessions[id] {
		id = uuid.NewString()
	}

	session := model.NewSession(id, now)
	s.sessions[id] = session

	log.Debug().Str("sessionId", id).Msg("session created")
	return session.Clone(), nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.lookupLocked(id)
	if err != nil {
		return nil, err
	}
	return session.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, update model.SessionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.lookupLocked(id)
	if err != nil {
		return err
	}

	if update.Empty() {
		session.LastActivity = monotonicAfter(session.LastActivity, s.now())
		return nil
	}

	merged := update.Apply(session)
	if err := merged.Validate(); err != nil {
		return apperrors.Validation(err.Error())
	}

	merged.LastActivity = monotonicAfter(session.LastActivity, s.now())
	s.sessions[id] = merged
	return nil
}

func (s *MemoryStore) End(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.lookupLocked(id); err != nil {
		return err
	}

	delete(s.sessions, id)
	log.Debug().Str("sessionId", id).Msg("session ended")
	return nil
}

func (s *MemoryStore) CleanupExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(s.now()), nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*model.Session)
	return nil
}

// lookupLocked returns the live session or evicts it if it sat idle past
// the timeout. Callers must hold s.mu.
func (s *MemoryStore) lookupLocked(id string) (*model.Session, error) {
	session, ok := s.sessions[id]
	if !ok {
		return nil, apperrors.SessionNotFound(id)
	}
	if session.Expired(s.now(), s.timeout) {
		delete(s.sessions, id)
		return nil, apperrors.SessionNotFound(id)
	}
	return session, nil
}

func (s *MemoryStore) maybeSweepLocked(now time.Time) {
	if s.sweepEvery <= 0 || now.Sub(s.lastSweep) < s.sweepEvery {
		return
	}
	s.sweepLocked(now)
}

func (s *MemoryStore) sweepLocked(now time.Time) int64 {
	var removed int64
	for id, session := range s.sessions {
		if session.Expired(now, s.timeout) {
			delete(s.sessions, id)
			removed++
		}
	}
	s.lastSweep = now
	if removed > 0 {
		log.Debug().Int64("count", removed).Msg("evicted expired sessions")
	}
	return removed
}

// monotonicAfter guarantees LastActivity strictly increases even when the
// wall clock does not.
func monotonicAfter(prev, now time.Time) time.Time {
	if now.After(prev) {
		return now
	}
	return prev.Add(time.Nanosecond)
}
