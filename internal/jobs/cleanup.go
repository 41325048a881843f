package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openlegalaid/session-server-go/internal/store"
)

// CleanupJob periodically sweeps expired sessions out of the store. The
// stores' own locking makes the sweep safe against concurrent mutations,
// so the job is just a ticker.
type CleanupJob struct {
	sessions store.Store
	interval time.Duration
	done     chan struct{}
}

func NewCleanupJob(sessions store.Store, interval time.Duration) *CleanupJob {
	return &CleanupJob{
		sessions: sessions,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	count, err := j.sessions.CleanupExpired(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to cleanup sessions")
	} else if count > 0 {
		log.Info().Int64("count", count).Msg("cleaned up sessions")
	}
}
