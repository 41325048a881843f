package store

import (
	"context"
	"time"

	"github.com/openlegalaid/session-server-go/internal/model"
)

// Store is the session lifecycle contract. One conversational client owns
// a session id at a time; reads never bump activity, only Update does.
// Expired sessions behave exactly like unknown ones.
type Store interface {
	// Create allocates a fresh id and records a session with default state.
	Create(ctx context.Context) (*model.Session, error)
	// Get returns the current session or ErrCodeSessionNotFound if the id
	// is unknown or expired. An expired session is evicted as a side effect.
	Get(ctx context.Context, id string) (*model.Session, error)
	// Update merges a partial update into the session, validates the
	// result, and bumps LastActivity. Invalid merges are rejected without
	// mutating stored state.
	Update(ctx context.Context, id string, update model.SessionUpdate) error
	// End permanently removes the session. No tombstone is kept.
	End(ctx context.Context, id string) error
	// CleanupExpired evicts every session past the inactivity timeout and
	// returns how many were removed. Safe to call concurrently.
	CleanupExpired(ctx context.Context) (int64, error)
	// Close releases the store's resources.
	Close() error
}

// BlobStore manages labeled binary payloads (e.g. recorded audio) owned by
// a session. Implemented by the encrypted store only.
type BlobStore interface {
	// StoreAudio writes a blob scoped to the session and returns its handle.
	StoreAudio(ctx context.Context, sessionID string, data []byte, label string) (string, error)
	// RetrieveAudio returns the blob bytes for a previously stored handle.
	RetrieveAudio(ctx context.Context, sessionID, handle string) ([]byte, error)
	// DeleteAudio securely removes a blob. It reports whether anything was
	// actually deleted; a missing blob is not an error.
	DeleteAudio(ctx context.Context, sessionID, handle string) (bool, error)
}

// PrivacyReport summarizes how a session's data is protected at rest
// without handing decrypted content to the caller.
type PrivacyReport struct {
	SessionID         string    `json:"sessionId"`
	EncryptedAtRest   bool      `json:"encryptedAtRest"`
	PIIAnonymized     bool      `json:"piiAnonymized"`
	AnonymizedItems   int       `json:"anonymizedItems"`
	ConversationTurns int       `json:"conversationTurns"`
	AudioBlobs        int       `json:"audioBlobs"`
	StartTime         time.Time `json:"startTime"`
}

// Config carries the expiry policy shared by all store implementations.
type Config struct {
	// SessionTimeout is the inactivity window after which a session is
	// treated as gone.
	SessionTimeout time.Duration
	// CleanupInterval bounds how often Create runs an opportunistic sweep.
	CleanupInterval time.Duration
}
