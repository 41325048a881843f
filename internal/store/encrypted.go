package store

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/openlegalaid/session-server-go/internal/errors"
	"github.com/openlegalaid/session-server-go/internal/model"
	"github.com/openlegalaid/session-server-go/internal/privacy"
	"github.com/openlegalaid/session-server-go/internal/util"
)

const (
	recordSuffix = ".session.enc"
	blobSuffix   = ".blob"
)

// encryptedRecord is what actually gets serialized, redacted, and sealed
// on disk for one session.
type encryptedRecord struct {
	Session         model.Session `json:"session"`
	AnonymizedItems int           `json:"anonymizedItems"`

	// TokenCounts carries the per-kind placeholder counters so token
	// numbering continues where it left off when a fresh process reopens
	// the record. The literal-to-token mapping itself is never persisted.
	TokenCounts map[string]int `json:"tokenCounts,omitempty"`
}

// EncryptedStore persists each session as one AES-256-GCM sealed file
// under a storage root. Conversation text is passed through the PII
// anonymizer before serialization, so raw names, phone numbers, and
// emails never reach disk. Audio blobs are stored per session next to
// the record and purged with it.
type EncryptedStore struct {
	mu         sync.Mutex
	root       string
	key        []byte
	timeout    time.Duration
	sweepEvery time.Duration
	lastSweep  time.Time

	// anonymizers keeps the literal-to-token mapping per live session.
	// It is memory-only: losing it (restart) loses token stability, not
	// safety, since redaction already happened before the write.
	anonymizers map[string]*privacy.Anonymizer

	now func() time.Time
}

var (
	_ Store     = (*EncryptedStore)(nil)
	_ BlobStore = (*EncryptedStore)(nil)
)

// NewEncryptedStore derives the record key from secret and ensures the
// storage root exists.
func NewEncryptedStore(cfg Config, root, secret string) (*EncryptedStore, error) {
	key, err := util.DeriveKey(secret)
	if err != nil {
		return nil, fmt.Errorf("derive record key: %w", err)
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &EncryptedStore{
		root:        root,
		key:         key,
		timeout:     cfg.SessionTimeout,
		sweepEvery:  cfg.CleanupInterval,
		anonymizers: make(map[string]*privacy.Anonymizer),
		now:         time.Now,
	}, nil
}

func (s *EncryptedStore) Create(ctx context.Context) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.maybeSweepLocked(now)

	id := uuid.NewString()
	for fileExists(s.recordPath(id)) {
		id = uuid.NewString()
	}

	record := encryptedRecord{Session: *model.NewSession(id, now)}
	if err := s.writeRecordLocked(id, &record); err != nil {
		return nil, err
	}

	s.anonymizers[id] = privacy.NewAnonymizer()
	log.Debug().Str("sessionId", id).Msg("encrypted session created")
	return record.Session.Clone(), nil
}

func (s *EncryptedStore) Get(ctx context.Context, id string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.loadLiveRecordLocked(id)
	if err != nil {
		return nil, err
	}
	return record.Session.Clone(), nil
}

func (s *EncryptedStore) Update(ctx context.Context, id string, update model.SessionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.loadLiveRecordLocked(id)
	if err != nil {
		return err
	}

	if update.Empty() {
		record.Session.LastActivity = monotonicAfter(record.Session.LastActivity, s.now())
		return s.writeRecordLocked(id, record)
	}

	merged := update.Apply(&record.Session)
	if err := merged.Validate(); err != nil {
		return apperrors.Validation(err.Error())
	}

	// Redact only the turns this update appended; earlier turns were
	// redacted when they were first written.
	anon := s.anonymizerLocked(id, record)
	added := 0
	for i := len(merged.ConversationHistory) - len(update.Turns); i < len(merged.ConversationHistory); i++ {
		turn := &merged.ConversationHistory[i]
		var n int
		turn.UserInput, n = anon.Redact(turn.UserInput)
		added += n
		turn.SystemResponse, n = anon.Redact(turn.SystemResponse)
		added += n
	}

	merged.LastActivity = monotonicAfter(record.Session.LastActivity, s.now())
	record.Session = *merged
	record.AnonymizedItems += added
	record.TokenCounts = anon.Counts()
	return s.writeRecordLocked(id, record)
}

func (s *EncryptedStore) End(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.loadRecordLocked(id)
	if err != nil {
		// A corrupt session cannot be recovered; purge it so its blobs
		// do not outlive the record.
		if apperrors.IsCode(err, apperrors.ErrCodeIntegrity) {
			s.purgeLocked(id)
		}
		return err
	}

	expired := record.Session.Expired(s.now(), s.timeout)
	s.purgeLocked(id)
	if expired {
		return apperrors.SessionNotFound(id)
	}
	log.Debug().Str("sessionId", id).Msg("encrypted session ended")
	return nil
}

func (s *EncryptedStore) CleanupExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(s.now())
}

func (s *EncryptedStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anonymizers = make(map[string]*privacy.Anonymizer)
	return nil
}

// StoreAudio writes a labeled blob next to the session record. The file
// name embeds the session id and label so End can purge every blob
// belonging to the id without an index.
func (s *EncryptedStore) StoreAudio(ctx context.Context, sessionID string, data []byte, label string) (string, error) {
	if !util.IsValidBlobLabel(label) {
		return "", apperrors.InvalidInput("label", "must be alphanumeric with ._- only")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.loadLiveRecordLocked(sessionID); err != nil {
		return "", err
	}

	if err := os.WriteFile(s.blobPath(sessionID, label), data, 0o600); err != nil {
		return "", apperrors.Storage(fmt.Errorf("write blob: %w", err))
	}
	return label, nil
}

func (s *EncryptedStore) RetrieveAudio(ctx context.Context, sessionID, handle string) ([]byte, error) {
	if !util.IsValidBlobLabel(handle) {
		return nil, apperrors.InvalidInput("handle", "must be alphanumeric with ._- only")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.loadLiveRecordLocked(sessionID); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.blobPath(sessionID, handle))
	if os.IsNotExist(err) {
		return nil, apperrors.BlobNotFound(sessionID, handle)
	}
	if err != nil {
		return nil, apperrors.Storage(fmt.Errorf("read blob: %w", err))
	}
	return data, nil
}

func (s *EncryptedStore) DeleteAudio(ctx context.Context, sessionID, handle string) (bool, error) {
	if !util.IsValidBlobLabel(handle) {
		return false, apperrors.InvalidInput("handle", "must be alphanumeric with ._- only")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.loadLiveRecordLocked(sessionID); err != nil {
		return false, err
	}

	path := s.blobPath(sessionID, handle)
	if !fileExists(path) {
		return false, nil
	}
	if err := secureDelete(path); err != nil {
		return false, apperrors.Storage(fmt.Errorf("delete blob: %w", err))
	}
	return true, nil
}

// PrivacyReport summarizes the session's at-rest protections using only
// aggregate counts from the decrypted record.
func (s *EncryptedStore) PrivacyReport(ctx context.Context, sessionID string) (*PrivacyReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.loadLiveRecordLocked(sessionID)
	if err != nil {
		return nil, err
	}

	return &PrivacyReport{
		SessionID:         sessionID,
		EncryptedAtRest:   true,
		PIIAnonymized:     true,
		AnonymizedItems:   record.AnonymizedItems,
		ConversationTurns: len(record.Session.ConversationHistory),
		AudioBlobs:        len(s.blobPaths(sessionID)),
		StartTime:         record.Session.StartTime,
	}, nil
}

func (s *EncryptedStore) recordPath(id string) string {
	return filepath.Join(s.root, id+recordSuffix)
}

func (s *EncryptedStore) blobPath(id, label string) string {
	return filepath.Join(s.root, fmt.Sprintf("%s_%s%s", id, label, blobSuffix))
}

func (s *EncryptedStore) blobPaths(id string) []string {
	matches, err := filepath.Glob(filepath.Join(s.root, id+"_*"+blobSuffix))
	if err != nil {
		return nil
	}
	return matches
}

// loadLiveRecordLocked is the common read path: decrypt, check expiry,
// evict lazily when the session sat idle too long.
func (s *EncryptedStore) loadLiveRecordLocked(id string) (*encryptedRecord, error) {
	record, err := s.loadRecordLocked(id)
	if err != nil {
		return nil, err
	}
	if record.Session.Expired(s.now(), s.timeout) {
		s.purgeLocked(id)
		return nil, apperrors.SessionNotFound(id)
	}
	return record, nil
}

func (s *EncryptedStore) loadRecordLocked(id string) (*encryptedRecord, error) {
	// Ids become file names, so anything that is not a uuid never
	// touches the filesystem.
	if !util.IsValidUUID(id) {
		return nil, apperrors.SessionNotFound(id)
	}

	sealed, err := os.ReadFile(s.recordPath(id))
	if os.IsNotExist(err) {
		return nil, apperrors.SessionNotFound(id)
	}
	if err != nil {
		return nil, apperrors.Storage(fmt.Errorf("read record: %w", err))
	}

	plaintext, err := util.Decrypt(s.key, sealed)
	if err != nil {
		return nil, apperrors.Integrity(id, err)
	}

	var record encryptedRecord
	if err := json.Unmarshal(plaintext, &record); err != nil {
		return nil, apperrors.Integrity(id, err)
	}
	return &record, nil
}

// writeRecordLocked serializes, encrypts, and atomically replaces the
// session record via a temp file rename.
func (s *EncryptedStore) writeRecordLocked(id string, record *encryptedRecord) error {
	plaintext, err := json.Marshal(record)
	if err != nil {
		return apperrors.Storage(fmt.Errorf("marshal record: %w", err))
	}

	sealed, err := util.Encrypt(s.key, plaintext)
	if err != nil {
		return apperrors.Storage(fmt.Errorf("encrypt record: %w", err))
	}

	path := s.recordPath(id)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return apperrors.Storage(fmt.Errorf("write record: %w", err))
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return apperrors.Storage(fmt.Errorf("commit record: %w", err))
	}
	return nil
}

// purgeLocked removes the session record, all of its blobs, and the
// in-memory anonymizer state.
func (s *EncryptedStore) purgeLocked(id string) {
	for _, blob := range s.blobPaths(id) {
		if err := secureDelete(blob); err != nil {
			log.Warn().Err(err).Str("sessionId", id).Str("blob", blob).Msg("failed to delete blob")
		}
	}
	if err := os.Remove(s.recordPath(id)); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("sessionId", id).Msg("failed to remove session record")
	}
	delete(s.anonymizers, id)
}

func (s *EncryptedStore) anonymizerLocked(id string, record *encryptedRecord) *privacy.Anonymizer {
	anon, ok := s.anonymizers[id]
	if !ok {
		anon = privacy.NewSeededAnonymizer(record.TokenCounts)
		s.anonymizers[id] = anon
	}
	return anon
}

func (s *EncryptedStore) maybeSweepLocked(now time.Time) {
	if s.sweepEvery <= 0 || now.Sub(s.lastSweep) < s.sweepEvery {
		return
	}
	if _, err := s.sweepLocked(now); err != nil {
		log.Warn().Err(err).Msg("opportunistic sweep failed")
	}
}

func (s *EncryptedStore) sweepLocked(now time.Time) (int64, error) {
	matches, err := filepath.Glob(filepath.Join(s.root, "*"+recordSuffix))
	if err != nil {
		return 0, apperrors.Storage(fmt.Errorf("scan storage root: %w", err))
	}

	var removed int64
	for _, path := range matches {
		id := strings.TrimSuffix(filepath.Base(path), recordSuffix)
		record, err := s.loadRecordLocked(id)
		if err != nil {
			// Corrupt records stay put so Get can still surface the
			// integrity failure to the owner.
			continue
		}
		if record.Session.Expired(now, s.timeout) {
			s.purgeLocked(id)
			removed++
		}
	}
	s.lastSweep = now
	if removed > 0 {
		log.Debug().Int64("count", removed).Msg("evicted expired encrypted sessions")
	}
	return removed, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// secureDelete overwrites the file with random bytes and syncs before
// removing it, so blob content does not survive in place on disk.
func secureDelete(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if size := info.Size(); size > 0 {
		f, err := os.OpenFile(path, os.O_WRONLY, 0)
		if err != nil {
			return err
		}
		noise := make([]byte, size)
		if _, err := rand.Read(noise); err == nil {
			_, _ = f.WriteAt(noise, 0)
			_ = f.Sync()
		}
		if err := f.Close(); err != nil {
			return err
		}
	}

	return os.Remove(path)
}
