package attendance

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// Outcome is the recorded result for one user in one session.
type Outcome string

const (
	OutcomePresent Outcome = "present"
	OutcomeLate    Outcome = "late"
	// OutcomeAbsent is never produced by a scan; the sweep worker writes it
	// for enrolled students who never submitted before the session died.
	OutcomeAbsent Outcome = "absent"
)

// Record is one user's outcome for one session. Immutable after creation.
type Record struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	ClassID      string    `json:"class_id"`
	ClassName    string    `json:"class_name,omitempty"`
	SessionToken string    `json:"session_token"`
	RecordedAt   time.Time `json:"recorded_at"`
	Outcome      Outcome   `json:"outcome"`
}

// ErrDuplicateRecord is returned by Store.Save when a record already exists
// for the same (user, session token) pair. Save must enforce this atomically;
// a pre-read check alone can double-record under concurrent submissions.
var ErrDuplicateRecord = errors.New("attendance: record already exists for user and session")

// Store persists attendance records. Implementations must reject duplicate
// (UserID, SessionToken) pairs from Save with ErrDuplicateRecord.
type Store interface {
	Save(ctx context.Context, rec Record) (Record, error)
	Exists(ctx context.Context, userID, sessionToken string) (bool, error)
	ListByUser(ctx context.Context, userID string) ([]Record, error)
}

// MemoryStore is a map-backed Store for dev and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record // keyed by userID + "\x00" + sessionToken
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func memKey(userID, sessionToken string) string {
	return userID + "\x00" + sessionToken
}

// Save inserts the record, rejecting duplicates atomically under the lock.
func (m *MemoryStore) Save(_ context.Context, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memKey(rec.UserID, rec.SessionToken)
	if _, ok := m.records[key]; ok {
		return Record{}, ErrDuplicateRecord
	}
	m.records[key] = rec
	return rec, nil
}

// Exists reports whether a record is present for the pair.
func (m *MemoryStore) Exists(_ context.Context, userID, sessionToken string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[memKey(userID, sessionToken)]
	return ok, nil
}

// ListByUser returns the user's records, most recent first.
func (m *MemoryStore) ListByUser(_ context.Context, userID string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, rec := range m.records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordedAt.After(out[j].RecordedAt) })
	return out, nil
}
