// Package sessionstore persists screen session snapshots so a mounted
// screen can be restored after a restart or on another replica.
package sessionstore

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrSnapshotNotFound = errors.New("session snapshot not found")

// Snapshot is the durable part of a screen session: who owns it, what is
// selected and which page is displayed. Loaded records are not persisted.
type Snapshot struct {
	SessionID string    `json:"session_id"`
	Owner     string    `json:"owner,omitempty"`
	Superuser bool      `json:"superuser,omitempty"`
	Selection []string  `json:"selection"`
	Page      int       `json:"page"`
	PageSize  int       `json:"page_size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store defines snapshot persistence.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, sessionID string) (*Snapshot, error)
	Delete(ctx context.Context, sessionID string) error
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

type memEntry struct {
	snap    Snapshot
	expires time.Time
}

// MemoryStore keeps snapshots in process with a sliding TTL.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memEntry
	now     func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		entries: make(map[string]memEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Save(_ context.Context, snap Snapshot) error {
	now := s.now()
	snap.UpdatedAt = now.UTC()
	snap.Selection = append([]string(nil), snap.Selection...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[snap.SessionID] = memEntry{snap: snap, expires: now.Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Load(_ context.Context, sessionID string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[sessionID]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	if s.ttl > 0 && s.now().After(e.expires) {
		delete(s.entries, sessionID)
		return nil, ErrSnapshotNotFound
	}
	snap := e.snap
	snap.Selection = append([]string(nil), e.snap.Selection...)
	return &snap, nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sessionID)
	return nil
}
