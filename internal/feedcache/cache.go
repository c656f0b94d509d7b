package feedcache

import (
	"context"
	"log"
	"sync"
	"time"
)

// Entry is the per-user aggregated feed snapshot, ciphertext at rest.
// Exactly one live entry per user; refresh supersedes, never merges.
type Entry struct {
	UserID      string    `json:"user_id"`
	Ciphertext  []byte    `json:"ciphertext"`
	KeyID       string    `json:"key_id"`
	LastUpdated time.Time `json:"last_updated"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type Store interface {
	// Get treats entries past their expiry as absent even when not yet
	// physically purged.
	Get(ctx context.Context, userID string) (*Entry, bool, error)

	// Put atomically replaces any existing entry for the user.
	Put(ctx context.Context, entry *Entry) error

	Delete(ctx context.Context, userID string) error
}

// MemoryStore keeps entries in process memory with a background reaper.
// The reaper is a liveness optimization; the Get expiry check is the
// authoritative contract.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(ctx context.Context, userID string) (*Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[userID]
	if !ok || !s.now().Before(e.ExpiresAt) {
		return nil, false, nil
	}
	return e, true, nil
}

func (s *MemoryStore) Put(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.UserID] = entry
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, userID)
	return nil
}

func (s *MemoryStore) reap() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for uid, e := range s.entries {
		if !now.Before(e.ExpiresAt) {
			delete(s.entries, uid)
			n++
		}
	}
	return n
}

// StartReaper purges physically expired entries until ctx is done.
func (s *MemoryStore) StartReaper(ctx context.Context, interval time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := s.reap(); n > 0 {
					log.Printf("feedcache: reaped %d expired entries", n)
				}
			}
		}
	}()
}
