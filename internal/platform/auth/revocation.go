package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// RevocationList remembers sessions ended by logout until their tokens would
// have expired anyway.
type RevocationList struct {
	mu      sync.Mutex
	entries map[uuid.UUID]time.Time
	now     func() time.Time
}

// NewRevocationList returns an empty list.
func NewRevocationList() *RevocationList {
	return &RevocationList{entries: make(map[uuid.UUID]time.Time), now: time.Now}
}

// Revoke ends session id. expiresAt is when its token lapses.
func (l *RevocationList) Revoke(id uuid.UUID, expiresAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[id] = expiresAt
	l.pruneLocked()
}

// IsRevoked reports whether id was revoked.
func (l *RevocationList) IsRevoked(id uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[id]
	return ok
}

// Len returns the number of tracked revocations.
func (l *RevocationList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *RevocationList) pruneLocked() {
	now := l.now()
	for id, exp := range l.entries {
		if now.After(exp) {
			delete(l.entries, id)
		}
	}
}
