package storage

import (
	"context"
	"fmt"
	"sync"
)

// MemoryGateway keeps collections in memory. It is meant for tests and
// throwaway development sessions.
type MemoryGateway struct {
	mu   sync.RWMutex
	docs map[Collection][]byte

	// FailWrites, when set, is returned by every Write.
	FailWrites error
}

// NewMemoryGateway returns an empty MemoryGateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{docs: make(map[Collection][]byte)}
}

// Put seeds collection c with raw content.
func (g *MemoryGateway) Put(c Collection, data []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.docs[c] = append([]byte(nil), data...)
}

// Bytes returns the stored content of c, or nil.
func (g *MemoryGateway) Bytes(c Collection) []byte {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]byte(nil), g.docs[c]...)
}

func (g *MemoryGateway) Read(_ context.Context, c Collection) ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	data, ok := g.docs[c]
	if !ok {
		return nil, fmt.Errorf("%s: %w", c, ErrNotExist)
	}
	return append([]byte(nil), data...), nil
}

func (g *MemoryGateway) Write(_ context.Context, c Collection, data []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailWrites != nil {
		return g.FailWrites
	}
	g.docs[c] = append([]byte(nil), data...)
	return nil
}

func (g *MemoryGateway) Ensure(_ context.Context, c Collection) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.docs[c]; !ok {
		g.docs[c] = []byte("[]")
	}
	return nil
}
