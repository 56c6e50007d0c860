package venti

import (
	"context"
	"sync"

	"github.com/archivefs/fossil/pkg/block"
)

// MemorySession is an in-memory Session used by tests.
type MemorySession struct {
	mu     sync.RWMutex
	blocks map[block.Score][]byte
	closed bool
	host   string
}

// NewMemorySession creates an empty in-memory session.
func NewMemorySession() *MemorySession {
	return &MemorySession{blocks: make(map[block.Score][]byte)}
}

func (m *MemorySession) Write(ctx context.Context, kind block.Type, buf []byte) (block.Score, error) {
	if err := ctx.Err(); err != nil {
		return block.Score{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return block.Score{}, ErrSessionClosed
	}

	s := Score(buf)
	if _, ok := m.blocks[s]; !ok {
		cp := make([]byte, len(buf))
		copy(cp, buf)
		m.blocks[s] = cp
	}
	return s, nil
}

func (m *MemorySession) Read(ctx context.Context, score block.Score, kind block.Type, buf []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrSessionClosed
	}

	data, ok := m.blocks[score]
	if !ok {
		return 0, ErrNotFound
	}
	n := copy(buf, data)
	return n, nil
}

func (m *MemorySession) Connect(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemorySession) Redial(ctx context.Context, host string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.host = host
	return nil
}

func (m *MemorySession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Len reports how many distinct blocks have been written (for tests).
func (m *MemorySession) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blocks)
}

var _ Session = (*MemorySession)(nil)
