package store

import (
	"context"
	"sync"
	"time"

	"github.com/kiprono234/chat-verse/internal/models"
)

// MemoryStore keeps messages in a slice.
// Nothing survives a restart; used by tests and ephemeral dev runs.
type MemoryStore struct {
	// messages is ordered by id; messages[i].ID == i+1
	messages []models.ChatMessage
	seq      sequence
	closed   bool
	mu       sync.RWMutex
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(ctx context.Context, msg models.ChatMessage) (models.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return models.ChatMessage{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.ChatMessage{}, ErrClosed
	}

	id, at := s.seq.next(time.Now())
	stored, err := prepare(msg, id, at)
	if err != nil {
		return models.ChatMessage{}, err
	}
	s.messages = append(s.messages, stored)
	s.seq.commit(id, at)
	return stored, nil
}

func (s *MemoryStore) ListAll(ctx context.Context) ([]models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	result := make([]models.ChatMessage, len(s.messages))
	copy(result, s.messages)
	return result, nil
}

func (s *MemoryStore) Get(ctx context.Context, id uint64) (models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return models.ChatMessage{}, ErrClosed
	}

	if id == 0 || id > uint64(len(s.messages)) {
		return models.ChatMessage{}, notFound(id)
	}
	return s.messages[id-1], nil
}

func (s *MemoryStore) Archive(ctx context.Context, id uint64) (models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.ChatMessage{}, ErrClosed
	}

	if id == 0 || id > uint64(len(s.messages)) {
		return models.ChatMessage{}, notFound(id)
	}
	s.messages[id-1].Archived = true
	return s.messages[id-1], nil
}

// Close marks the store closed. The messages are dropped.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.messages = nil
	return nil
}
