package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/kiprono234/chat-verse/internal/models"
	"go.uber.org/zap"
)

const (
	messagePrefix = "msg:"
	// messageUpper is the first key past every msg: key
	messageUpper = "msg;"
)

// messageKey zero-pads the id so lexical key order equals id order.
func messageKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", messagePrefix, id))
}

// PebbleStore persists messages as JSON values in a Pebble database.
type PebbleStore struct {
	db  *pebble.DB
	seq sequence
	log *zap.Logger
	mu  sync.RWMutex
}

// OpenPebble opens (or creates) the database at path and recovers the
// id sequence from the last stored message.
func OpenPebble(path string, log *zap.Logger) (*PebbleStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("opening_pebble_db", zap.String("path", path))
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		log.Error("pebble_open_failed", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}

	s := &PebbleStore{db: db, log: log}
	if err := s.recover(); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("pebble_opened", zap.String("path", path), zap.Uint64("last_id", s.seq.lastID))
	return s, nil
}

func (s *PebbleStore) recover() error {
	iter, err := s.newIter()
	if err != nil {
		return err
	}
	defer iter.Close()

	if !iter.Last() {
		return iter.Error()
	}
	var last models.ChatMessage
	if err := json.Unmarshal(iter.Value(), &last); err != nil {
		return fmt.Errorf("decode last message: %w", err)
	}
	s.seq.commit(last.ID, last.CreatedAt.UTC())
	return nil
}

func (s *PebbleStore) newIter() (*pebble.Iterator, error) {
	return s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(messagePrefix),
		UpperBound: []byte(messageUpper),
	})
}

func (s *PebbleStore) Append(ctx context.Context, msg models.ChatMessage) (models.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return models.ChatMessage{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return models.ChatMessage{}, ErrClosed
	}

	id, at := s.seq.next(time.Now())
	stored, err := prepare(msg, id, at)
	if err != nil {
		return models.ChatMessage{}, err
	}
	if err := s.put(stored); err != nil {
		return models.ChatMessage{}, err
	}
	s.seq.commit(id, at)
	return stored, nil
}

func (s *PebbleStore) put(msg models.ChatMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message %d: %w", msg.ID, err)
	}
	if err := s.db.Set(messageKey(msg.ID), data, pebble.Sync); err != nil {
		s.log.Error("pebble_set_failed", zap.Uint64("id", msg.ID), zap.Error(err))
		return fmt.Errorf("write message %d: %w", msg.ID, err)
	}
	return nil
}

func (s *PebbleStore) ListAll(ctx context.Context) ([]models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrClosed
	}

	iter, err := s.newIter()
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := make([]models.ChatMessage, 0, s.seq.lastID)
	for iter.First(); iter.Valid(); iter.Next() {
		var m models.ChatMessage
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", iter.Key(), err)
		}
		m.CreatedAt = m.CreatedAt.UTC()
		out = append(out, m)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PebbleStore) Get(ctx context.Context, id uint64) (models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return models.ChatMessage{}, ErrClosed
	}
	return s.get(id)
}

func (s *PebbleStore) get(id uint64) (models.ChatMessage, error) {
	v, closer, err := s.db.Get(messageKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return models.ChatMessage{}, notFound(id)
	}
	if err != nil {
		return models.ChatMessage{}, err
	}
	defer closer.Close()

	var m models.ChatMessage
	if err := json.Unmarshal(v, &m); err != nil {
		return models.ChatMessage{}, fmt.Errorf("decode message %d: %w", id, err)
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return m, nil
}

func (s *PebbleStore) Archive(ctx context.Context, id uint64) (models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return models.ChatMessage{}, ErrClosed
	}

	m, err := s.get(id)
	if err != nil {
		return models.ChatMessage{}, err
	}
	if m.Archived {
		return m, nil
	}
	m.Archived = true
	if err := s.put(m); err != nil {
		return models.ChatMessage{}, err
	}
	return m, nil
}

// Close flushes and closes the database.
func (s *PebbleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.log.Info("pebble_closed")
	return err
}
