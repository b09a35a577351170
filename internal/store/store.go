// Package store holds the durable, append-only message log.
//
// Every backend serializes mutations behind a single mutex, assigns
// strictly increasing ids and non-decreasing creation times, and returns
// from Append only once the record is durable.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/kiprono234/chat-verse/internal/models"
	"go.uber.org/zap"
)

// MessageStore is the ordered message log.
type MessageStore interface {
	// Append validates msg, assigns ID and CreatedAt, persists it and returns the stored record.
	Append(ctx context.Context, msg models.ChatMessage) (models.ChatMessage, error)

	// ListAll returns every message ascending by id, archived ones included.
	ListAll(ctx context.Context) ([]models.ChatMessage, error)

	// Get returns one message or a NotFound error.
	Get(ctx context.Context, id uint64) (models.ChatMessage, error)

	// Archive sets the archived flag. Archiving twice is a no-op.
	Archive(ctx context.Context, id uint64) (models.ChatMessage, error)

	Close() error
}

// Options selects and configures a backend.
type Options struct {
	// Driver is one of memory, pebble, sqlite, postgres
	Driver string

	// Path is the pebble directory or the sqlite database file
	Path string

	// DatabaseURL is the Postgres connection string
	DatabaseURL string

	Logger *zap.Logger
}

// Open returns the backend named by opts.Driver.
func Open(ctx context.Context, opts Options) (MessageStore, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("store")

	switch opts.Driver {
	case "memory":
		return NewMemoryStore(), nil
	case "pebble":
		return OpenPebble(opts.Path, log)
	case "sqlite":
		return OpenSQLite(opts.Path, log)
	case "postgres":
		return OpenPostgres(ctx, opts.DatabaseURL, log)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}

// sequence tracks the last assigned id and creation time.
// Callers hold the owning store's write lock.
type sequence struct {
	lastID uint64
	lastAt time.Time
}

// next proposes the id and timestamp for the following record without consuming them.
func (s *sequence) next(now time.Time) (uint64, time.Time) {
	at := now.UTC().Truncate(time.Microsecond)
	if at.Before(s.lastAt) {
		at = s.lastAt
	}
	return s.lastID + 1, at
}

// commit records a successfully persisted record.
func (s *sequence) commit(id uint64, at time.Time) {
	s.lastID = id
	s.lastAt = at
}

// prepare validates msg and returns the record to persist.
// Client supplied ID, CreatedAt and Archived are ignored.
func prepare(msg models.ChatMessage, id uint64, at time.Time) (models.ChatMessage, error) {
	if err := msg.Validate(); err != nil {
		return models.ChatMessage{}, err
	}
	msg.ID = id
	msg.CreatedAt = at
	msg.Archived = false
	return msg, nil
}

// ErrClosed is returned by every operation on a store after Close.
var ErrClosed = models.NewError(models.CodeUnavailable, "message store is closed")

func notFound(id uint64) error {
	return models.NewError(models.CodeNotFound, fmt.Sprintf("message %d not found", id))
}
