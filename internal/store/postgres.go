package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiprono234/chat-verse/internal/models"
	"go.uber.org/zap"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS chat_messages (
	id          BIGINT PRIMARY KEY,
	sender      TEXT NOT NULL,
	sender_id   TEXT NOT NULL DEFAULT '',
	avatar_ref  TEXT NOT NULL DEFAULT '',
	text        TEXT NOT NULL DEFAULT '',
	file_ref    TEXT,
	file_type   TEXT,
	created_at  TIMESTAMPTZ NOT NULL,
	archived    BOOLEAN NOT NULL DEFAULT FALSE
)`

const messageColumns = `id, sender, sender_id, avatar_ref, text, file_ref, file_type, created_at, archived`

// PostgresStore persists messages in a Postgres table through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	seq  sequence
	log  *zap.Logger
	mu   sync.RWMutex

	closed bool
}

// OpenPostgres connects, creates the table if needed and recovers the id sequence.
func OpenPostgres(ctx context.Context, dsn string, log *zap.Logger) (*PostgresStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s := &PostgresStore{pool: pool, log: log}
	var (
		lastID int64
		lastAt time.Time
	)
	err = pool.QueryRow(ctx, `SELECT id, created_at FROM chat_messages ORDER BY id DESC LIMIT 1`).Scan(&lastID, &lastAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		pool.Close()
		return nil, fmt.Errorf("recover sequence: %w", err)
	default:
		s.seq.commit(uint64(lastID), lastAt.UTC())
	}
	log.Info("postgres_opened", zap.Uint64("last_id", s.seq.lastID))
	return s, nil
}

func (s *PostgresStore) Append(ctx context.Context, msg models.ChatMessage) (models.ChatMessage, error) {
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

	query := `INSERT INTO chat_messages (` + messageColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = s.pool.Exec(ctx, query,
		int64(stored.ID),
		stored.Sender,
		stored.SenderID,
		stored.AvatarRef,
		stored.Text,
		stored.FileRef,
		stored.FileType,
		stored.CreatedAt,
		stored.Archived,
	)
	if err != nil {
		s.log.Error("postgres_insert_failed", zap.Uint64("id", id), zap.Error(err))
		return models.ChatMessage{}, fmt.Errorf("insert message %d: %w", id, err)
	}
	s.seq.commit(id, at)
	return stored, nil
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.pool.Query(ctx, `SELECT `+messageColumns+` FROM chat_messages ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ChatMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.ChatMessage{}
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, id uint64) (models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return models.ChatMessage{}, ErrClosed
	}

	row := s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM chat_messages WHERE id = $1`, int64(id))
	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ChatMessage{}, notFound(id)
	}
	return m, err
}

func (s *PostgresStore) Archive(ctx context.Context, id uint64) (models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.ChatMessage{}, ErrClosed
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE chat_messages SET archived = TRUE WHERE id = $1 RETURNING `+messageColumns, int64(id))
	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ChatMessage{}, notFound(id)
	}
	return m, err
}

// Close waits for in-flight calls and closes the pool.
func (s *PostgresStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.pool.Close()
	}
	return nil
}

func scanMessage(row pgx.Row) (models.ChatMessage, error) {
	var (
		m  models.ChatMessage
		id int64
	)
	err := row.Scan(&id, &m.Sender, &m.SenderID, &m.AvatarRef, &m.Text, &m.FileRef, &m.FileType, &m.CreatedAt, &m.Archived)
	if err != nil {
		return models.ChatMessage{}, err
	}
	m.ID = uint64(id)
	m.CreatedAt = m.CreatedAt.UTC()
	return m, nil
}
