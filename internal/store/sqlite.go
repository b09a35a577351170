package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kiprono234/chat-verse/internal/models"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// messageRow is the gorm entity backing the messages table.
type messageRow struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement:false"`
	Sender    string `gorm:"not null"`
	SenderID  string
	AvatarRef string
	Text      string
	FileRef   *string
	FileType  *string
	CreatedAt time.Time `gorm:"not null"`
	Archived  bool      `gorm:"not null;index"`
}

func (messageRow) TableName() string { return "messages" }

func rowFromMessage(m models.ChatMessage) messageRow {
	return messageRow{
		ID:        m.ID,
		Sender:    m.Sender,
		SenderID:  m.SenderID,
		AvatarRef: m.AvatarRef,
		Text:      m.Text,
		FileRef:   m.FileRef,
		FileType:  m.FileType,
		CreatedAt: m.CreatedAt,
		Archived:  m.Archived,
	}
}

func (r messageRow) message() models.ChatMessage {
	return models.ChatMessage{
		ID:        r.ID,
		Sender:    r.Sender,
		SenderID:  r.SenderID,
		AvatarRef: r.AvatarRef,
		Text:      r.Text,
		FileRef:   r.FileRef,
		FileType:  r.FileType,
		CreatedAt: r.CreatedAt.UTC(),
		Archived:  r.Archived,
	}
}

// SQLiteStore persists messages in a SQLite file through gorm.
type SQLiteStore struct {
	db  *gorm.DB
	seq sequence
	log *zap.Logger
	mu  sync.RWMutex

	closed bool
}

// OpenSQLite opens the database file, migrates the schema and recovers the id sequence.
func OpenSQLite(path string, log *zap.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %s: %w", path, err)
	}
	if err := db.AutoMigrate(&messageRow{}); err != nil {
		return nil, fmt.Errorf("migrate messages: %w", err)
	}

	s := &SQLiteStore{db: db, log: log}
	var last []messageRow
	if err := db.Order("id DESC").Limit(1).Find(&last).Error; err != nil {
		return nil, fmt.Errorf("recover sequence: %w", err)
	}
	if len(last) == 1 {
		s.seq.commit(last[0].ID, last[0].CreatedAt.UTC())
	}
	log.Info("sqlite_opened", zap.String("path", path), zap.Uint64("last_id", s.seq.lastID))
	return s, nil
}

func (s *SQLiteStore) Append(ctx context.Context, msg models.ChatMessage) (models.ChatMessage, error) {
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

	row := rowFromMessage(stored)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&row).Error
	})
	if err != nil {
		s.log.Error("sqlite_insert_failed", zap.Uint64("id", id), zap.Error(err))
		return models.ChatMessage{}, fmt.Errorf("insert message %d: %w", id, err)
	}
	s.seq.commit(id, at)
	return stored, nil
}

func (s *SQLiteStore) ListAll(ctx context.Context) ([]models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var rows []messageRow
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.ChatMessage, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.message())
	}
	return out, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id uint64) (models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return models.ChatMessage{}, ErrClosed
	}
	return s.get(s.db.WithContext(ctx), id)
}

func (s *SQLiteStore) get(db *gorm.DB, id uint64) (models.ChatMessage, error) {
	var row messageRow
	err := db.Take(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ChatMessage{}, notFound(id)
	}
	if err != nil {
		return models.ChatMessage{}, err
	}
	return row.message(), nil
}

func (s *SQLiteStore) Archive(ctx context.Context, id uint64) (models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.ChatMessage{}, ErrClosed
	}

	var out models.ChatMessage
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := s.get(tx, id)
		if err != nil {
			return err
		}
		if !m.Archived {
			if err := tx.Model(&messageRow{}).Where("id = ?", id).Update("archived", true).Error; err != nil {
				return err
			}
			m.Archived = true
		}
		out = m
		return nil
	})
	return out, err
}

// Close waits for in-flight calls and closes the database file.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
