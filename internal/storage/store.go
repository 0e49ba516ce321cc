// Package storage persists conversation turns in SQLite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // pure Go driver

	"github.com/animus-coder/codevet/internal/storage/migrations"
)

// Message is a stored conversation turn.
type Message struct {
	ID        int64     `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store reads and writes the message history.
type Store struct {
	db     *sql.DB
	clock  func() time.Time
	logger *zap.Logger
}

// Open creates the database file if needed, applies migrations and returns a Store.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}
	dsn := path
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection serializes writers; SQLite does not handle concurrent writers well.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrations.Run(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("message store ready", zap.String("path", path))
	return &Store{db: db, clock: time.Now, logger: logger}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveMessage appends a turn.
func (s *Store) SaveMessage(ctx context.Context, role, content string) (Message, error) {
	if strings.TrimSpace(role) == "" {
		return Message{}, errors.New("role is required")
	}
	now := s.clock().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (role, content, created_at) VALUES (?, ?, ?)`,
		role, content, now.UnixMilli())
	if err != nil {
		return Message{}, fmt.Errorf("save message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Message{}, fmt.Errorf("save message: %w", err)
	}
	return Message{ID: id, Role: role, Content: content, CreatedAt: time.UnixMilli(now.UnixMilli()).UTC()}, nil
}

// LoadRecentMessages returns the newest limit turns in chronological order.
func (s *Store) LoadRecentMessages(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, created_at FROM messages ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("load recent messages: %w", err)
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, fmt.Errorf("load recent messages: %w", err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// LoadBetween returns turns created within [start, end] in chronological order.
func (s *Store) LoadBetween(ctx context.Context, start, end time.Time) ([]Message, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("end %s is before start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, created_at FROM messages WHERE created_at >= ? AND created_at <= ? ORDER BY created_at ASC, id ASC`,
		start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("load messages between: %w", err)
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, fmt.Errorf("load messages between: %w", err)
	}
	return msgs, nil
}

// PurgeOlderThan deletes turns older than age and returns how many were removed.
func (s *Store) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	if age <= 0 {
		return 0, nil
	}
	cutoff := s.clock().Add(-age)
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge messages: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("purged old messages", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}

// DeleteAll removes the whole history.
func (s *Store) DeleteAll(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages`)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	n, _ := res.RowsAffected()
	s.logger.Info("deleted message history", zap.Int64("count", n))
	return n, nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var m Message
		var created int64
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &created); err != nil {
			return nil, err
		}
		m.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}
