package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"homora/internal/models"
)

// NoticeStore is the per-session notification log.
type NoticeStore struct {
	db *sql.DB
}

func NewNoticeStore(db *sql.DB) *NoticeStore {
	return &NoticeStore{db: db}
}

func (s *NoticeStore) Record(ctx context.Context, sessionID string, level models.NoticeLevel, message string) (*models.Notice, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notices (session_id, level, message, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, string(level), message, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert notice: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("notice id: %w", err)
	}
	return &models.Notice{ID: id, SessionID: sessionID, Level: level, Message: message, CreatedAt: now}, nil
}

// ListRecent returns up to limit notices for the session, newest first.
func (s *NoticeStore) ListRecent(ctx context.Context, sessionID string, limit int) ([]models.Notice, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, level, message, created_at FROM notices WHERE session_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list notices: %w", err)
	}
	defer rows.Close()

	var notices []models.Notice
	for rows.Next() {
		var (
			n     models.Notice
			level string
		)
		if err := rows.Scan(&n.ID, &n.SessionID, &level, &n.Message, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notice: %w", err)
		}
		n.Level = models.NoticeLevel(level)
		notices = append(notices, n)
	}
	return notices, rows.Err()
}
