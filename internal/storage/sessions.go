package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrSessionNotFound = errors.New("client session not found")

// ClientSession is one browser (or CLI) attached to the service.
type ClientSession struct {
	ID             string
	ProjectID      string
	ConversationID string
	CSRFToken      string
	CreatedAt      time.Time
	LastSeen       time.Time
}

// SessionStore persists client sessions.
type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) Create(ctx context.Context, id, csrfToken string) (*ClientSession, error) {
	if id == "" {
		return nil, errors.New("session id required")
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO client_sessions (id, project_id, conversation_id, csrf_token, created_at, last_seen) VALUES (?, '', '', ?, ?, ?)`,
		id, csrfToken, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert client session: %w", err)
	}
	return &ClientSession{ID: id, CSRFToken: csrfToken, CreatedAt: now, LastSeen: now}, nil
}

func (s *SessionStore) Get(ctx context.Context, id string) (*ClientSession, error) {
	var cs ClientSession
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, conversation_id, csrf_token, created_at, last_seen FROM client_sessions WHERE id = ?`, id,
	).Scan(&cs.ID, &cs.ProjectID, &cs.ConversationID, &cs.CSRFToken, &cs.CreatedAt, &cs.LastSeen)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("lookup client session: %w", err)
	}
	return &cs, nil
}

// Touch refreshes last_seen and, when projectID is non-empty, the active project.
func (s *SessionStore) Touch(ctx context.Context, id, projectID string) error {
	now := time.Now().UTC()
	var (
		res sql.Result
		err error
	)
	if projectID == "" {
		res, err = s.db.ExecContext(ctx, `UPDATE client_sessions SET last_seen = ? WHERE id = ?`, now, id)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE client_sessions SET last_seen = ?, project_id = ? WHERE id = ?`, now, projectID, id)
	}
	if err != nil {
		return fmt.Errorf("touch client session: %w", err)
	}
	return requireRow(res, ErrSessionNotFound)
}

// SetConversation records the conversation currently held by the session's controller.
func (s *SessionStore) SetConversation(ctx context.Context, id, conversationID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE client_sessions SET conversation_id = ? WHERE id = ?`, conversationID, id)
	if err != nil {
		return fmt.Errorf("set session conversation: %w", err)
	}
	return requireRow(res, ErrSessionNotFound)
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM client_sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete client session: %w", err)
	}
	return nil
}

// DeleteIdle removes sessions not seen since cutoff and returns their ids.
func (s *SessionStore) DeleteIdle(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM client_sessions WHERE last_seen < ?`, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("list idle sessions: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan idle session: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return nil
	}
	if n == 0 {
		return notFound
	}
	return nil
}
