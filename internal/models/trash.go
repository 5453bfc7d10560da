package models

import "time"

type ItemType string

const (
	ItemDocument     ItemType = "document"
	ItemConversation ItemType = "conversation"
)

// TrashItem is a soft-deleted document or conversation.
type TrashItem struct {
	ID        string    `json:"id"`
	Type      ItemType  `json:"type"`
	Title     string    `json:"title"`
	ProjectID string    `json:"project_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	DeletedAt time.Time `json:"deleted_at"`
}

// DeleteMode selects soft (trash) or hard (purge) deletion.
type DeleteMode string

const (
	DeleteSoft DeleteMode = "soft"
	DeleteHard DeleteMode = "hard"
)

type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

// Notice is a user-visible, non-blocking notification.
type Notice struct {
	ID        int64       `json:"id"`
	SessionID string      `json:"session_id,omitempty"`
	Level     NoticeLevel `json:"level"`
	Message   string      `json:"message"`
	CreatedAt time.Time   `json:"created_at"`
}
