package models

import "time"

// ConversationSummary is the list form of a conversation, without messages.
type ConversationSummary struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Title     string    `json:"title"`
	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Conversation is a full transcript as returned by the backend.
type Conversation struct {
	ID            string         `json:"id"`
	ProjectID     string         `json:"project_id"`
	Title         string         `json:"title"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	Messages      []Message      `json:"messages"`
	BranchMarkers []BranchMarker `json:"branch_markers,omitempty"`
	ParentID      string         `json:"parent_conversation_id,omitempty"`
	BranchFromID  string         `json:"branch_from_message_id,omitempty"`
}

// BranchMarker records that editing MessageID produced alternate continuations.
type BranchMarker struct {
	MessageID             string   `json:"message_id"`
	Count                 int      `json:"count"`
	BranchConversationIDs []string `json:"branch_conversation_ids"`
}

// BranchResult is the backend reply to an edit-and-regenerate request.
type BranchResult struct {
	NewConversationID string `json:"new_conversation_id"`
	Title             string `json:"title,omitempty"`
}

// PendingBranch is offered to the user after a successful edit; accepting it switches
// the session to the new conversation.
type PendingBranch struct {
	ConversationID string `json:"conversation_id"`
	Title          string `json:"title"`
}
