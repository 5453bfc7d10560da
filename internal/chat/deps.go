package chat

import (
	"context"
	"sync"

	"homora/internal/backend"
	"homora/internal/models"
	"homora/internal/notify"
)

// Transport opens the streaming side of a chat turn.
type Transport interface {
	StreamChat(ctx context.Context, projectID, message, conversationID string) (backend.EventStream, error)
}

// Store is the conversation resource of the backend.
type Store interface {
	GetConversation(ctx context.Context, projectID, conversationID string) (*models.Conversation, error)
	EditAndRegenerate(ctx context.Context, projectID, conversationID, messageID, newContent string) (models.BranchResult, error)
}

// Invalidator marks cached query results stale.
type Invalidator interface {
	Invalidate(ctx context.Context, keys ...string) error
}

// Documents is the document set citations are resolved against.
type Documents interface {
	KnownDocuments() []models.Document
}

// Deps are the collaborators of a Controller. Invalidator and Documents may be nil.
type Deps struct {
	Transport   Transport
	Store       Store
	Notifier    notify.Notifier
	Invalidator Invalidator
	Documents   Documents
}

// DocumentSet is a Documents value refreshed by whoever lists the project's documents.
type DocumentSet struct {
	mu     sync.RWMutex
	docs   []models.Document
	loaded bool
}

func (s *DocumentSet) Set(docs []models.Document) {
	s.mu.Lock()
	s.docs = append([]models.Document(nil), docs...)
	s.loaded = true
	s.mu.Unlock()
}

func (s *DocumentSet) KnownDocuments() []models.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.docs
}

// Loaded reports whether Set has been called at least once.
func (s *DocumentSet) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}
