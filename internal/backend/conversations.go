package backend

import (
	"context"
	"net/http"
	"net/url"

	"homora/internal/models"
)

type conversationList struct {
	Conversations []models.ConversationSummary `json:"conversations"`
	Total         int                          `json:"total"`
}

func (c *Client) ListConversations(ctx context.Context, projectID string) ([]models.ConversationSummary, error) {
	var out conversationList
	if err := c.doJSON(ctx, http.MethodGet, projectPath(projectID, "conversations"), nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// GetConversation fetches a conversation with its full message list and branch markers.
func (c *Client) GetConversation(ctx context.Context, projectID, conversationID string) (*models.Conversation, error) {
	var out models.Conversation
	path := projectPath(projectID, "conversations", url.PathEscape(conversationID))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	if out.ProjectID == "" {
		out.ProjectID = projectID
	}
	return &out, nil
}

func (c *Client) DeleteConversation(ctx context.Context, projectID, conversationID string, mode models.DeleteMode) error {
	path := projectPath(projectID, "conversations", url.PathEscape(conversationID))
	return c.doJSON(ctx, http.MethodDelete, path, modeQuery(mode), nil, nil)
}

func (c *Client) RestoreConversation(ctx context.Context, projectID, conversationID string) error {
	path := projectPath(projectID, "conversations", url.PathEscape(conversationID), "restore")
	return c.doJSON(ctx, http.MethodPost, path, nil, nil, nil)
}

func (c *Client) PurgeConversation(ctx context.Context, projectID, conversationID string) error {
	path := projectPath(projectID, "conversations", url.PathEscape(conversationID), "purge")
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil, nil)
}

type editRequest struct {
	Content string `json:"content"`
}

// EditAndRegenerate forks a new conversation from the prefix before messageID,
// continuing with newContent and a fresh assistant answer.
func (c *Client) EditAndRegenerate(ctx context.Context, projectID, conversationID, messageID, newContent string) (models.BranchResult, error) {
	var out models.BranchResult
	path := projectPath(projectID, "conversations", url.PathEscape(conversationID),
		"messages", url.PathEscape(messageID), "edit")
	if err := c.doJSON(ctx, http.MethodPost, path, nil, editRequest{Content: newContent}, &out); err != nil {
		return models.BranchResult{}, err
	}
	return out, nil
}
