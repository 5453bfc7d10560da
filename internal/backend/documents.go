package backend

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"homora/internal/models"
)

type documentList struct {
	Documents []models.Document `json:"documents"`
	Total     int               `json:"total"`
}

func (c *Client) ListDocuments(ctx context.Context, projectID string) ([]models.Document, error) {
	var out documentList
	if err := c.doJSON(ctx, http.MethodGet, projectPath(projectID, "documents"), nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Documents, nil
}

func (c *Client) GetDocument(ctx context.Context, projectID, documentID string) (*models.Document, error) {
	var out models.Document
	path := projectPath(projectID, "documents", url.PathEscape(documentID))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadDocument sends one file as multipart form field "file". Ingestion continues on the backend.
func (c *Client) UploadDocument(ctx context.Context, projectID, filename string, content io.Reader) (*models.Document, error) {
	var out models.Document
	if err := c.upload(ctx, projectPath(projectID, "documents"), nil, filename, content, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteDocument(ctx context.Context, projectID, documentID string, mode models.DeleteMode) error {
	path := projectPath(projectID, "documents", url.PathEscape(documentID))
	return c.doJSON(ctx, http.MethodDelete, path, modeQuery(mode), nil, nil)
}

func (c *Client) RestoreDocument(ctx context.Context, projectID, documentID string) error {
	path := projectPath(projectID, "documents", url.PathEscape(documentID), "restore")
	return c.doJSON(ctx, http.MethodPost, path, nil, nil, nil)
}

// PurgeDocument permanently removes a trashed document.
func (c *Client) PurgeDocument(ctx context.Context, projectID, documentID string) error {
	path := projectPath(projectID, "documents", url.PathEscape(documentID), "purge")
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil, nil)
}

func (c *Client) ReprocessDocument(ctx context.Context, projectID, documentID string) (*models.Document, error) {
	var out models.Document
	path := projectPath(projectID, "documents", url.PathEscape(documentID), "reprocess")
	if err := c.doJSON(ctx, http.MethodPost, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DocumentFile streams the original upload.
func (c *Client) DocumentFile(ctx context.Context, projectID, documentID string) (*Download, error) {
	return c.download(ctx, http.MethodGet, projectPath(projectID, "documents", url.PathEscape(documentID), "file"), nil)
}

func (c *Client) AddDocumentTag(ctx context.Context, projectID, documentID, tag string) (*models.DocumentTag, error) {
	var out models.DocumentTag
	path := projectPath(projectID, "documents", url.PathEscape(documentID), "tags")
	if err := c.doJSON(ctx, http.MethodPost, path, nil, map[string]string{"tag": tag}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RemoveDocumentTag(ctx context.Context, projectID, documentID, tagID string) error {
	path := projectPath(projectID, "documents", url.PathEscape(documentID), "tags", url.PathEscape(tagID))
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil, nil)
}
