package backend

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"homora/internal/models"
)

type projectList struct {
	Projects []models.Project `json:"projects"`
	Total    int              `json:"total"`
}

func (c *Client) ListProjects(ctx context.Context) ([]models.Project, error) {
	var out projectList
	if err := c.doJSON(ctx, http.MethodGet, "/projects", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Projects, nil
}

func (c *Client) GetProject(ctx context.Context, projectID string) (*models.Project, error) {
	var out models.Project
	if err := c.doJSON(ctx, http.MethodGet, projectPath(projectID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateProject(ctx context.Context, in models.ProjectInput) (*models.Project, error) {
	var out models.Project
	if err := c.doJSON(ctx, http.MethodPost, "/projects", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateProject(ctx context.Context, projectID string, in models.ProjectInput) (*models.Project, error) {
	var out models.Project
	if err := c.doJSON(ctx, http.MethodPatch, projectPath(projectID), nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteProject moves a project to trash (soft) or removes it with all its content (hard).
func (c *Client) DeleteProject(ctx context.Context, projectID string, mode models.DeleteMode) error {
	return c.doJSON(ctx, http.MethodDelete, projectPath(projectID), modeQuery(mode), nil, nil)
}

// ExportProject streams the project as a ZIP archive.
func (c *Client) ExportProject(ctx context.Context, projectID string) (*Download, error) {
	return c.download(ctx, http.MethodGet, projectPath(projectID, "export"), nil)
}

// ImportProject creates a project from an exported archive, renamed when newName is set.
func (c *Client) ImportProject(ctx context.Context, filename string, archive io.Reader, newName string) (*models.Project, error) {
	var query url.Values
	if newName != "" {
		query = url.Values{"new_name": {newName}}
	}
	var out models.Project
	if err := c.upload(ctx, "/projects/import", query, filename, archive, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type trashList struct {
	Items []models.TrashItem `json:"items"`
	Total int                `json:"total"`
}

// ListTrash returns the soft-deleted documents and conversations of a project.
func (c *Client) ListTrash(ctx context.Context, projectID string) ([]models.TrashItem, error) {
	var out trashList
	if err := c.doJSON(ctx, http.MethodGet, projectPath(projectID, "trash"), nil, nil, &out); err != nil {
		return nil, err
	}
	for i := range out.Items {
		if out.Items[i].ProjectID == "" {
			out.Items[i].ProjectID = projectID
		}
	}
	return out.Items, nil
}

type searchResponse struct {
	Results []models.SearchResult `json:"results"`
	Total   int                   `json:"total"`
	Query   string                `json:"query"`
}

func (c *Client) Search(ctx context.Context, req models.SearchRequest) ([]models.SearchResult, error) {
	var out searchResponse
	if err := c.doJSON(ctx, http.MethodPost, "/search", nil, req, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (c *Client) GetSettings(ctx context.Context) (*models.Settings, error) {
	var out models.Settings
	if err := c.doJSON(ctx, http.MethodGet, "/settings", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateSettings(ctx context.Context, in models.SettingsUpdate) (*models.Settings, error) {
	var out models.Settings
	if err := c.doJSON(ctx, http.MethodPatch, "/settings", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func modeQuery(mode models.DeleteMode) url.Values {
	if mode == "" {
		mode = models.DeleteSoft
	}
	return url.Values{"mode": []string{string(mode)}}
}
