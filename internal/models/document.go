package models

import "time"

type Project struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	RoleMode      string    `json:"role_mode"`
	DocumentCount int       `json:"document_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ProjectInput is the create/update payload; nil fields are left untouched on update.
type ProjectInput struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	RoleMode    *string `json:"role_mode,omitempty"`
}

type DocumentTag struct {
	ID  string `json:"id"`
	Tag string `json:"tag"`
}

// Document is an uploaded file owned by a project.
type Document struct {
	ID                string        `json:"id"`
	ProjectID         string        `json:"project_id"`
	Filename          string        `json:"filename"`
	FileType          string        `json:"file_type"`
	PageCount         *int          `json:"page_count,omitempty"`
	IngestionStatus   string        `json:"ingestion_status"`
	IngestionProgress int           `json:"ingestion_progress"`
	Category          string        `json:"category,omitempty"`
	ErrorMessage      string        `json:"error_message,omitempty"`
	Tags              []DocumentTag `json:"tags,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
}

type SearchRequest struct {
	Query      string `json:"query"`
	ProjectID  string `json:"project_id,omitempty"`
	SearchType string `json:"search_type,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Offset     int    `json:"offset,omitempty"`
}

type SearchResult struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	Title          string    `json:"title"`
	Snippet        string    `json:"snippet"`
	ProjectID      string    `json:"project_id"`
	ProjectName    string    `json:"project_name"`
	DocumentID     string    `json:"document_id,omitempty"`
	PageNumber     *int      `json:"page_number,omitempty"`
	RelevanceScore float64   `json:"relevance_score"`
	CreatedAt      time.Time `json:"created_at"`
}

type LLMSettings struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	APIKey   string `json:"api_key,omitempty"`
}

type EmbeddingSettings struct {
	Model string `json:"model"`
}

// Settings mirrors the backend settings resource.
type Settings struct {
	LLM                LLMSettings         `json:"llm"`
	Embedding          EmbeddingSettings   `json:"embedding"`
	Theme              string              `json:"theme,omitempty"`
	DocumentsPath      string              `json:"documents_path,omitempty"`
	AvailableProviders []string            `json:"available_providers,omitempty"`
	AvailableModels    map[string][]string `json:"available_models,omitempty"`
}

type SettingsUpdate struct {
	LLM       *LLMSettings       `json:"llm,omitempty"`
	Embedding *EmbeddingSettings `json:"embedding,omitempty"`
	Theme     *string            `json:"theme,omitempty"`
}
