package models

import (
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const (
	temporaryIDPrefix  = "temp-"
	incompleteIDPrefix = "incomplete-"
)

// Message is one entry in a conversation transcript.
type Message struct {
	ID                 string     `json:"id"`
	Role               Role       `json:"role"`
	Content            string     `json:"content"`
	Citations          []Citation `json:"citations,omitempty"`
	SuggestedFollowups []string   `json:"suggested_followups,omitempty"`
	DebugInfo          *DebugInfo `json:"debug_info,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Citation points at the document passage an assistant answer relied on.
type Citation struct {
	DocumentID   string `json:"document_id"`
	DocumentName string `json:"document_name"`
	Page         *int   `json:"page,omitempty"`
	Section      string `json:"section,omitempty"`
}

// DebugInfo is the retrieval snapshot attached to one assistant message.
type DebugInfo struct {
	ExecutionTimeMS float64 `json:"execution_time_ms"`
	LLMModel        string  `json:"llm_model"`
	RetrievedChunks []Chunk `json:"retrieved_chunks"`
	SystemPrompt    string  `json:"system_prompt"`
	UserPrompt      string  `json:"user_prompt"`
}

type Chunk struct {
	DocumentName       string   `json:"document_name"`
	PageNumber         *int     `json:"page_number,omitempty"`
	Section            string   `json:"section,omitempty"`
	Content            string   `json:"content"`
	Score              float64  `json:"score"`
	RetrievalRelevance *float64 `json:"retrieval_relevance,omitempty"`
	AnswerSupport      *float64 `json:"answer_support,omitempty"`
	CitedInAnswer      bool     `json:"cited_in_answer"`
	RetrievalRank      int      `json:"retrieval_rank"`
}

// NewTemporaryID returns the local id given to an optimistic user message.
func NewTemporaryID(now time.Time) string {
	return fmt.Sprintf("%s%d", temporaryIDPrefix, now.UnixMilli())
}

// NewIncompleteID returns the synthetic id of a turn finalized without a complete event.
func NewIncompleteID(now time.Time) string {
	return fmt.Sprintf("%s%d", incompleteIDPrefix, now.UnixMilli())
}

func IsTemporaryID(id string) bool {
	return strings.HasPrefix(id, temporaryIDPrefix)
}

func IsIncompleteID(id string) bool {
	return strings.HasPrefix(id, incompleteIDPrefix)
}
