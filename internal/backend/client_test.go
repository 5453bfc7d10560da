package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homora/internal/models"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL+"/", 5*time.Second)
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresURL(t *testing.T) {
	_, err := NewClient("  ", time.Second)
	require.Error(t, err)
}

func TestListTrashFillsProjectID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/projects/p-1/trash", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"items":[{"id":"d-1","type":"document","title":"lease.pdf"},{"id":"c-1","type":"conversation","title":"Rent"}],"total":2}`)
	})
	c := newTestClient(t, mux)

	items, err := c.ListTrash(context.Background(), "p-1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, models.ItemDocument, items[0].Type)
	assert.Equal(t, models.ItemConversation, items[1].Type)
	assert.Equal(t, "p-1", items[1].ProjectID)
}

func TestAPIErrorCarriesDetail(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/projects/p-1/conversations/c-9", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"detail":"Conversation not found"}`)
	})
	mux.HandleFunc("/projects/p-1/documents/d-1/restore", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "boom")
	})
	c := newTestClient(t, mux)

	_, err := c.GetConversation(context.Background(), "p-1", "c-9")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Conversation not found", apiErr.Detail)

	err = c.RestoreDocument(context.Background(), "p-1", "d-1")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Equal(t, "boom", apiErr.Detail)
	assert.False(t, IsNotFound(err))
}

func TestDeleteSendsMode(t *testing.T) {
	var gotMode, gotPath string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMode = r.URL.Query().Get("mode")
		w.WriteHeader(http.StatusNoContent)
	}))

	require.NoError(t, c.DeleteConversation(context.Background(), "p-1", "c-1", models.DeleteHard))
	assert.Equal(t, "/projects/p-1/conversations/c-1", gotPath)
	assert.Equal(t, "hard", gotMode)

	require.NoError(t, c.DeleteProject(context.Background(), "p-1", ""))
	assert.Equal(t, "soft", gotMode)
}

func TestEditAndRegenerate(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/projects/p-1/conversations/c-1/messages/m-2/edit", r.URL.Path)
		var body struct {
			Content string `json:"content"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "What about the deposit?", body.Content)
		_, _ = io.WriteString(w, `{"new_conversation_id":"c-2","title":"Deposit"}`)
	}))

	res, err := c.EditAndRegenerate(context.Background(), "p-1", "c-1", "m-2", "What about the deposit?")
	require.NoError(t, err)
	assert.Equal(t, models.BranchResult{NewConversationID: "c-2", Title: "Deposit"}, res)
}

func TestUploadDocumentMultipart(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "lease.pdf", hdr.Filename)
		assert.Equal(t, "%PDF", string(data))
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"d-1","project_id":"p-1","filename":"lease.pdf","ingestion_status":"pending"}`)
	}))

	doc, err := c.UploadDocument(context.Background(), "p-1", "lease.pdf", strings.NewReader("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, "d-1", doc.ID)
	assert.Equal(t, "pending", doc.IngestionStatus)
}

func TestSearchUnwrapsResults(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		_, _ = io.WriteString(w, `{"results":[{"id":"r-1","type":"chunk","title":"lease.pdf","relevance_score":0.9}],"total":1,"query":"rent"}`)
	}))

	results, err := c.Search(context.Background(), models.SearchRequest{Query: "rent", Limit: 5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.9, results[0].RelevanceScore, 1e-9)
}

func TestGenerateReportStreamsPDF(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/reports/generate", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "p-1", body["project_id"])
		assert.Equal(t, []any{"Key Findings", "Appendix"}, body["sections"])
		assert.NotContains(t, body, "template_id")
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", "attachment; filename=diligence-report-p-1.pdf")
		_, _ = io.WriteString(w, "%PDF-1.7")
	}))

	d, err := c.GenerateReport(context.Background(), models.ReportRequest{
		ProjectID: "p-1",
		Sections:  []string{"Key Findings", "Appendix"},
	})
	require.NoError(t, err)
	defer d.Body.Close()
	data, err := io.ReadAll(d.Body)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(data))
	assert.Equal(t, "application/pdf", d.ContentType)
	assert.Contains(t, d.Disposition, "diligence-report-p-1.pdf")
}

func TestReportTemplates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/reports/templates", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			var in models.ReportTemplateInput
			require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			assert.Equal(t, []string{"Risk Assessment"}, in.Sections)
			_, _ = io.WriteString(w, `{"id":"t-2","name":"Risks","sections":["Risk Assessment"],"is_default":false}`)
			return
		}
		_, _ = io.WriteString(w, `[{"id":"t-1","name":"Standard Diligence Report","sections":["Executive Summary"],"is_default":true}]`)
	})
	mux.HandleFunc("/reports/templates/t-1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"detail":"Cannot delete default template"}`)
	})
	c := newTestClient(t, mux)

	templates, err := c.ListReportTemplates(context.Background())
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.True(t, templates[0].IsDefault)

	tmpl, err := c.CreateReportTemplate(context.Background(), models.ReportTemplateInput{Name: "Risks", Sections: []string{"Risk Assessment"}})
	require.NoError(t, err)
	assert.Equal(t, "t-2", tmpl.ID)

	err = c.DeleteReportTemplate(context.Background(), "t-1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Cannot delete default template", apiErr.Detail)
}

func TestDocumentTags(t *testing.T) {
	var removed string
	mux := http.NewServeMux()
	mux.HandleFunc("/projects/p-1/documents/d-1/tags", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Tag string `json:"tag"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = io.WriteString(w, `{"id":"tag-1","tag":"`+body.Tag+`"}`)
	})
	mux.HandleFunc("/projects/p-1/documents/d-1/tags/tag-1", func(w http.ResponseWriter, r *http.Request) {
		removed = r.Method
		w.WriteHeader(http.StatusNoContent)
	})
	c := newTestClient(t, mux)

	tag, err := c.AddDocumentTag(context.Background(), "p-1", "d-1", "zoning")
	require.NoError(t, err)
	assert.Equal(t, models.DocumentTag{ID: "tag-1", Tag: "zoning"}, *tag)
	require.NoError(t, c.RemoveDocumentTag(context.Background(), "p-1", "d-1", "tag-1"))
	assert.Equal(t, http.MethodDelete, removed)
}

func TestExportAndImportProject(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/projects/p-1/export", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		_, _ = io.WriteString(w, "PK")
	})
	mux.HandleFunc("/projects/import", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Maple St copy", r.URL.Query().Get("new_name"))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "project-p-1.zip", hdr.Filename)
		assert.Equal(t, "PK", string(data))
		_, _ = io.WriteString(w, `{"id":"p-2","name":"Maple St copy"}`)
	})
	c := newTestClient(t, mux)

	d, err := c.ExportProject(context.Background(), "p-1")
	require.NoError(t, err)
	archive, err := io.ReadAll(d.Body)
	require.NoError(t, err)
	require.NoError(t, d.Body.Close())
	assert.Equal(t, "application/zip", d.ContentType)

	project, err := c.ImportProject(context.Background(), "project-p-1.zip", strings.NewReader(string(archive)), "Maple St copy")
	require.NoError(t, err)
	assert.Equal(t, "p-2", project.ID)
}
