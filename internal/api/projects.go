package api

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"homora/internal/backend"
	"homora/internal/cache"
	"homora/internal/models"
)

func (h *Handler) listProjects(c *gin.Context) {
	projects, err := cache.FetchJSON(c.Request.Context(), h.cache, cache.ProjectsKey(),
		func(ctx context.Context) ([]models.Project, error) { return h.backend.ListProjects(ctx) })
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects, "total": len(projects)})
}

func (h *Handler) getProject(c *gin.Context) {
	pid := c.Param("pid")
	project, err := cache.FetchJSON(c.Request.Context(), h.cache, cache.ProjectKey(pid),
		func(ctx context.Context) (*models.Project, error) { return h.backend.GetProject(ctx, pid) })
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

func (h *Handler) createProject(c *gin.Context) {
	var in models.ProjectInput
	if err := c.ShouldBindJSON(&in); err != nil || in.Name == nil || strings.TrimSpace(*in.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "project name is required"})
		return
	}
	project, err := h.backend.CreateProject(c.Request.Context(), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.invalidate(c, cache.ProjectsKey())
	c.JSON(http.StatusCreated, project)
}

func (h *Handler) updateProject(c *gin.Context) {
	var in models.ProjectInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	pid := c.Param("pid")
	project, err := h.backend.UpdateProject(c.Request.Context(), pid, in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.invalidate(c, cache.ProjectsKey(), cache.ProjectKey(pid))
	c.JSON(http.StatusOK, project)
}

func (h *Handler) deleteProject(c *gin.Context) {
	pid := c.Param("pid")
	mode := models.DeleteMode(c.DefaultQuery("mode", string(models.DeleteSoft)))
	if mode != models.DeleteSoft && mode != models.DeleteHard {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be soft or hard"})
		return
	}
	if err := h.backend.DeleteProject(c.Request.Context(), pid, mode); err != nil {
		h.writeError(c, err)
		return
	}
	h.invalidate(c, append(cache.ProjectKeys(pid), cache.ProjectsKey())...)
	c.Status(http.StatusNoContent)
}

// listDocuments also refreshes the session's citation document set.
func (h *Handler) listDocuments(c *gin.Context) {
	st, ok := h.state(c)
	if !ok {
		return
	}
	docs, err := h.documents(c.Request.Context(), st.ProjectID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	st.Documents.Set(docs)
	c.JSON(http.StatusOK, gin.H{"documents": docs, "total": len(docs)})
}

func (h *Handler) documents(ctx context.Context, pid string) ([]models.Document, error) {
	return cache.FetchJSON(ctx, h.cache, cache.DocumentsKey(pid),
		func(ctx context.Context) ([]models.Document, error) { return h.backend.ListDocuments(ctx, pid) })
}

func (h *Handler) conversations(ctx context.Context, pid string) ([]models.ConversationSummary, error) {
	return cache.FetchJSON(ctx, h.cache, cache.ConversationsKey(pid),
		func(ctx context.Context) ([]models.ConversationSummary, error) {
			return h.backend.ListConversations(ctx, pid)
		})
}

func (h *Handler) trashItems(ctx context.Context, pid string) ([]models.TrashItem, error) {
	return cache.FetchJSON(ctx, h.cache, cache.TrashKey(pid),
		func(ctx context.Context) ([]models.TrashItem, error) { return h.backend.ListTrash(ctx, pid) })
}

func (h *Handler) uploadDocument(c *gin.Context) {
	pid := c.Param("pid")
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read upload"})
		return
	}
	defer f.Close()
	doc, err := h.backend.UploadDocument(c.Request.Context(), pid, fileHeader.Filename, f)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.invalidate(c, cache.DocumentsKey(pid), cache.ProjectKey(pid), cache.ProjectsKey())
	c.JSON(http.StatusCreated, doc)
}

func (h *Handler) getDocument(c *gin.Context) {
	doc, err := h.backend.GetDocument(c.Request.Context(), c.Param("pid"), c.Param("did"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *Handler) deleteDocument(c *gin.Context) {
	pid := c.Param("pid")
	if err := h.backend.DeleteDocument(c.Request.Context(), pid, c.Param("did"), models.DeleteSoft); err != nil {
		h.writeError(c, err)
		return
	}
	h.invalidate(c, cache.ProjectKeys(pid)...)
	c.Status(http.StatusNoContent)
}

func (h *Handler) reprocessDocument(c *gin.Context) {
	pid := c.Param("pid")
	doc, err := h.backend.ReprocessDocument(c.Request.Context(), pid, c.Param("did"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.invalidate(c, cache.DocumentsKey(pid))
	c.JSON(http.StatusAccepted, doc)
}

func (h *Handler) documentFile(c *gin.Context) {
	d, err := h.backend.DocumentFile(c.Request.Context(), c.Param("pid"), c.Param("did"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	sendDownload(c, d)
}

// sendDownload copies a backend download to the client with its content headers.
func sendDownload(c *gin.Context, d *backend.Download) {
	defer d.Body.Close()
	contentType := d.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Type", contentType)
	if d.Disposition != "" {
		c.Header("Content-Disposition", d.Disposition)
	}
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, d.Body)
}

type tagRequest struct {
	Tag string `json:"tag"`
}

func (h *Handler) addDocumentTag(c *gin.Context) {
	var req tagRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Tag) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tag is required"})
		return
	}
	pid := c.Param("pid")
	tag, err := h.backend.AddDocumentTag(c.Request.Context(), pid, c.Param("did"), strings.TrimSpace(req.Tag))
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.invalidate(c, cache.DocumentsKey(pid))
	c.JSON(http.StatusOK, tag)
}

func (h *Handler) removeDocumentTag(c *gin.Context) {
	pid := c.Param("pid")
	if err := h.backend.RemoveDocumentTag(c.Request.Context(), pid, c.Param("did"), c.Param("tag_id")); err != nil {
		h.writeError(c, err)
		return
	}
	h.invalidate(c, cache.DocumentsKey(pid))
	c.Status(http.StatusNoContent)
}

func (h *Handler) exportProject(c *gin.Context) {
	d, err := h.backend.ExportProject(c.Request.Context(), c.Param("pid"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	sendDownload(c, d)
}

func (h *Handler) importProject(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "archive file is required"})
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()
	project, err := h.backend.ImportProject(detached(c), fileHeader.Filename, f, c.Query("new_name"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.invalidate(c, cache.ProjectsKey())
	c.JSON(http.StatusCreated, project)
}

func (h *Handler) listConversations(c *gin.Context) {
	convs, err := h.conversations(c.Request.Context(), c.Param("pid"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs, "total": len(convs)})
}

func (h *Handler) deleteConversation(c *gin.Context) {
	st, ok := h.state(c)
	if !ok {
		return
	}
	cid := c.Param("cid")
	if err := h.backend.DeleteConversation(c.Request.Context(), st.ProjectID, cid, models.DeleteSoft); err != nil {
		h.writeError(c, err)
		return
	}
	if st.Chat.ConversationID() == cid {
		st.Chat.StartNewConversation()
	}
	h.invalidate(c, cache.ProjectKeys(st.ProjectID)...)
	c.Status(http.StatusNoContent)
}

func (h *Handler) search(c *gin.Context) {
	var req models.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}
	results, err := h.backend.Search(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "total": len(results), "query": req.Query})
}

func (h *Handler) getSettings(c *gin.Context) {
	settings, err := h.backend.GetSettings(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (h *Handler) updateSettings(c *gin.Context) {
	var in models.SettingsUpdate
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	settings, err := h.backend.UpdateSettings(c.Request.Context(), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (h *Handler) invalidate(c *gin.Context, keys ...string) {
	if err := h.cache.Invalidate(c.Request.Context(), keys...); err != nil {
		h.logger.Warn("cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
	}
}
