package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"homora/internal/cache"
	"homora/internal/models"
)

func (h *Handler) listReportTemplates(c *gin.Context) {
	templates, err := cache.FetchJSON(c.Request.Context(), h.cache, cache.ReportTemplatesKey(),
		func(ctx context.Context) ([]models.ReportTemplate, error) { return h.backend.ListReportTemplates(ctx) })
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"templates": templates})
}

func (h *Handler) createReportTemplate(c *gin.Context) {
	var in models.ReportTemplateInput
	if err := c.ShouldBindJSON(&in); err != nil || strings.TrimSpace(in.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "template name is required"})
		return
	}
	tmpl, err := h.backend.CreateReportTemplate(c.Request.Context(), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.invalidate(c, cache.ReportTemplatesKey())
	c.JSON(http.StatusCreated, tmpl)
}

func (h *Handler) deleteReportTemplate(c *gin.Context) {
	if err := h.backend.DeleteReportTemplate(c.Request.Context(), c.Param("tid")); err != nil {
		h.writeError(c, err)
		return
	}
	h.invalidate(c, cache.ReportTemplatesKey())
	c.Status(http.StatusNoContent)
}

type reportRequest struct {
	TemplateID string   `json:"template_id"`
	Sections   []string `json:"sections"`
	Title      string   `json:"title"`
}

// generateReport streams the project's PDF report. Sections are sent in the order given.
func (h *Handler) generateReport(c *gin.Context) {
	var req reportRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	sections := make([]string, 0, len(req.Sections))
	for _, s := range req.Sections {
		if s = strings.TrimSpace(s); s != "" {
			sections = append(sections, s)
		}
	}
	d, err := h.backend.GenerateReport(c.Request.Context(), models.ReportRequest{
		ProjectID:  c.Param("pid"),
		TemplateID: req.TemplateID,
		Sections:   sections,
		Title:      strings.TrimSpace(req.Title),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	sendDownload(c, d)
}
