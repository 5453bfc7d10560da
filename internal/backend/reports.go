package backend

import (
	"context"
	"net/http"
	"net/url"

	"homora/internal/models"
)

// ListReportTemplates returns every template. The backend seeds the standard one on first use.
func (c *Client) ListReportTemplates(ctx context.Context) ([]models.ReportTemplate, error) {
	var out []models.ReportTemplate
	if err := c.doJSON(ctx, http.MethodGet, "/reports/templates", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateReportTemplate(ctx context.Context, in models.ReportTemplateInput) (*models.ReportTemplate, error) {
	var out models.ReportTemplate
	if err := c.doJSON(ctx, http.MethodPost, "/reports/templates", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteReportTemplate removes a template. The default template cannot be deleted.
func (c *Client) DeleteReportTemplate(ctx context.Context, templateID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/reports/templates/"+url.PathEscape(templateID), nil, nil, nil)
}

// GenerateReport streams the rendered PDF.
func (c *Client) GenerateReport(ctx context.Context, req models.ReportRequest) (*Download, error) {
	return c.download(ctx, http.MethodPost, "/reports/generate", req)
}
