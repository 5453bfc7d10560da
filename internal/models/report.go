package models

// ReportTemplate is a named, ordered list of report sections.
type ReportTemplate struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Sections  []string `json:"sections"`
	IsDefault bool     `json:"is_default"`
}

type ReportTemplateInput struct {
	Name      string   `json:"name"`
	Sections  []string `json:"sections"`
	IsDefault bool     `json:"is_default"`
}

// ReportRequest asks for a PDF report of one project. Explicit Sections win over the
// template's.
type ReportRequest struct {
	ProjectID  string   `json:"project_id"`
	TemplateID string   `json:"template_id,omitempty"`
	Sections   []string `json:"sections,omitempty"`
	Title      string   `json:"title,omitempty"`
}
