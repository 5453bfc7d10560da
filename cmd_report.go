package main

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"homora/internal/models"
)

var (
	reportProject  string
	reportTemplate string
	reportSections []string
	reportTitle    string
	reportOutput   string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a project's PDF diligence report",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newBackendClient()
		if err != nil {
			return err
		}
		d, err := client.GenerateReport(cmd.Context(), models.ReportRequest{
			ProjectID:  reportProject,
			TemplateID: reportTemplate,
			Sections:   reportSections,
			Title:      reportTitle,
		})
		if err != nil {
			return err
		}
		defer d.Body.Close()

		path := reportOutput
		if path == "" {
			path = attachmentName(d.Disposition, "report-"+reportProject+".pdf")
		}
		if path == "-" {
			_, err = io.Copy(cmd.OutOrStdout(), d.Body)
			return err
		}
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		n, err := io.Copy(f, d.Body)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%d bytes)\n", path, n)
		return nil
	},
}

var reportTemplatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List report templates",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newBackendClient()
		if err != nil {
			return err
		}
		templates, err := client.ListReportTemplates(cmd.Context())
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tSECTIONS")
		for _, t := range templates {
			name := t.Name
			if t.IsDefault {
				name += " (default)"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", t.ID, name, strings.Join(t.Sections, ", "))
		}
		return tw.Flush()
	},
}

func init() {
	reportCmd.Flags().StringVarP(&reportProject, "project", "p", "", "project id")
	_ = reportCmd.MarkFlagRequired("project")
	reportCmd.Flags().StringVar(&reportTemplate, "template", "", "template id")
	reportCmd.Flags().StringArrayVar(&reportSections, "section", nil, "section to include, in order (repeatable)")
	reportCmd.Flags().StringVar(&reportTitle, "title", "", "report title")
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "output file, - for stdout")
	reportCmd.AddCommand(reportTemplatesCmd)
}

// attachmentName returns the base filename from a Content-Disposition header.
func attachmentName(disposition, fallback string) string {
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil || params["filename"] == "" {
		return fallback
	}
	return filepath.Base(params["filename"])
}
