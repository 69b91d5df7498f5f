// Package assets provides embedded static assets for the application.
//
// Prompt templates are stored as text files under prompts/ and embedded at compile time.
package assets

import (
	"bytes"
	_ "embed"
	"text/template"
)

// ReportSystemPrompt instructs the model how to write a gallery report.
//
//go:embed prompts/report-system.txt
var ReportSystemPrompt string

//go:embed prompts/report-user.txt
var reportUserTemplate string

// Pre-parsed so a malformed template fails at startup rather than per call.
var reportUserTmpl = template.Must(template.New("report-user").Parse(reportUserTemplate))

// ReportPromptData holds the per-submission values injected into the user prompt.
type ReportPromptData struct {
	Text         string
	Partners     bool
	DefaultDate  string
	Photos       int
	CategoryHint string
	Hints        []string
}

// RenderReportUserPrompt renders the user prompt for one submission.
func RenderReportUserPrompt(data ReportPromptData) string {
	var buf bytes.Buffer
	// Execution errors are not expected with this template; return whatever rendered.
	_ = reportUserTmpl.Execute(&buf, data)
	return buf.String()
}
