package report

import (
	"bytes"
	"fmt"
	"html/template"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/google/shlex"
)

// RenderError means report generation failed. The message shown to the user
// carries no internal diagnostics; those go to the log only.
type RenderError struct {
	Err error
}

// Error implements the error interface.
func (e *RenderError) Error() string {
	return fmt.Sprintf("failed to render report: %v", e.Err)
}

// Unwrap exposes the underlying failure.
func (e *RenderError) Unwrap() error {
	return e.Err
}

// Renderer turns an assembled document into deliverable bytes.
type Renderer interface {
	Render(doc Document) ([]byte, error)
}

const htmlTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>runlab report {{.SessionID}}</title></head>
<body>
<h1>Source Code</h1>
<pre><code>{{.Source}}</code></pre>
<h1>Program Transcript</h1>
{{- if .HasOutput}}
<pre>
{{- range .Transcript}}
{{- if eq .Kind "output"}}{{.Text}}
{{else if eq .Kind "input"}}&gt; {{.Text}}
{{end}}
{{- end}}</pre>
{{- else}}
<p><em>(no output)</em></p>
{{- end}}
<h1>Errors (if any)</h1>
{{- if .Errors}}
<pre>
{{- range .Errors}}{{.Text}}
{{end}}</pre>
{{- else}}
<p><em>(no errors)</em></p>
{{- end}}
<p>Outcome: {{.Outcome}} &mdash; generated {{.GeneratedAt.Format "2006-01-02 15:04:05 MST"}}</p>
</body>
</html>
`

var reportTmpl = template.Must(template.New("report").Parse(htmlTemplate))

// HTMLRenderer renders the document to a self-contained HTML page. Rendering
// is deterministic for a fixed document.
type HTMLRenderer struct{}

// Render implements Renderer.
func (HTMLRenderer) Render(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	if err := reportTmpl.Execute(&buf, doc); err != nil {
		return nil, &RenderError{Err: err}
	}
	return buf.Bytes(), nil
}

// CommandRenderer pipes the HTML rendering through an external converter
// (e.g. a wkhtmltopdf wrapper) that reads HTML on stdin and writes the final
// document to stdout. The converter is treated as opaque: any non-zero exit
// is surfaced as a RenderError.
type CommandRenderer struct {
	command string
	logger  *slog.Logger
}

// NewCommandRenderer creates a renderer around the given argv template.
func NewCommandRenderer(command string, logger *slog.Logger) *CommandRenderer {
	return &CommandRenderer{command: command, logger: logger}
}

// Render implements Renderer.
func (r *CommandRenderer) Render(doc Document) ([]byte, error) {
	html, err := HTMLRenderer{}.Render(doc)
	if err != nil {
		return nil, err
	}

	argv, err := shlex.Split(r.command)
	if err != nil || len(argv) == 0 {
		return nil, &RenderError{Err: fmt.Errorf("invalid renderer command %q: %v", r.command, err)}
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = bytes.NewReader(html)

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		r.logger.Error("renderer command failed",
			"command", argv[0],
			"error", err,
			"stderr", strings.TrimSpace(stderr.String()))
		return nil, &RenderError{Err: err}
	}

	return out.Bytes(), nil
}
