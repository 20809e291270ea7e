package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	"distill/internal/pipeline"
)

// Reporter renders a completed extraction into an HTML report stored in the
// report directory. When a command is configured it is invoked as
//
//	<command> <intermediate-path> <report-path>
//
// and must write the report to the given path. Without a command a built-in
// template renders the intermediate directly.
type Reporter struct {
	command   string
	outputDir string
	reportDir string
}

// NewReporter constructs the report stage handler.
func NewReporter(command, outputDir, reportDir string) *Reporter {
	return &Reporter{command: strings.TrimSpace(command), outputDir: outputDir, reportDir: reportDir}
}

// GenerateReport implements pipeline.Stage2Handler.
func (r *Reporter) GenerateReport(ctx context.Context, req pipeline.Request) (string, error) {
	if req.Stage1Output == "" {
		return "", fmt.Errorf("task %s has no extraction artifact", req.TaskID)
	}
	inputPath := filepath.Join(r.outputDir, req.Stage1Output)
	if _, err := os.Stat(inputPath); err != nil {
		return "", fmt.Errorf("extraction artifact missing: %w", err)
	}

	name := fmt.Sprintf("report_%s_%s.html", req.TaskID, artifactNonce())
	reportPath := filepath.Join(r.reportDir, name)

	if r.command != "" {
		if err := runTool(ctx, r.command, inputPath, reportPath); err != nil {
			return "", fmt.Errorf("reporter: %w", err)
		}
	} else if err := r.builtinReport(req, inputPath, reportPath); err != nil {
		return "", err
	}

	if _, err := os.Stat(reportPath); err != nil {
		return "", fmt.Errorf("reporter produced no artifact: %w", err)
	}
	return name, nil
}

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Analysis report {{.TaskID}}</title></head>
<body>
<h1>Analysis report</h1>
<table>
<tr><th>Task</th><td>{{.TaskID}}</td></tr>
<tr><th>Source</th><td>{{.SourceRef}}</td></tr>
<tr><th>Model</th><td>{{.Model}}</td></tr>
<tr><th>Size (bytes)</th><td>{{.SizeBytes}}</td></tr>
<tr><th>Lines</th><td>{{.LineCount}}</td></tr>
<tr><th>Extracted at</th><td>{{.ExtractedAt}}</td></tr>
<tr><th>Rendered at</th><td>{{.RenderedAt}}</td></tr>
</table>
</body>
</html>
`))

type reportData struct {
	TaskID      string
	SourceRef   string
	Model       string
	SizeBytes   int64
	LineCount   int
	ExtractedAt string
	RenderedAt  string
}

func (r *Reporter) builtinReport(req pipeline.Request, inputPath, reportPath string) error {
	payload, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("read intermediate: %w", err)
	}
	var intermediate Intermediate
	if err := json.Unmarshal(payload, &intermediate); err != nil {
		return fmt.Errorf("decode intermediate: %w", err)
	}

	out, err := os.Create(reportPath)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer out.Close()

	data := reportData{
		TaskID:      req.TaskID,
		SourceRef:   intermediate.SourceRef,
		Model:       intermediate.Model,
		SizeBytes:   intermediate.SizeBytes,
		LineCount:   intermediate.LineCount,
		ExtractedAt: intermediate.GeneratedAt.Format(time.RFC3339),
		RenderedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	if err := reportTemplate.Execute(out, data); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}
