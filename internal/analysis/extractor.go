package analysis

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"distill/internal/pipeline"
)

// Extractor distills a source file into a JSON intermediate artifact stored in
// the output directory. When a command is configured it is invoked as
//
//	<command> <source> <model> <output-path>
//
// and must write the artifact to the given path. Without a command a built-in
// extraction produces basic content statistics.
type Extractor struct {
	command   string
	outputDir string
}

// NewExtractor constructs the extraction stage handler.
func NewExtractor(command, outputDir string) *Extractor {
	return &Extractor{command: strings.TrimSpace(command), outputDir: outputDir}
}

// Extract implements pipeline.Stage1Handler.
func (e *Extractor) Extract(ctx context.Context, req pipeline.Request) (string, error) {
	name := fmt.Sprintf("stage1_%s_%s.json", req.TaskID, artifactNonce())
	outputPath := filepath.Join(e.outputDir, name)

	if e.command != "" {
		if err := runTool(ctx, e.command, req.Source, req.ModelName, outputPath); err != nil {
			return "", fmt.Errorf("extractor: %w", err)
		}
	} else if err := e.builtinExtract(req.Source, req.ModelName, outputPath); err != nil {
		return "", err
	}

	if _, err := os.Stat(outputPath); err != nil {
		return "", fmt.Errorf("extractor produced no artifact: %w", err)
	}
	return name, nil
}

// Intermediate is the built-in extraction artifact shape.
type Intermediate struct {
	SourceRef   string    `json:"source_ref"`
	Model       string    `json:"model"`
	SizeBytes   int64     `json:"size_bytes"`
	LineCount   int       `json:"line_count"`
	GeneratedAt time.Time `json:"generated_at"`
}

func (e *Extractor) builtinExtract(source, model, outputPath string) error {
	file, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	lines := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan source: %w", err)
	}

	intermediate := Intermediate{
		SourceRef:   filepath.Base(source),
		Model:       model,
		SizeBytes:   info.Size(),
		LineCount:   lines,
		GeneratedAt: time.Now().UTC(),
	}
	payload, err := json.MarshalIndent(intermediate, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal intermediate: %w", err)
	}
	if err := os.WriteFile(outputPath, payload, 0o644); err != nil {
		return fmt.Errorf("write intermediate: %w", err)
	}
	return nil
}

// runTool executes an external collaborator and folds its output into the
// error on failure.
func runTool(ctx context.Context, command string, args ...string) error {
	cmd := exec.CommandContext(ctx, command, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		detail := strings.TrimSpace(string(output))
		if len(detail) > 512 {
			detail = detail[:512]
		}
		if detail != "" {
			return fmt.Errorf("%s: %w: %s", filepath.Base(command), err, detail)
		}
		return fmt.Errorf("%s: %w", filepath.Base(command), err)
	}
	return nil
}

func artifactNonce() string {
	return uuid.NewString()[:8]
}
