package analysis

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileResolver resolves source references against the ingest directory. A
// reference is the name of a file below that directory; anything that escapes
// it is rejected.
type FileResolver struct {
	ingestDir string
}

// NewFileResolver constructs a resolver rooted at the ingest directory.
func NewFileResolver(ingestDir string) *FileResolver {
	return &FileResolver{ingestDir: ingestDir}
}

// Resolve validates a source reference and returns its absolute path.
func (r *FileResolver) Resolve(sourceRef string) (string, error) {
	sourceRef = strings.TrimSpace(sourceRef)
	if sourceRef == "" {
		return "", errors.New("source reference is empty")
	}
	if filepath.IsAbs(sourceRef) || !filepath.IsLocal(sourceRef) {
		return "", fmt.Errorf("source reference %q must name a file inside the ingest directory", sourceRef)
	}

	resolved := filepath.Join(r.ingestDir, sourceRef)
	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("stat source: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("source %q is a directory", sourceRef)
	}
	return resolved, nil
}
