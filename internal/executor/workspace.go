package executor

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dontdude/coderoom/internal/domain"
)

// workspace is a private temporary directory holding one job's source file
// and build artifacts.
type workspace struct {
	dir string
}

// newWorkspace creates a fresh directory under root and writes the source
// file named by the policy into it.
func newWorkspace(root, jobID string, p Policy, source string) (*workspace, error) {
	dir, err := os.MkdirTemp(root, "job-"+safeName(jobID)+"-")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrWorkspace, err)
	}

	if err := os.WriteFile(filepath.Join(dir, p.SourceFile), []byte(source), 0o644); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("%w: write source: %v", domain.ErrWorkspace, err)
	}
	return &workspace{dir: dir}, nil
}

// release removes the directory and everything in it.
func (w *workspace) release() {
	if err := os.RemoveAll(w.dir); err != nil {
		slog.Warn("Failed to remove workspace", "dir", w.dir, "error", err)
	}
}

// safeName keeps a job id usable as part of a directory name.
func safeName(id string) string {
	if id == "" {
		return "anon"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		}
		return '_'
	}, id)
}
