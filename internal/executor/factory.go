package executor

import (
	"context"
	"fmt"

	"github.com/dontdude/coderoom/internal/domain"
	"github.com/dontdude/coderoom/internal/platform/docker"
	"github.com/dontdude/coderoom/internal/platform/process"
)

// Sandbox backends.
const (
	BackendLocal  = "local"
	BackendDocker = "docker"
)

// NewSandbox returns the sandbox for backend. The returned close function
// releases any daemon connection and is never nil.
func NewSandbox(ctx context.Context, backend string, opts docker.Options) (domain.Sandbox, func() error, error) {
	switch backend {
	case BackendLocal, "":
		return process.New(), func() error { return nil }, nil
	case BackendDocker:
		sb, err := docker.NewSandbox(ctx, opts)
		if err != nil {
			return nil, nil, err
		}
		return sb, sb.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown executor backend %q", backend)
}
