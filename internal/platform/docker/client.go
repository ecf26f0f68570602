// Package docker runs job phases inside ephemeral containers using the
// official Docker SDK.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/dontdude/coderoom/internal/domain"
	"github.com/dontdude/coderoom/internal/platform/capture"
)

// workdir is where the job workspace is mounted inside the container.
const workdir = "/workspace"

// Options configures the container for every phase.
type Options struct {
	Images          map[domain.Language]string
	MemoryMB        int64
	PidsLimit       int64
	NetworkDisabled bool
}

// Sandbox implements domain.Sandbox with one container per phase. The job
// workspace is bind mounted, so it must live on a path the Docker daemon can
// see.
type Sandbox struct {
	cli    *client.Client
	opts   Options
	images *imageCache
}

// Check if Sandbox implements domain.Sandbox
var _ domain.Sandbox = (*Sandbox)(nil)

// NewSandbox connects to the Docker daemon described by the environment
// and verifies it with a Ping.
func NewSandbox(ctx context.Context, opts Options) (*Sandbox, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to connect to docker daemon: %w", err)
	}

	slog.Info("Docker client initialized successfully")
	s := &Sandbox{cli: cli, opts: opts}
	s.images = newImageCache(s.pullImage)
	return s, nil
}

// Close releases the daemon connection.
func (s *Sandbox) Close() error {
	return s.cli.Close()
}

// Exec runs one phase in a fresh container and always removes it.
func (s *Sandbox) Exec(ctx context.Context, phase domain.Phase) (domain.Outcome, error) {
	img, ok := s.opts.Images[phase.Language]
	if !ok {
		return domain.Outcome{}, fmt.Errorf("%w: no image for %q", domain.ErrSpawn, phase.Language)
	}
	if err := s.images.ensure(ctx, img); err != nil {
		return domain.Outcome{}, fmt.Errorf("%w: %v", domain.ErrSpawn, err)
	}

	cfg, hostCfg := containerConfig(phase, img, s.opts)
	resp, err := s.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("%w: create container: %v", domain.ErrSpawn, err)
	}
	id := resp.ID
	defer func() {
		// Removal must happen even when ctx is already cancelled.
		rmCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.cli.ContainerRemove(rmCtx, id, container.RemoveOptions{Force: true}); err != nil {
			slog.Warn("Failed to remove container", "containerID", id, "error", err)
		}
	}()

	var (
		mu     sync.Mutex
		reason domain.KillReason
	)
	kill := func(r domain.KillReason) {
		mu.Lock()
		if reason != domain.NotKilled {
			mu.Unlock()
			return
		}
		reason = r
		mu.Unlock()

		killCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.cli.ContainerKill(killCtx, id, "KILL"); err != nil {
			slog.Debug("Kill failed", "containerID", id, "error", err)
		}
	}

	stdout := capture.NewBuffer(phase.OutputLimit, func() { go kill(domain.KillOutputLimit) })
	stderr := capture.NewBuffer(phase.OutputLimit, func() { go kill(domain.KillOutputLimit) })

	hijack, err := s.cli.ContainerAttach(ctx, id, container.AttachOptions{Stream: true, Stdout: true, Stderr: true})
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("%w: attach: %v", domain.ErrSpawn, err)
	}
	defer hijack.Close()

	copied := make(chan struct{})
	go func() {
		defer close(copied)
		if _, err := stdcopy.StdCopy(stdout, stderr, hijack.Reader); err != nil && err != io.EOF {
			slog.Debug("Output stream ended", "containerID", id, "error", err)
		}
	}()

	start := time.Now()
	if err := s.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return domain.Outcome{}, fmt.Errorf("%w: start: %v", domain.ErrSpawn, err)
	}

	var timeout <-chan time.Time
	if phase.Timeout > 0 {
		timer := time.NewTimer(phase.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	// The wait itself must outlive ctx so a cancelled phase is still reaped.
	waitCh, errCh := s.cli.ContainerWait(context.Background(), id, container.WaitConditionNotRunning)
	code := -1
	done := false
	for !done {
		select {
		case w := <-waitCh:
			code = int(w.StatusCode)
			done = true
		case err := <-errCh:
			slog.Error("Container wait failed", "containerID", id, "error", err)
			done = true
		case <-timeout:
			timeout = nil
			kill(domain.KillTimeout)
		case <-ctx.Done():
			kill(domain.KillCancelled)
			ctx = context.Background()
		}
	}
	<-copied

	mu.Lock()
	killed := reason
	mu.Unlock()
	if killed != domain.NotKilled {
		code = -1
	}

	return domain.Outcome{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: code,
		Killed:   killed,
		Duration: time.Since(start),
	}, nil
}

// pullImage fetches img unless the daemon already has it.
func (s *Sandbox) pullImage(ctx context.Context, img string) error {
	if _, err := s.cli.ImageInspect(ctx, img); err == nil {
		return nil
	}

	slog.Info("Pulling image", "image", img)
	reader, err := s.cli.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", img, err)
	}
	defer reader.Close()
	// Drain the response body to ensure the pull completes properly.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", img, err)
	}
	slog.Info("Pulled image", "image", img)
	return nil
}

// containerConfig builds the container for one phase: workspace bind
// mounted at /workspace, no network, and memory and pid limits.
func containerConfig(phase domain.Phase, img string, opts Options) (*container.Config, *container.HostConfig) {
	cfg := &container.Config{
		Image:           img,
		Cmd:             phase.Argv,
		WorkingDir:      workdir,
		Env:             []string{"TMPDIR=" + workdir, "PYTHONDONTWRITEBYTECODE=1"},
		NetworkDisabled: opts.NetworkDisabled,
		AttachStdout:    true,
		AttachStderr:    true,
	}

	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: phase.Workspace,
			Target: workdir,
		}},
	}
	if opts.NetworkDisabled {
		hostCfg.NetworkMode = container.NetworkMode("none")
	}
	if opts.MemoryMB > 0 {
		hostCfg.Resources.Memory = opts.MemoryMB * 1024 * 1024
		// Equal swap forbids swapping past the memory limit.
		hostCfg.Resources.MemorySwap = hostCfg.Resources.Memory
	}
	if opts.PidsLimit > 0 {
		pids := opts.PidsLimit
		hostCfg.Resources.PidsLimit = &pids
	}
	return cfg, hostCfg
}
