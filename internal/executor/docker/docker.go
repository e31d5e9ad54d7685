// Package docker runs each program in its own short-lived container:
// no network, read-only root filesystem, a small writable /tmp, capped memory,
// CPU and process count, running as nobody.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/sakif/nalar/internal/config"
	"github.com/sakif/nalar/internal/executor"
)

const pidsLimit = 64

// Executor implements executor.Executor using Docker.
type Executor struct {
	cli    *client.Client
	cfg    config.DockerConfig
	logger *slog.Logger
	pool   *Pool
}

// New connects to the Docker daemon from the environment (DOCKER_HOST etc.),
// pulls the sandbox image and starts warming the pool.
func New(ctx context.Context, cfg config.DockerConfig, logger *slog.Logger) (*Executor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker: creating client: %w", err)
	}

	pullCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	logger.Info("ensuring sandbox image is available", slog.String("image", cfg.Image))
	reader, err := cli.ImagePull(pullCtx, cfg.Image, image.PullOptions{})
	if err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("docker: pulling %s: %w", cfg.Image, err)
	}
	// The pull only finishes once the progress stream is drained.
	_, _ = io.Copy(io.Discard, reader)
	reader.Close()

	e := &Executor{cli: cli, cfg: cfg, logger: logger}
	e.pool = NewPool(e, cfg.PoolSize, logger)
	e.pool.Start()
	return e, nil
}

// Close stops the pool and the client.
func (e *Executor) Close() error {
	e.pool.Stop()
	return e.cli.Close()
}

// Execute runs code with `python -c` in a warm container. The container is
// discarded afterwards so nothing leaks between runs.
func (e *Executor) Execute(ctx context.Context, code string) (*executor.Result, error) {
	if strings.TrimSpace(code) == "" {
		return nil, executor.ErrEmptyCode
	}
	start := time.Now()

	id, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("docker: waiting for a sandbox: %w", err)
	}
	defer func() {
		cleanup, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		e.Remove(cleanup, id)
	}()

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	execResp, err := e.cli.ContainerExecCreate(runCtx, id, container.ExecOptions{
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   "/tmp",
		Cmd:          []string{"python", "-c", code},
	})
	if err != nil {
		return nil, fmt.Errorf("docker: creating exec: %w", err)
	}

	attach, err := e.cli.ContainerExecAttach(runCtx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("docker: attaching to exec: %w", err)
	}
	defer attach.Close()

	stdout := &executor.LimitedBuffer{Max: executor.MaxOutputBytes}
	stderr := &executor.LimitedBuffer{Max: executor.MaxOutputBytes}

	done := make(chan struct{})
	go func() {
		// The attach stream multiplexes stdout and stderr; stdcopy splits it.
		_, _ = stdcopy.StdCopy(stdout, stderr, attach.Reader)
		close(done)
	}()

	res := &executor.Result{}
	select {
	case <-done:
		inspect, err := e.cli.ContainerExecInspect(ctx, execResp.ID)
		if err != nil {
			return nil, fmt.Errorf("docker: inspecting exec: %w", err)
		}
		res.ExitCode = inspect.ExitCode
	case <-runCtx.Done():
		// Closing the stream unblocks the copier; the deferred remove kills python.
		attach.Close()
		<-done
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		res.ExitCode = executor.TimeoutExitCode
		_, _ = io.WriteString(stderr, executor.TimeoutNotice)
	}

	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	res.Duration = time.Since(start)

	e.logger.Debug("sandbox run finished",
		slog.String("container", shortID(id)),
		slog.Int("exitCode", res.ExitCode),
		slog.Duration("duration", res.Duration),
	)
	return res, nil
}

// Create starts an idle sandbox container running `sleep infinity`.
func (e *Executor) Create(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pids := int64(pidsLimit)
	host := &container.HostConfig{
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		Tmpfs:          map[string]string{"/tmp": "rw,noexec,nosuid,size=16m"},
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		Resources: container.Resources{
			Memory:    e.cfg.MemoryLimit,
			NanoCPUs:  int64(e.cfg.CPULimit * 1e9),
			PidsLimit: &pids,
		},
	}

	resp, err := e.cli.ContainerCreate(ctx, &container.Config{
		Image:           e.cfg.Image,
		Cmd:             []string{"sleep", "infinity"},
		User:            "nobody",
		NetworkDisabled: true,
		Labels:          map[string]string{"app": "nalar-runner"},
	}, host, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("docker: creating container: %w", err)
	}

	if err := e.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		e.Remove(ctx, resp.ID)
		return "", fmt.Errorf("docker: starting container: %w", err)
	}
	return resp.ID, nil
}

// Remove force-removes a container, logging failures.
func (e *Executor) Remove(ctx context.Context, id string) {
	if err := e.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		e.logger.Error("failed to remove container", slog.String("id", shortID(id)), slog.String("error", err.Error()))
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

var _ executor.Executor = (*Executor)(nil)
