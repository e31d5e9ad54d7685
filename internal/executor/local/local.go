// Package local runs programs as a plain `python -c` subprocess of the runner.
// There is no isolation beyond a timeout and an output cap: use it on a
// development machine without Docker, never on a shared host.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/sakif/nalar/internal/executor"
)

// Executor implements executor.Executor with os/exec.
type Executor struct {
	python  string
	timeout time.Duration
	logger  *slog.Logger
}

// New returns an executor that runs the given interpreter (e.g. "python3").
func New(python string, timeout time.Duration, logger *slog.Logger) (*Executor, error) {
	path, err := exec.LookPath(python)
	if err != nil {
		return nil, fmt.Errorf("local: %s not found on PATH: %w", python, err)
	}
	return &Executor{python: path, timeout: timeout, logger: logger}, nil
}

func (e *Executor) Execute(ctx context.Context, code string) (*executor.Result, error) {
	if strings.TrimSpace(code) == "" {
		return nil, executor.ErrEmptyCode
	}
	start := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	stdout := &executor.LimitedBuffer{Max: executor.MaxOutputBytes}
	stderr := &executor.LimitedBuffer{Max: executor.MaxOutputBytes}

	cmd := exec.CommandContext(runCtx, e.python, "-c", code)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Don't wait forever on grandchildren holding the pipes open.
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	res := &executor.Result{Duration: time.Since(start)}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case runCtx.Err() != nil:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		res.ExitCode = executor.TimeoutExitCode
		_, _ = io.WriteString(stderr, executor.TimeoutNotice)
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return nil, fmt.Errorf("local: running python: %w", err)
	}

	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	e.logger.Debug("local run finished", slog.Int("exitCode", res.ExitCode), slog.Duration("duration", res.Duration))
	return res, nil
}

var _ executor.Executor = (*Executor)(nil)
