// Package executor runs untrusted Python for the runner's POST /run.
//
// Two implementations exist: executor/docker (pre-warmed, network-less
// containers; the default) and executor/local (a plain `python -c`
// subprocess for development machines without Docker).
package executor

import (
	"context"
	"errors"
	"time"
)

// TimeoutExitCode is reported when a program is killed for running too long,
// the same code coreutils `timeout` uses.
const TimeoutExitCode = 124

// TimeoutNotice is appended to stderr when a program is killed.
const TimeoutNotice = "\nExecution timed out.\n"

// MaxOutputBytes caps each of stdout and stderr. A print loop can't fill the
// runner's memory.
const MaxOutputBytes = 64 << 10

// ErrEmptyCode is returned for a blank program.
var ErrEmptyCode = errors.New("executor: code is empty")

// Result is the outcome of one execution. A program that raised still has a
// Result; err from Execute means the sandbox itself failed.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Executor runs Python source code in isolation.
type Executor interface {
	Execute(ctx context.Context, code string) (*Result, error)
}

// LimitedBuffer keeps the first Max bytes written and silently drops the rest,
// marking the cut.
type LimitedBuffer struct {
	Max       int
	buf       []byte
	truncated bool
}

func (b *LimitedBuffer) Write(p []byte) (int, error) {
	if room := b.Max - len(b.buf); room > 0 {
		if len(p) > room {
			b.buf = append(b.buf, p[:room]...)
			b.truncated = true
		} else {
			b.buf = append(b.buf, p...)
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	// Report everything as written so the copier keeps draining the stream.
	return len(p), nil
}

func (b *LimitedBuffer) String() string {
	if b.truncated {
		return string(b.buf) + "\n[output truncated]\n"
	}
	return string(b.buf)
}
