package docker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// sandboxes creates and destroys idle sandbox containers. The Docker-backed
// implementation lives in docker.go; tests substitute a fake.
type sandboxes interface {
	Create(ctx context.Context) (string, error)
	Remove(ctx context.Context, id string)
}

// Pool keeps size containers started and idle so a run only pays for the
// exec, not for container start-up. Each container serves exactly one run.
type Pool struct {
	boxes  sandboxes
	logger *slog.Logger
	ready  chan string

	// retry is how long the manager waits after a failed create.
	retry time.Duration

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewPool(boxes sandboxes, size int, logger *slog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		boxes:  boxes,
		logger: logger,
		ready:  make(chan string, size),
		retry:  time.Second,
	}
}

// Start launches the manager that keeps the pool topped up.
func (p *Pool) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.logger.Info("starting sandbox pool", slog.Int("size", cap(p.ready)))

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.manage(ctx)
	}()
}

// Stop halts the manager and removes every idle container. Safe to call more
// than once.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("shutting down sandbox pool")
		if p.cancel != nil {
			p.cancel()
		}
		p.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for {
			select {
			case id := <-p.ready:
				p.boxes.Remove(ctx, id)
			default:
				return
			}
		}
	})
}

// Acquire hands out a warm container, blocking until one is ready or ctx ends.
// The caller owns the container afterwards and must remove it.
func (p *Pool) Acquire(ctx context.Context) (string, error) {
	select {
	case id := <-p.ready:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// manage blocks on the channel send, so it only creates a container once
// there is room for it.
func (p *Pool) manage(ctx context.Context) {
	for {
		id, err := p.boxes.Create(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("failed to create sandbox container", slog.String("error", err.Error()))
			select {
			case <-time.After(p.retry):
				continue
			case <-ctx.Done():
				return
			}
		}

		select {
		case p.ready <- id:
		case <-ctx.Done():
			// The container was never handed out; the parent ctx is gone.
			cleanup, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			p.boxes.Remove(cleanup, id)
			cancel()
			return
		}
	}
}
