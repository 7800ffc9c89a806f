package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Poller runs a task on a fixed interval until stopped. The first run happens
// immediately on Start.
type Poller struct {
	name     string
	interval time.Duration
	task     func(context.Context) error

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewPoller(name string, interval time.Duration, task func(context.Context) error) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{name: name, interval: interval, task: task}
}

// Start begins the loop. Returns an error if already running.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New(p.name + " poller is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	go p.runLoop(ctx, stopCh, doneCh)

	slog.InfoContext(ctx, "Poller started", "name", p.name, "interval", p.interval)
	return nil
}

// Stop signals the loop and waits for the current run to finish.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.running = false
	p.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Poller stopped gracefully", "name", p.name)
		return nil
	case <-ctx.Done():
		slog.WarnContext(ctx, "Poller stop timed out", "name", p.name)
		return ctx.Err()
	}
}

func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) runLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.runOnce(ctx)

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

func (p *Poller) runOnce(ctx context.Context) {
	if err := p.task(ctx); err != nil && ctx.Err() == nil {
		slog.ErrorContext(ctx, "Poller task failed", "name", p.name, "error", err)
	}
}
