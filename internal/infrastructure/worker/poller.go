package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Stats is the runtime state of a polling worker
type Stats struct {
	Running   bool      `json:"running"`
	Runs      int       `json:"runs"`
	Failures  int       `json:"failures"`
	LastRun   time.Time `json:"last_run"`
	LastError string    `json:"last_error,omitempty"`
}

// poller runs tick on a fixed interval until stopped
type poller struct {
	name     string
	interval time.Duration
	tick     func(ctx context.Context) error
	logger   *zap.Logger

	mu     sync.RWMutex
	cancel context.CancelFunc
	done   chan struct{}
	stats  Stats
}

func newPoller(name string, interval time.Duration, tick func(ctx context.Context) error, logger *zap.Logger) *poller {
	return &poller{
		name:     name,
		interval: interval,
		tick:     tick,
		logger:   logger,
	}
}

func (p *poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stats.Running {
		return fmt.Errorf("%s already running", p.name)
	}
	if p.interval <= 0 {
		return fmt.Errorf("%s: interval must be positive", p.name)
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	p.stats.Running = true

	p.logger.Info("Worker loop started",
		zap.String("worker_name", p.name),
		zap.Duration("interval", p.interval))

	go p.loop(ctx, p.done)
	return nil
}

func (p *poller) Stop() error {
	p.mu.Lock()
	if !p.stats.Running {
		p.mu.Unlock()
		return nil
	}
	p.stats.Running = false
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done
	return nil
}

func (p *poller) Name() string {
	return p.name
}

// Stats returns a copy of the runtime state
func (p *poller) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stats
}

func (p *poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("Poll loop context cancelled", zap.String("worker_name", p.name))
			return
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

func (p *poller) runOnce(ctx context.Context) {
	err := p.tick(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Runs++
	p.stats.LastRun = time.Now()
	if err != nil {
		p.stats.Failures++
		p.stats.LastError = err.Error()
		p.logger.Error("Worker run failed", zap.String("worker_name", p.name), zap.Error(err))
		return
	}
	p.stats.LastError = ""
}
