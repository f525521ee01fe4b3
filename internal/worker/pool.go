// Package worker runs fire-and-forget tasks on a bounded set of goroutines.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"partner-webhooks/pkg/logger"

	"github.com/rs/zerolog"
)

var (
	// ErrQueueFull is returned by Submit when the queue has no free slot.
	ErrQueueFull = errors.New("worker: queue full")
	// ErrPoolClosed is returned by Submit after Stop.
	ErrPoolClosed = errors.New("worker: pool closed")
)

// TaskFunc is a unit of background work. ctx is cancelled when the pool
// is stopped past its drain deadline.
type TaskFunc func(ctx context.Context) error

// ErrorHandler receives every error returned (or panic raised) by a task.
type ErrorHandler func(task string, err error)

// Config sizes the pool.
type Config struct {
	Workers   int
	QueueSize int
}

type task struct {
	name string
	fn   TaskFunc
}

// Pool is a fixed-size worker pool fed by a bounded queue.
type Pool struct {
	cfg     Config
	queue   chan task
	onError ErrorHandler
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
	closed  bool
}

// New creates a pool. onError may be nil; errors are always logged.
func New(cfg Config, log zerolog.Logger, onError ErrorHandler) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		cfg:     cfg,
		queue:   make(chan task, cfg.QueueSize),
		onError: onError,
		log:     logger.WithComponent(log, "worker_pool"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers. Calling Start twice is a no-op.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running || p.closed {
		return
	}
	p.running = true

	p.log.Info().Int("workers", p.cfg.Workers).Int("queue_size", p.cfg.QueueSize).Msg("starting worker pool")
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
}

// Submit enqueues fn without blocking.
func (p *Pool) Submit(name string, fn TaskFunc) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.queue <- task{name: name, fn: fn}:
		return nil
	default:
		return ErrQueueFull
	}
}

// QueueLen returns the number of tasks waiting for a worker.
func (p *Pool) QueueLen() int {
	return len(p.queue)
}

// Stop closes the queue and waits for queued and running tasks. If ctx
// expires first, the task context is cancelled and Stop waits for workers
// to return before reporting ctx.Err().
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.log.Info().Msg("worker pool stopped")
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		p.log.Warn().Msg("worker pool stopped before queue drained")
		return ctx.Err()
	}
}

func (p *Pool) work() {
	defer p.wg.Done()
	for t := range p.queue {
		p.run(t)
	}
}

func (p *Pool) run(t task) {
	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return t.fn(p.ctx)
	}()

	if err == nil {
		p.log.Trace().Str("task", t.name).Dur("elapsed", time.Since(start)).Msg("task done")
		return
	}

	p.log.Warn().Err(err).Str("task", t.name).Dur("elapsed", time.Since(start)).Msg("task failed")
	if p.onError != nil {
		p.onError(t.name, err)
	}
}
