// Copyright (c) 2026 PageKeep Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Handler consumes dispatched events.
type Handler interface {
	Handle(ctx context.Context, e Event)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, e Event)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, e Event) { f(ctx, e) }

// Config holds dispatcher configuration.
type Config struct {
	Workers   int // Number of concurrent delivery workers
	QueueSize int // Buffered queue length
}

// DefaultConfig returns default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		Workers:   3,
		QueueSize: 100,
	}
}

// Dispatcher fans events out to registered handlers on a worker pool.
// It implements Sink; a full queue drops the event with a warning rather
// than blocking the publishing operation.
type Dispatcher struct {
	logger   *slog.Logger
	queue    chan Event
	workers  int
	handlers []Handler
	wg       sync.WaitGroup
	done     chan struct{}
	mu       sync.RWMutex
	running  bool
}

// NewDispatcher creates a new event dispatcher.
func NewDispatcher(logger *slog.Logger, cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		logger:  logger,
		queue:   make(chan Event, cfg.QueueSize),
		workers: cfg.Workers,
		done:    make(chan struct{}),
	}
}

// Register adds a handler. Handlers must be registered before Start.
func (d *Dispatcher) Register(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

// Start starts the dispatcher workers.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.mu.Unlock()

	d.logger.Info("starting event dispatcher", "workers", d.workers)

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
}

// Stop stops the dispatcher and waits for workers to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.mu.Unlock()

	d.logger.Info("stopping event dispatcher")
	close(d.done)
	d.wg.Wait()
	d.logger.Info("event dispatcher stopped")
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()
	d.logger.Debug("event worker started", "worker_id", id)

	for {
		select {
		case <-d.done:
			d.logger.Debug("event worker stopping", "worker_id", id)
			return
		case <-ctx.Done():
			d.logger.Debug("event worker context cancelled", "worker_id", id)
			return
		case e := <-d.queue:
			d.mu.RLock()
			handlers := d.handlers
			d.mu.RUnlock()
			for _, h := range handlers {
				h.Handle(ctx, e)
			}
		}
	}
}

// Publish implements Sink.
func (d *Dispatcher) Publish(_ context.Context, e Event) {
	d.mu.RLock()
	running := d.running
	d.mu.RUnlock()

	if !running {
		d.logger.Warn("dispatcher not running, dropping event", "event_type", e.Type)
		return
	}

	if e.At.IsZero() {
		e.At = time.Now()
	}

	select {
	case d.queue <- e:
	default:
		d.logger.Warn("event queue full, dropping event", "event_type", e.Type)
	}
}

var _ Sink = (*Dispatcher)(nil)
