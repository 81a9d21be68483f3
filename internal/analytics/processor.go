package analytics

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shortlink/internal/config"
)

var (
	ErrNotStarted = errors.New("analytics processor not started")
	ErrQueueFull  = errors.New("analytics queue is full")
)

// ClickEvent is one redirect as seen by the HTTP edge. ID is the
// deduplication key used when the event is delivered more than once.
type ClickEvent struct {
	ID         string    `json:"id"`
	Code       string    `json:"code"`
	OccurredAt time.Time `json:"occurred_at"`
	IPAddress  string    `json:"ip_address,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	Referer    string    `json:"referer,omitempty"`
}

// NewClickEvent stamps a fresh event ID.
func NewClickEvent(code, ip, userAgent, referer string, at time.Time) ClickEvent {
	return ClickEvent{
		ID:         uuid.NewString(),
		Code:       code,
		OccurredAt: at.UTC(),
		IPAddress:  ip,
		UserAgent:  userAgent,
		Referer:    referer,
	}
}

// Transport carries events from the processor workers to the recorder.
type Transport interface {
	Deliver(ctx context.Context, ev ClickEvent) error
	Close() error
}

// Processor buffers click events and hands them to a Transport from a pool
// of workers. Recording never blocks the caller.
type Processor struct {
	config    config.Analytics
	transport Transport
	log       *zap.Logger
	jobQueue  chan ClickEvent
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	started   bool
	mu        sync.RWMutex

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewProcessor creates a processor; call Start before Record.
func NewProcessor(cfg *config.Analytics, transport Transport, log *zap.Logger) *Processor {
	c := *cfg
	if c.WorkerCount <= 0 {
		c.WorkerCount = 3
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Processor{
		config:    c,
		transport: transport,
		log:       log,
		jobQueue:  make(chan ClickEvent, c.BufferSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the workers.
func (p *Processor) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return errors.New("analytics processor already started")
	}

	p.log.Info("starting analytics processor",
		zap.Int("workers", p.config.WorkerCount),
		zap.Int("buffer_size", p.config.BufferSize),
		zap.String("transport", p.config.Transport),
	)

	for i := 0; i < p.config.WorkerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.started = true
	return nil
}

// Stop stops accepting events and lets the workers drain the queue. Deliveries
// still running when the shutdown timeout expires are cancelled.
func (p *Processor) Stop() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return ErrNotStarted
	}
	p.started = false
	close(p.jobQueue)
	p.mu.Unlock()

	p.log.Info("stopping analytics processor", zap.Int("pending", len(p.jobQueue)))

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	defer p.cancel()

	select {
	case <-done:
		p.log.Info("analytics processor stopped gracefully")
		return nil
	case <-time.After(p.config.ShutdownTimeout):
		p.log.Warn("analytics processor shutdown timeout reached",
			zap.Int("abandoned", len(p.jobQueue)),
		)
		return errors.New("analytics processor shutdown timeout reached")
	}
}

// Record enqueues ev without blocking. A full queue drops the event.
func (p *Processor) Record(ev ClickEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.started {
		p.dropped.Add(1)
		return ErrNotStarted
	}

	select {
	case p.jobQueue <- ev:
		return nil
	default:
		p.dropped.Add(1)
		p.log.Warn("analytics queue is full, dropping click",
			zap.String("code", ev.Code),
			zap.String("click_id", ev.ID),
			zap.Int("queue_size", len(p.jobQueue)),
		)
		return ErrQueueFull
	}
}

func (p *Processor) worker(workerID int) {
	defer p.wg.Done()

	log := p.log.With(zap.Int("worker_id", workerID))
	log.Debug("analytics worker started")

	for {
		select {
		case ev, ok := <-p.jobQueue:
			if !ok {
				log.Debug("analytics worker stopped")
				return
			}
			p.deliver(log, ev)

		case <-p.ctx.Done():
			log.Info("analytics worker received shutdown signal")
			return
		}
	}
}

func (p *Processor) deliver(log *zap.Logger, ev ClickEvent) {
	if err := p.transport.Deliver(p.ctx, ev); err != nil {
		p.failed.Add(1)
		log.Error("click delivery failed",
			zap.String("code", ev.Code),
			zap.String("click_id", ev.ID),
			zap.Error(err),
		)
		return
	}
	p.delivered.Add(1)
}

// GetStats returns processor statistics.
func (p *Processor) GetStats() map[string]interface{} {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return map[string]interface{}{
		"started":        p.started,
		"transport":      p.config.Transport,
		"queue_length":   len(p.jobQueue),
		"queue_capacity": cap(p.jobQueue),
		"worker_count":   p.config.WorkerCount,
		"delivered":      p.delivered.Load(),
		"failed":         p.failed.Load(),
		"dropped":        p.dropped.Load(),
	}
}
