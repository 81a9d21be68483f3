package enrichment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"shortlink/internal/cache"
	"shortlink/internal/config"
	"shortlink/internal/domain"
	"shortlink/internal/repository"
)

var (
	ErrNotStarted = errors.New("enrichment orchestrator not started")
	ErrQueueFull  = errors.New("enrichment queue is full")
)

// Fetcher retrieves metadata for a destination URL.
type Fetcher interface {
	Fetch(ctx context.Context, destination string) (domain.Metadata, error)
}

// MetadataStore is the part of the store the orchestrator touches.
type MetadataStore interface {
	GetLink(ctx context.Context, code string) (*domain.Link, error)
	UpdateMetadata(ctx context.Context, code string, md domain.Metadata) error
}

type job struct {
	code        string
	destination string
}

// Orchestrator fetches link metadata in the background. Failures are logged
// and never reach the request that created the link.
type Orchestrator struct {
	cfg     config.Enrichment
	fetcher Fetcher
	store   MetadataStore
	cache   cache.Cache
	log     *zap.Logger

	queue   chan job
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	mu      sync.RWMutex
}

func NewOrchestrator(cfg *config.Enrichment, fetcher Fetcher, store MetadataStore, c cache.Cache, log *zap.Logger) *Orchestrator {
	o := *cfg
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 4
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 10 * time.Second
	}
	if o.WorkerCount <= 0 {
		o.WorkerCount = 2
	}
	if o.BufferSize <= 0 {
		o.BufferSize = 256
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:     o,
		fetcher: fetcher,
		store:   store,
		cache:   c,
		log:     log,
		queue:   make(chan job, o.BufferSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return errors.New("enrichment orchestrator already started")
	}

	o.log.Info("starting enrichment orchestrator",
		zap.Int("workers", o.cfg.WorkerCount),
		zap.Int("max_attempts", o.cfg.MaxAttempts),
		zap.String("preview_url", o.cfg.PreviewURL),
	)

	for i := 0; i < o.cfg.WorkerCount; i++ {
		o.wg.Add(1)
		go o.worker(i)
	}
	o.started = true
	return nil
}

// Stop cancels in-flight fetches and discards queued jobs.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return ErrNotStarted
	}
	o.started = false
	o.cancel()
	close(o.queue)
	o.mu.Unlock()

	o.wg.Wait()
	o.log.Info("enrichment orchestrator stopped")
	return nil
}

// Enrich schedules a metadata fetch for code without blocking.
func (o *Orchestrator) Enrich(code, destination string) error {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if !o.started {
		return ErrNotStarted
	}

	select {
	case o.queue <- job{code: code, destination: destination}:
		return nil
	default:
		o.log.Warn("enrichment queue is full, skipping link", zap.String("code", code))
		return ErrQueueFull
	}
}

func (o *Orchestrator) worker(id int) {
	defer o.wg.Done()
	log := o.log.With(zap.Int("worker_id", id))

	for {
		select {
		case j, ok := <-o.queue:
			if !ok {
				return
			}
			o.process(log, j)
		case <-o.ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) process(log *zap.Logger, j job) {
	log = log.With(zap.String("code", j.code))

	md, err := o.fetchWithRetry(log, j.destination)
	if err != nil {
		if o.ctx.Err() != nil {
			log.Debug("enrichment cancelled by shutdown")
			return
		}
		log.Warn("metadata enrichment gave up", zap.Error(fmt.Errorf("%w: %w", domain.ErrMetadataFetchFailed, err)))
		return
	}
	if md.IsEmpty() {
		log.Debug("preview service returned no metadata")
		return
	}

	link, err := o.store.GetLink(o.ctx, j.code)
	if errors.Is(err, repository.ErrLinkNotFound) {
		log.Debug("link deleted before enrichment finished")
		return
	}
	if err != nil {
		log.Error("failed to load link for enrichment", zap.Error(err))
		return
	}
	if link.OriginalURL != j.destination {
		// a newer destination has its own job queued
		log.Debug("destination changed during enrichment, discarding metadata")
		return
	}

	if err := o.store.UpdateMetadata(o.ctx, j.code, md); err != nil {
		log.Error("failed to store link metadata", zap.Error(err))
		return
	}
	if err := o.cache.Delete(o.ctx, j.code); err != nil {
		log.Warn("failed to invalidate cache after enrichment", zap.Error(err))
	}

	log.Debug("link metadata stored")
}

func (o *Orchestrator) fetchWithRetry(log *zap.Logger, destination string) (domain.Metadata, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.cfg.InitialBackoff
	b.MaxInterval = o.cfg.MaxBackoff
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(o.cfg.MaxAttempts-1)), o.ctx)

	var md domain.Metadata
	op := func() error {
		ctx, cancel := context.WithTimeout(o.ctx, o.cfg.Timeout)
		defer cancel()

		res, err := o.fetcher.Fetch(ctx, destination)
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) && se.Permanent() {
				return backoff.Permanent(err)
			}
			return err
		}
		md = res
		return nil
	}

	notify := func(err error, next time.Duration) {
		log.Debug("metadata fetch failed, retrying", zap.Duration("next", next), zap.Error(err))
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return domain.Metadata{}, err
	}
	return md, nil
}
