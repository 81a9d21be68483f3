package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/robfig/cron"
	"go.uber.org/zap"
)

// Job is periodic background work.
type Job interface {
	Name() string
	Schedule() string
	Run(ctx context.Context) error
}

// Runner fires jobs on their cron schedules. A job whose previous run is
// still going is skipped rather than stacked.
type Runner struct {
	cron    *cron.Cron
	jobs    []Job
	running mapset.Set[string]
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	log     *zap.Logger
}

func NewRunner(log *zap.Logger, jobs ...Job) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cron:    cron.New(),
		jobs:    jobs,
		running: mapset.NewSet[string](),
		ctx:     ctx,
		cancel:  cancel,
		log:     log,
	}
}

func (r *Runner) Start() error {
	for _, job := range r.jobs {
		job := job
		if err := r.cron.AddFunc(job.Schedule(), func() { r.Trigger(job) }); err != nil {
			return fmt.Errorf("failed to schedule job %s: %w", job.Name(), err)
		}
		r.log.Info("job scheduled", zap.String("job", job.Name()), zap.String("schedule", job.Schedule()))
	}

	r.cron.Start()
	return nil
}

// Trigger runs job now unless it is already running and reports whether it ran.
func (r *Runner) Trigger(job Job) bool {
	name := job.Name()
	if !r.running.Add(name) {
		r.log.Warn("job is still running, skipping this tick", zap.String("job", name))
		return false
	}
	defer r.running.Remove(name)

	r.wg.Add(1)
	defer r.wg.Done()

	start := time.Now()
	if err := job.Run(r.ctx); err != nil {
		r.log.Error("job failed", zap.String("job", name), zap.Error(err))
		return true
	}
	r.log.Debug("job finished", zap.String("job", name), zap.Duration("duration", time.Since(start)))
	return true
}

// Stop halts the schedule, cancels running jobs and waits for them to return.
func (r *Runner) Stop() {
	r.log.Info("stopping scheduled jobs")
	r.cron.Stop()
	r.cancel()
	r.wg.Wait()
}
