package worker

import (
	"context"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"mailroom_server/core/domain"
	"mailroom_server/core/port/out"
)

// DepsFactory builds a handler and job repository bound to one
// transaction. The runner calls it once per claimed job so every
// stage's writes commit or roll back together.
type DepsFactory func(tx *sqlx.Tx) (*Handler, out.JobRepository)

// RunnerConfig tunes the claim loop.
type RunnerConfig struct {
	WorkerID            string
	Concurrency         int
	PollInterval        time.Duration
	JobTimeout          time.Duration
	HistoryPollInterval time.Duration
}

func (c *RunnerConfig) withDefaults() RunnerConfig {
	cfg := *c
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	if cfg.HistoryPollInterval <= 0 {
		cfg.HistoryPollInterval = 30 * time.Second
	}
	return cfg
}

// =============================================================================
// Runner - claims durable jobs and executes them transactionally
// =============================================================================

type Runner struct {
	db     *sqlx.DB
	jobs   out.JobRepository
	deps   DepsFactory
	config RunnerConfig
	log    zerolog.Logger
}

func NewRunner(db *sqlx.DB, jobs out.JobRepository, deps DepsFactory, config RunnerConfig, log zerolog.Logger) *Runner {
	return &Runner{
		db:     db,
		jobs:   jobs,
		deps:   deps,
		config: config.withDefaults(),
		log:    log.With().Str("component", "job_runner").Logger(),
	}
}

// Run blocks until ctx is cancelled. Each worker goroutine claims one
// job at a time; a claim is its own committed transaction, so a
// crashed worker's jobs simply stay running until requeued by ops.
func (r *Runner) Run(ctx context.Context) {
	r.log.Info().
		Str("worker_id", r.config.WorkerID).
		Int("concurrency", r.config.Concurrency).
		Dur("poll_interval", r.config.PollInterval).
		Msg("job runner started")

	var wg sync.WaitGroup
	for i := 0; i < r.config.Concurrency; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			r.workLoop(ctx, n)
		}(i)
	}
	wg.Wait()

	r.log.Info().Msg("job runner stopped")
}

func (r *Runner) workLoop(ctx context.Context, n int) {
	log := r.log.With().Int("worker", n).Logger()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := r.jobs.Claim(ctx, r.config.WorkerID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("claim failed")
			r.sleep(ctx)
			continue
		}
		if job == nil {
			r.sleep(ctx)
			continue
		}

		r.runJob(log, job)
	}
}

// runJob executes a claimed job on a detached context so an in-flight
// job finishes cleanly during shutdown instead of leaving the row
// stuck in running.
func (r *Runner) runJob(log zerolog.Logger, job *out.ClaimedJob) {
	start := time.Now()
	jobCtx, cancel := context.WithTimeout(context.Background(), r.config.JobTimeout)
	defer cancel()

	err := r.runJobTx(jobCtx, job)
	if err != nil {
		log.Error().
			Err(err).
			Str("job_id", job.ID.String()).
			Str("job_type", job.Type).
			Int("attempts", job.Attempts).
			Dur("elapsed", time.Since(start)).
			Msg("job failed")
		r.failJob(jobCtx, log, job, err)
		return
	}

	log.Info().
		Str("job_id", job.ID.String()).
		Str("job_type", job.Type).
		Dur("elapsed", time.Since(start)).
		Msg("job succeeded")
}

func (r *Runner) runJobTx(ctx context.Context, job *out.ClaimedJob) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	handler, txJobs := r.deps(tx)

	err = handler.Process(ctx, job)
	if err == nil && job.Type == domain.JobMailboxHistorySync {
		err = handler.syncProcessor.EnqueuePoll(ctx, job, r.config.HistoryPollInterval)
	}
	if err == nil {
		err = txJobs.MarkSucceeded(ctx, job.ID)
	}
	if err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// failJob records the failure in its own transaction; the handler's
// work was already rolled back, so side effects that must outlive it,
// like the mailbox sync-error surface, are re-recorded here.
func (r *Runner) failJob(ctx context.Context, log zerolog.Logger, job *out.ClaimedJob, jobErr error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		log.Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to open failure transaction")
		return
	}
	handler, txJobs := r.deps(tx)
	err = handler.RecordFailure(ctx, job, jobErr)
	if err == nil {
		err = txJobs.MarkFailed(ctx, job, jobErr)
	}
	if err != nil {
		tx.Rollback()
		log.Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to record job failure")
		return
	}
	if err := tx.Commit(); err != nil {
		log.Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to commit job failure")
	}
}

func (r *Runner) sleep(ctx context.Context) {
	timer := time.NewTimer(r.config.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
