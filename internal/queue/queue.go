package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/promo-studio/api-go/internal/model"
	"github.com/example/promo-studio/api-go/internal/store"
)

// Store is the run table plus the job listings recovery needs;
// *store.SQLite satisfies it.
type Store interface {
	EnqueueRun(ctx context.Context, jobID string, runAt time.Time) error
	ClaimDueRuns(ctx context.Context, now time.Time, limit int) ([]store.QueuedRun, error)
	FinishRun(ctx context.Context, runID int64) error
	ReleaseClaims(ctx context.Context) (int64, error)
	PendingRuns(ctx context.Context, jobID string) (int, error)
	ListInFlight(ctx context.Context) ([]model.VideoJob, error)
	ListJobs(ctx context.Context, status *model.JobStatus, limit int) ([]model.VideoJob, error)
	ListRetryable(ctx context.Context, maxRetries int) ([]model.VideoJob, error)
}

const defaultMaxRetries = 3

// Runner executes one pipeline attempt for a job.
type Runner interface {
	Run(ctx context.Context, jobID string) error
}

// Queue schedules pipeline runs as durable rows, so delayed retries survive
// a restart.
type Queue struct {
	Store Store
	Now   func() time.Time
}

func (q Queue) now() time.Time {
	if q.Now != nil {
		return q.Now()
	}
	return time.Now()
}

func (q Queue) Enqueue(ctx context.Context, jobID string, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	if err := q.Store.EnqueueRun(ctx, jobID, q.now().Add(delay)); err != nil {
		return fmt.Errorf("enqueue %s: %w", jobID, err)
	}
	return nil
}

// Worker polls for due runs and executes up to Concurrency of them at once.
// Different jobs run in parallel; the store never hands out a run for a job
// that already has one claimed, so attempts of one job do not overlap.
type Worker struct {
	Store        Store
	Runner       Runner
	Logger       *slog.Logger
	Concurrency  int
	PollInterval time.Duration
	// MaxRetries bounds which failed jobs Recover still owes an attempt.
	MaxRetries int
	Now        func() time.Time
}

func (w *Worker) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// Run polls until ctx is cancelled, then waits for in-flight runs. Runs are
// not cancelled with ctx; once started an attempt finishes or fails on its
// own.
func (w *Worker) Run(ctx context.Context) error {
	concurrency := w.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	interval := w.PollInterval
	if interval <= 0 {
		interval = time.Second
	}

	slots := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		w.dispatch(ctx, slots, &wg)
		select {
		case <-ctx.Done():
			w.logger().Info("worker stopping, waiting for running jobs")
			return nil
		case <-ticker.C:
		}
	}
}

func (w *Worker) dispatch(ctx context.Context, slots chan struct{}, wg *sync.WaitGroup) {
	free := cap(slots) - len(slots)
	if free == 0 || ctx.Err() != nil {
		return
	}
	runs, err := w.Store.ClaimDueRuns(ctx, w.now(), free)
	if err != nil {
		w.logger().ErrorContext(ctx, "claim runs failed", slog.String("error", err.Error()))
		return
	}
	runCtx := context.WithoutCancel(ctx)
	for _, run := range runs {
		slots <- struct{}{}
		wg.Add(1)
		go func(run store.QueuedRun) {
			defer wg.Done()
			defer func() { <-slots }()
			w.execute(runCtx, run)
		}(run)
	}
}

func (w *Worker) execute(ctx context.Context, run store.QueuedRun) {
	log := w.logger().With(slog.String("job_id", run.JobID), slog.Int64("run_id", run.ID))
	defer func() {
		if p := recover(); p != nil {
			log.ErrorContext(ctx, "pipeline panicked", slog.Any("panic", p))
		}
		if err := w.Store.FinishRun(ctx, run.ID); err != nil {
			log.ErrorContext(ctx, "finish run failed", slog.String("error", err.Error()))
		}
	}()

	started := time.Now()
	if err := w.Runner.Run(ctx, run.JobID); err != nil {
		log.WarnContext(ctx, "pipeline attempt failed", slog.String("error", err.Error()), slog.Duration("elapsed", time.Since(started)))
		return
	}
	log.InfoContext(ctx, "pipeline attempt finished", slog.Duration("elapsed", time.Since(started)))
}

// Recover makes work left behind by a previous process runnable again:
// claimed runs go back to the queue, and pending, mid-pipeline or retryable
// failed jobs with no queued run get one. It returns how many jobs were
// re-enqueued.
func (w *Worker) Recover(ctx context.Context) (int, error) {
	released, err := w.Store.ReleaseClaims(ctx)
	if err != nil {
		return 0, fmt.Errorf("release claims: %w", err)
	}
	if released > 0 {
		w.logger().InfoContext(ctx, "released stale run claims", slog.Int64("runs", released))
	}

	inFlight, err := w.Store.ListInFlight(ctx)
	if err != nil {
		return 0, fmt.Errorf("list in-flight jobs: %w", err)
	}
	pendingStatus := model.StatusPending
	pending, err := w.Store.ListJobs(ctx, &pendingStatus, 1000)
	if err != nil {
		return 0, fmt.Errorf("list pending jobs: %w", err)
	}

	maxRetries := w.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	retryable, err := w.Store.ListRetryable(ctx, maxRetries)
	if err != nil {
		return 0, fmt.Errorf("list retryable jobs: %w", err)
	}

	q := Queue{Store: w.Store, Now: w.Now}
	enqueued := 0
	jobs := append(append(inFlight, pending...), retryable...)
	for _, job := range jobs {
		n, err := w.Store.PendingRuns(ctx, job.ID)
		if err != nil {
			return enqueued, err
		}
		if n > 0 {
			continue
		}
		if err := q.Enqueue(ctx, job.ID, 0); err != nil {
			return enqueued, err
		}
		enqueued++
		w.logger().InfoContext(ctx, "re-enqueued orphaned job", slog.String("job_id", job.ID), slog.String("status", string(job.Status)))
	}
	return enqueued, nil
}
