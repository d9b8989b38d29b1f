package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sjperalta/custodia-api/pkg/logger"
)

// Job represents a background task
type Job func(ctx context.Context) error

// Worker runs named background jobs: queued jobs on a fixed pool,
// fire-and-forget jobs on bounded goroutines, and scheduled jobs on tickers.
// Every run gets the worker's context, bounded by the job timeout when set.
type Worker struct {
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	queue         chan namedJob
	asyncSem      chan struct{}
	maxConcurrent int
	jobTimeout    time.Duration
	stats         WorkerStats
	statsMu       sync.RWMutex
}

type namedJob struct {
	name string
	run  Job
}

// WorkerStats holds statistics about the worker
type WorkerStats struct {
	ActiveJobs    int              `json:"active_jobs"`
	CompletedJobs int64            `json:"completed_jobs"`
	FailedJobs    int64            `json:"failed_jobs"`
	QueueLength   int              `json:"queue_length"`
	MaxConcurrent int              `json:"max_concurrent"`
	FailuresByJob map[string]int64 `json:"failures_by_job"`
	LastFailure   *Failure         `json:"last_failure,omitempty"`
}

// Failure describes the most recent failed run
type Failure struct {
	Job   string    `json:"job"`
	Error string    `json:"error"`
	At    time.Time `json:"at"`
}

// Option configures a Worker
type Option func(*Worker)

// WithJobTimeout bounds every run. Zero leaves runs bounded only by Shutdown.
func WithJobTimeout(d time.Duration) Option {
	return func(w *Worker) { w.jobTimeout = d }
}

// WithQueueSize sets the capacity of the pool queue
func WithQueueSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.queue = make(chan namedJob, n)
		}
	}
}

// NewWorker creates a worker with N pool processors
func NewWorker(numWorkers int, opts ...Option) *Worker {
	if numWorkers < 1 {
		numWorkers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	asyncLimit := max(numWorkers*2, 10)

	w := &Worker{
		ctx:           ctx,
		cancel:        cancel,
		queue:         make(chan namedJob, 100),
		asyncSem:      make(chan struct{}, asyncLimit),
		maxConcurrent: asyncLimit,
		stats:         WorkerStats{FailuresByJob: map[string]int64{}},
	}
	for _, opt := range opts {
		opt(w)
	}

	for i := 0; i < numWorkers; i++ {
		w.wg.Add(1)
		go w.process(i)
	}

	return w
}

// Enqueue hands a job to the pool. A full queue runs the job on the
// caller's goroutine.
func (w *Worker) Enqueue(name string, job Job) {
	select {
	case w.queue <- namedJob{name: name, run: job}:
	default:
		logger.Warn("worker queue full, running job synchronously", "job", name)
		w.run(name, job)
	}
}

// EnqueueAsync runs a job in its own goroutine, bounded by a semaphore.
// Shutdown waits for it.
func (w *Worker) EnqueueAsync(name string, job Job) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		w.asyncSem <- struct{}{}
		defer func() { <-w.asyncSem }()

		w.run(name, job)
	}()
}

// ScheduleEvery runs a job at fixed intervals. The first run happens after
// the interval, not at startup.
func (w *Worker) ScheduleEvery(name string, interval time.Duration, job Job) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-w.ctx.Done():
				return
			case <-ticker.C:
				w.run(name, job)
			}
		}
	}()
}

func (w *Worker) process(workerID int) {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case job, ok := <-w.queue:
			if !ok {
				return
			}
			logger.Debug("job picked up", "worker", workerID, "job", job.name)
			w.run(job.name, job.run)
		}
	}
}

// run executes one job with the timeout, panic recovery and bookkeeping
// shared by every path.
func (w *Worker) run(name string, job Job) {
	ctx := w.ctx
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	w.trackJobStart()
	defer w.trackJobEnd()

	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return job(ctx)
	}()
	if err != nil {
		logger.Error("job failed", "job", name, "duration", time.Since(start).String(), "error", err)
		w.trackJobFailure(name, err)
		return
	}
	logger.Debug("job completed", "job", name, "duration", time.Since(start).String())
}

// Shutdown stops the pool and the schedules and waits for running jobs
func (w *Worker) Shutdown() {
	w.cancel()
	close(w.queue)
	w.wg.Wait()
}

// GetStats returns a snapshot of the worker statistics
func (w *Worker) GetStats() WorkerStats {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()
	stats := w.stats
	stats.FailuresByJob = make(map[string]int64, len(w.stats.FailuresByJob))
	for k, v := range w.stats.FailuresByJob {
		stats.FailuresByJob[k] = v
	}
	stats.QueueLength = len(w.queue)
	stats.MaxConcurrent = w.maxConcurrent
	return stats
}

func (w *Worker) trackJobStart() {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	w.stats.ActiveJobs++
}

func (w *Worker) trackJobEnd() {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	w.stats.ActiveJobs--
	w.stats.CompletedJobs++
}

// CompletedJobs counts every finished run; FailedJobs is the failed subset
func (w *Worker) trackJobFailure(name string, err error) {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	w.stats.FailedJobs++
	w.stats.FailuresByJob[name]++
	w.stats.LastFailure = &Failure{Job: name, Error: err.Error(), At: time.Now().UTC()}
}
