// Package backtest wraps the execution engine in asynchronous, pollable
// jobs. Submission validates the strategy synchronously and returns a job
// id immediately; the simulation runs on its own goroutine and pollers
// read immutable-once-set results.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"stratlab/internal/domain"
	"stratlab/internal/engine"
)

// ErrJobNotFound is returned by Status for unknown job ids.
var ErrJobNotFound = errors.New("backtest job not found")

// BarReader is the slice of the bar store the orchestrator consumes.
type BarReader interface {
	ReadBars(ctx context.Context, symbol, market string, start, end time.Time) ([]domain.Bar, error)
}

// JobStore persists job snapshots so completed backtests survive a
// restart. Implementations must tolerate repeated saves of the same id.
type JobStore interface {
	SaveBacktest(ctx context.Context, job *Job) error
	GetBacktest(ctx context.Context, id string) (*Job, error)
}

// DataError reports missing or insufficient historical bars. It makes a
// job fail with a descriptive message — synthetic data is never
// substituted.
type DataError struct {
	Symbol string
	Start  time.Time
	End    time.Time
	Reason string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("no usable history for %s in [%s, %s]: %s",
		e.Symbol, e.Start.Format("2006-01-02"), e.End.Format("2006-01-02"), e.Reason)
}

// Job is the public snapshot of a backtest job. Results and Error are set
// exactly once, by the worker, before the terminal status becomes
// visible.
type Job struct {
	ID             string           `json:"backtestId"`
	StrategyID     string           `json:"strategyId"`
	Symbol         string           `json:"symbol"`
	Start          time.Time        `json:"startDate"`
	End            time.Time        `json:"endDate"`
	InitialCapital float64          `json:"initialCapital"`
	Status         domain.JobStatus `json:"status"`
	Results        *engine.Result   `json:"results,omitempty"`
	Error          string           `json:"error,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	CompletedAt    *time.Time       `json:"completedAt,omitempty"`
}

// Orchestrator schedules backtest jobs on worker goroutines. Jobs are
// independent: each owns its own simulation and a private bar slice, so
// there is no shared mutable state across jobs.
type Orchestrator struct {
	bars BarReader
	jobs JobStore // optional write-through persistence
	log  *slog.Logger

	mu      sync.RWMutex
	running map[string]*Job

	market string
}

// NewOrchestrator creates an Orchestrator reading bars from barStore.
// jobStore may be nil to keep jobs purely in memory.
func NewOrchestrator(barStore BarReader, jobStore JobStore, market string, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		bars:    barStore,
		jobs:    jobStore,
		log:     log.With("component", "backtest"),
		running: make(map[string]*Job),
		market:  market,
	}
}

// Submit validates the strategy synchronously and schedules the backtest.
// Validation failures are returned here as an error and never become a
// failed job. On success the job id is returned immediately with the job
// in pending state.
func (o *Orchestrator) Submit(ctx context.Context, strategy *domain.Strategy, symbol string, start, end time.Time, initialCapital float64) (string, error) {
	if symbol == "" {
		return "", &domain.ValidationError{Reason: "symbol required"}
	}
	if initialCapital <= 0 {
		return "", &domain.ValidationError{Reason: "initialCapital must be positive"}
	}
	if !end.After(start) {
		return "", &domain.ValidationError{Reason: "endDate must be after startDate"}
	}

	compiled, err := engine.Compile(strategy)
	if err != nil {
		return "", err
	}

	job := &Job{
		ID:             uuid.NewString(),
		StrategyID:     strategy.ID,
		Symbol:         symbol,
		Start:          start,
		End:            end,
		InitialCapital: initialCapital,
		Status:         domain.JobPending,
		CreatedAt:      time.Now().UTC(),
	}

	o.mu.Lock()
	o.running[job.ID] = job
	o.mu.Unlock()
	o.persist(ctx, job)

	// The worker detaches from the caller's request context; jobs run to
	// completion or failure, there is no cancellation.
	go o.run(context.WithoutCancel(ctx), job.ID, compiled)

	o.log.Info("backtest submitted",
		"job", job.ID, "strategy", strategy.Name, "symbol", symbol,
		"start", start.Format("2006-01-02"), "end", end.Format("2006-01-02"))
	return job.ID, nil
}

// Status returns a deep-copied snapshot of the job. The boolean-style
// error is ErrJobNotFound for unknown ids.
func (o *Orchestrator) Status(jobID string) (*Job, error) {
	o.mu.RLock()
	job, ok := o.running[jobID]
	if ok {
		snapshot := *job
		o.mu.RUnlock()
		return &snapshot, nil
	}
	o.mu.RUnlock()

	// Fall back to the durable store for jobs from previous processes.
	if o.jobs != nil {
		job, err := o.jobs.GetBacktest(context.Background(), jobID)
		if err == nil && job != nil {
			return job, nil
		}
	}
	return nil, ErrJobNotFound
}

// run executes one job: pending → running → completed | failed.
func (o *Orchestrator) run(ctx context.Context, jobID string, compiled *engine.Compiled) {
	o.transition(ctx, jobID, func(j *Job) {
		j.Status = domain.JobRunning
	})

	var snapshot Job
	o.mu.RLock()
	snapshot = *o.running[jobID]
	o.mu.RUnlock()

	bars, err := o.bars.ReadBars(ctx, snapshot.Symbol, o.market, snapshot.Start, snapshot.End)
	if err != nil {
		o.fail(ctx, jobID, fmt.Errorf("reading bars: %w", err))
		return
	}
	if len(bars) == 0 {
		o.fail(ctx, jobID, &DataError{
			Symbol: snapshot.Symbol, Start: snapshot.Start, End: snapshot.End,
			Reason: "no bars in store for range",
		})
		return
	}

	sim := engine.NewSimulation(compiled, snapshot.InitialCapital)
	result, err := sim.Run(bars)
	if err != nil {
		o.fail(ctx, jobID, err)
		return
	}

	now := time.Now().UTC()
	o.transition(ctx, jobID, func(j *Job) {
		j.Status = domain.JobCompleted
		j.Results = result
		j.CompletedAt = &now
	})
	o.log.Info("backtest completed",
		"job", jobID, "trades", len(result.Trades),
		"finalValue", result.Metrics.FinalValue)
}

func (o *Orchestrator) fail(ctx context.Context, jobID string, err error) {
	now := time.Now().UTC()
	o.transition(ctx, jobID, func(j *Job) {
		j.Status = domain.JobFailed
		j.Error = err.Error()
		j.CompletedAt = &now
	})
	o.log.Warn("backtest failed", "job", jobID, "err", err)
}

// transition mutates the job under the lock and writes it through to the
// durable store.
func (o *Orchestrator) transition(ctx context.Context, jobID string, mutate func(*Job)) {
	o.mu.Lock()
	job, ok := o.running[jobID]
	if !ok {
		o.mu.Unlock()
		return
	}
	mutate(job)
	snapshot := *job
	o.mu.Unlock()

	o.persist(ctx, &snapshot)
}

func (o *Orchestrator) persist(ctx context.Context, job *Job) {
	if o.jobs == nil {
		return
	}
	if err := o.jobs.SaveBacktest(ctx, job); err != nil {
		o.log.Warn("persisting job failed", "job", job.ID, "err", err)
	}
}
