// Package monitor runs the automatic condition monitoring agent: it
// re-checks registered payment flows on a schedule and triggers
// settlement the moment a flow's conditions come true. One agent sweep
// replaces per-flow timers, so all flows advance from a single
// scheduler tick.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	x402 "github.com/smart402/x402-go"
	"github.com/smart402/x402-go/batch"
	"github.com/smart402/x402-go/executor"
	"github.com/smart402/x402-go/tracker"
)

// Retry backoff for transient check failures: 2s doubling up to 60s,
// at most 5 attempts before a job is deactivated.
const (
	retryBase    = 2 * time.Second
	retryCap     = 60 * time.Second
	retryMaximum = 5
)

// Flow is a registered payment awaiting its conditions.
type Flow struct {
	// Header is the signed authorization to present once conditions hold.
	Header x402.Header

	// Required lists the condition ids that must be satisfied.
	Required []string

	// Interval is how often the flow is re-checked.
	Interval time.Duration

	// Aggregate settles through the batch settler instead of a direct
	// ledger submission.
	Aggregate bool
}

// JobStatus is a snapshot of a monitoring job's progress.
type JobStatus struct {
	JobID      string
	ContractID string
	Active     bool
	Triggered  bool
	RecordID   string
	Checks     int
	Failures   int
	Retries    int
	LastCheck  time.Time
	NextCheck  time.Time
}

type job struct {
	id        string
	flow      Flow
	active    bool
	triggered bool
	recordID  string
	checks    int
	failures  int
	retries   int
	lastCheck time.Time
	nextCheck time.Time
}

// Agent monitors registered flows and settles them when their required
// conditions are met. RunOnce is safe to call from a single scheduler
// goroutine; Register and Unregister may be called concurrently with it.
type Agent struct {
	exec    *executor.Executor
	settler *batch.Settler
	tracked *tracker.Tracker
	log     *slog.Logger
	now     func() time.Time

	mu   sync.Mutex
	jobs map[string]*job
}

// Option configures an Agent.
type Option func(*Agent)

// WithSettler enables aggregate settlement for flows that ask for it.
func WithSettler(s *batch.Settler) Option {
	return func(a *Agent) { a.settler = s }
}

// WithTracker registers submitted records with a tracker.
func WithTracker(t *tracker.Tracker) Option {
	return func(a *Agent) { a.tracked = t }
}

// WithLogger overrides the slog logger.
func WithLogger(log *slog.Logger) Option {
	return func(a *Agent) { a.log = log }
}

func withClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// New builds an Agent over an executor.
func New(exec *executor.Executor, opts ...Option) *Agent {
	a := &Agent{
		exec: exec,
		log:  slog.Default(),
		now:  time.Now,
		jobs: make(map[string]*job),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Register adds a flow and returns its job id. The first check happens
// on the next sweep.
func (a *Agent) Register(flow Flow) (string, error) {
	if flow.Interval <= 0 {
		flow.Interval = 5 * time.Minute
	}
	if !flow.Header.Signed() {
		return "", x402.ErrMalformedSignature
	}

	j := &job{
		id:        x402.NewRecordID(),
		flow:      flow,
		active:    true,
		nextCheck: a.now(),
	}

	a.mu.Lock()
	a.jobs[j.id] = j
	a.mu.Unlock()

	a.log.Info("registered payment flow", "job_id", j.id, "contract_id", flow.Header.ContractID)
	return j.id, nil
}

// Unregister stops monitoring a job. Returns false for unknown ids.
func (a *Agent) Unregister(jobID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.jobs[jobID]; !ok {
		return false
	}
	delete(a.jobs, jobID)
	return true
}

// Status returns a snapshot of a job.
func (a *Agent) Status(jobID string) (JobStatus, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	j, ok := a.jobs[jobID]
	if !ok {
		return JobStatus{}, false
	}
	return JobStatus{
		JobID:      j.id,
		ContractID: j.flow.Header.ContractID,
		Active:     j.active,
		Triggered:  j.triggered,
		RecordID:   j.recordID,
		Checks:     j.checks,
		Failures:   j.failures,
		Retries:    j.retries,
		LastCheck:  j.lastCheck,
		NextCheck:  j.nextCheck,
	}, true
}

// RunOnce checks every job whose next check is due, settling flows whose
// conditions now hold. It returns after one pass over the due jobs.
func (a *Agent) RunOnce(ctx context.Context) {
	now := a.now()

	a.mu.Lock()
	var due []*job
	for _, j := range a.jobs {
		if j.active && !j.triggered && !now.Before(j.nextCheck) {
			due = append(due, j)
		}
	}
	a.mu.Unlock()

	for _, j := range due {
		if ctx.Err() != nil {
			return
		}
		a.check(ctx, j)
	}
}

// Run sweeps on every tick until the context is cancelled.
func (a *Agent) Run(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.RunOnce(ctx)
		}
	}
}

func (a *Agent) check(ctx context.Context, j *job) {
	now := a.now()
	rec, err := a.exec.Authorize(ctx, j.flow.Header, j.flow.Required)

	if err == nil {
		recordID, settleErr := a.settle(ctx, j.flow, rec)
		a.update(j, func(j *job) {
			j.checks++
			j.lastCheck = now
			j.retries = 0
			if settleErr != nil {
				j.failures++
				j.active = false
				return
			}
			j.triggered = true
			j.recordID = recordID
		})
		if settleErr != nil {
			a.log.Error("flow settlement failed", "job_id", j.id, "error", settleErr)
		} else {
			a.log.Info("flow settled", "job_id", j.id, "record_id", recordID)
		}
		return
	}

	a.update(j, func(j *job) {
		j.checks++
		j.lastCheck = now
		switch {
		case errors.Is(err, x402.ErrConditionsNotMet):
			// Conditions simply not true yet; keep the normal schedule.
			j.retries = 0
			j.nextCheck = now.Add(j.flow.Interval)
		case errors.Is(err, x402.ErrUnverified), errors.Is(err, x402.ErrReplayedNonce):
			// The header itself can never become acceptable.
			j.failures++
			j.active = false
		default:
			j.failures++
			j.retries++
			if j.retries >= retryMaximum {
				j.active = false
				return
			}
			j.nextCheck = now.Add(retryDelay(j.retries))
		}
	})

	if !errors.Is(err, x402.ErrConditionsNotMet) {
		a.log.Warn("flow check failed", "job_id", j.id, "error", err)
	}
}

func (a *Agent) update(j *job, fn func(*job)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(j)
}

// settle settles an authorized record directly or via the batch settler,
// returning the record id to associate with the job.
func (a *Agent) settle(ctx context.Context, flow Flow, rec x402.PaymentRecord) (string, error) {
	if flow.Aggregate && a.settler != nil {
		if _, err := a.settler.Enqueue(ctx, rec); err != nil {
			return "", err
		}
		return rec.ID, nil
	}

	submitted, err := a.exec.Submit(ctx, rec)
	if err != nil {
		return "", err
	}
	if a.tracked != nil {
		if err := a.tracked.Track(submitted); err != nil {
			a.log.Error("tracking submitted record failed", "record_id", submitted.ID, "error", err)
		}
	}
	return submitted.ID, nil
}

func retryDelay(retry int) time.Duration {
	delay := retryBase
	for i := 1; i < retry; i++ {
		delay *= 2
		if delay >= retryCap {
			return retryCap
		}
	}
	return delay
}
