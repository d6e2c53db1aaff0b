// Package scheduler starts process instances on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/regygeorge/nx-workflow/internal/engine"
	"github.com/regygeorge/nx-workflow/internal/expressions"
	"github.com/regygeorge/nx-workflow/pkg/schema"
)

// Starter is the part of the engine the scheduler drives.
type Starter interface {
	Start(ctx context.Context, processID, businessKey string, vars map[string]any) (*engine.InstanceView, error)
}

// Schedule starts an instance of ProcessID every time Cron fires. BusinessKey
// may reference ${{ schedule }}, ${{ run_at }} and ${{ run }}; when empty a key
// is derived from the schedule id and the run time.
type Schedule struct {
	ID          string         `json:"id" mapstructure:"id"`
	Cron        string         `json:"cron" mapstructure:"cron"`
	ProcessID   string         `json:"process_id" mapstructure:"process_id"`
	BusinessKey string         `json:"business_key,omitempty" mapstructure:"business_key"`
	Variables   map[string]any `json:"variables,omitempty" mapstructure:"variables"`
	Disabled    bool           `json:"disabled,omitempty" mapstructure:"disabled"`
}

// Run outcomes recorded in JobStatus.LastStatus.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// JobStatus is a schedule with its run bookkeeping.
type JobStatus struct {
	Schedule
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	LastStatus     string     `json:"last_status,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	LastInstanceID string     `json:"last_instance_id,omitempty"`
	Runs           int        `json:"runs"`
}

type job struct {
	status   JobStatus
	schedule cron.Schedule
}

// Scheduler checks its schedules on a ticker and starts the due ones.
type Scheduler struct {
	starter  Starter
	parser   cron.Parser
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	jobsMu sync.Mutex
	jobs   map[string]*job

	inflightMu sync.Mutex
	inflight   map[string]struct{} // schedule ids currently starting (dedup)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets how often schedules are checked. Default 30s.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a Scheduler.
func New(starter Starter, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		starter:  starter,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger:   logger,
		interval: 30 * time.Second,
		now:      time.Now,
		jobs:     make(map[string]*job),
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a schedule and computes its first run.
func (s *Scheduler) Add(sched Schedule) error {
	sched.ID = strings.TrimSpace(sched.ID)
	if sched.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "schedule id is required")
	}
	if strings.TrimSpace(sched.ProcessID) == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "schedule %q: process_id is required", sched.ID)
	}
	cs, err := s.parser.Parse(sched.Cron)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "schedule %q: parse cron expression %q", sched.ID, sched.Cron).
			WithCause(err)
	}

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	if _, dup := s.jobs[sched.ID]; dup {
		return schema.NewErrorf(schema.ErrCodeConflict, "schedule %q already exists", sched.ID)
	}
	j := &job{status: JobStatus{Schedule: sched}, schedule: cs}
	if !sched.Disabled {
		next := cs.Next(s.now().UTC())
		j.status.NextRunAt = &next
	}
	s.jobs[sched.ID] = j
	return nil
}

// Remove deletes a schedule. It reports whether one existed.
func (s *Scheduler) Remove(id string) bool {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	_, ok := s.jobs[id]
	delete(s.jobs, id)
	return ok
}

// Jobs returns a copy of every schedule's status, ordered by id.
func (s *Scheduler) Jobs() []JobStatus {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.status)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// Job returns one schedule's status.
func (s *Scheduler) Job(id string) (JobStatus, bool) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return JobStatus{}, false
	}
	return j.status, true
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started",
		slog.Int("schedules", len(s.Jobs())),
		slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick starts every enabled schedule whose next run is due.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now().UTC()

	s.jobsMu.Lock()
	var due []string
	for id, j := range s.jobs {
		if j.status.Disabled || j.status.NextRunAt == nil || j.status.NextRunAt.After(now) {
			continue
		}
		due = append(due, id)
	}
	s.jobsMu.Unlock()
	sort.Strings(due)

	for _, id := range due {
		if !s.tryAcquire(id) {
			continue
		}
		if _, err := s.run(ctx, id, now); err != nil {
			s.logger.Error("scheduled start failed",
				slog.String("schedule_id", id),
				slog.String("error", err.Error()),
			)
		}
		s.releaseJob(id)
	}
}

// RunNow starts the schedule's process immediately. The next regular run is
// recomputed from now.
func (s *Scheduler) RunNow(ctx context.Context, id string) (*engine.InstanceView, error) {
	if !s.tryAcquire(id) {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "schedule %q is already running", id)
	}
	defer s.releaseJob(id)
	return s.run(ctx, id, s.now().UTC())
}

func (s *Scheduler) run(ctx context.Context, id string, now time.Time) (*engine.InstanceView, error) {
	s.jobsMu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.jobsMu.Unlock()
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "schedule %q not found", id)
	}
	sched := j.status.Schedule
	runNo := j.status.Runs + 1
	s.jobsMu.Unlock()

	key, err := businessKey(sched, now, runNo)
	if err != nil {
		s.record(id, now, nil, err)
		return nil, err
	}

	s.logger.Info("starting scheduled instance",
		slog.String("schedule_id", id),
		slog.String("process_id", sched.ProcessID),
		slog.String("business_key", key),
	)
	view, err := s.starter.Start(ctx, sched.ProcessID, key, maps.Clone(sched.Variables))
	s.record(id, now, view, err)
	return view, err
}

func (s *Scheduler) record(id string, now time.Time, view *engine.InstanceView, err error) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return
	}
	st := &j.status
	st.Runs++
	st.LastRunAt = &now
	next := j.schedule.Next(now)
	st.NextRunAt = &next
	if err != nil {
		st.LastStatus = StatusError
		st.LastError = err.Error()
		return
	}
	st.LastStatus = StatusSuccess
	st.LastError = ""
	if view != nil {
		st.LastInstanceID = view.ID
	}
}

func businessKey(sched Schedule, now time.Time, run int) (string, error) {
	if strings.TrimSpace(sched.BusinessKey) == "" {
		return fmt.Sprintf("%s-%d", sched.ID, now.Unix()), nil
	}
	return expressions.Interpolate(sched.BusinessKey, map[string]any{
		"schedule": sched.ID,
		"run_at":   now.Format(time.RFC3339),
		"run":      run,
	})
}

// tryAcquire returns true and marks the schedule as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) releaseJob(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop shuts the loop down and waits for it to exit.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}
