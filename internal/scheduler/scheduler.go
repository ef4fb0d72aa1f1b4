// Package scheduler runs fuzzing trials and their analysis jobs on a fixed
// number of core-pinned slots.
package scheduler

import (
	"context"
	"fmt"
	"frbench/config"
	"frbench/internal/driver"
	"frbench/internal/types"
	"frbench/pkg/telemetry"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Hooks connect the scheduler to campaign bookkeeping. Every field is optional.
type Hooks struct {
	// Prepare runs right before a job is started. An error fails the job.
	Prepare func(*Job) error
	// JobFinished runs after a job left the running set, in any final state.
	JobFinished func(*Job)
	// NewAnalysis builds the analysis job for a group whose trials all
	// finished. Nil disables analysis.
	NewAnalysis func(group types.GroupKey, last *Job) *Job
}

// Options tune the control loop.
type Options struct {
	// Linger keeps Run alive on an empty queue until the context ends, so
	// job groups can still be submitted.
	Linger bool
}

type groupState struct {
	finished int
	failed   int // trials that never started
	enqueued bool
	spans    []trace.SpanContext // finished trials, linked from the analysis span
}

type Scheduler struct {
	logger        *zap.Logger
	driver        driver.Driver
	hooks         Hooks
	observers     []Observer
	tracerFactory *telemetry.TracerFactory
	slots         int
	tick          time.Duration
	opts          Options
	now           func() time.Time

	inboxMu sync.Mutex
	inbox   []*Job
	wake    chan struct{}

	// owned by the control loop
	queue   []*Job
	active  map[string]*Job
	used    []bool
	groups  map[types.GroupKey]*groupState
	summary Summary
}

type Params struct {
	fx.In
	Logger        *zap.Logger
	Config        *config.AppConfig
	Driver        driver.Driver
	Hooks         Hooks                    `optional:"true"`
	Options       Options                  `optional:"true"`
	Observers     []Observer               `group:"observers"`
	TracerFactory *telemetry.TracerFactory `optional:"true"`
}

func New(p Params) *Scheduler {
	observers := make([]Observer, 0, len(p.Observers))
	for _, o := range p.Observers {
		if o != nil {
			observers = append(observers, o)
		}
	}
	tick := p.Config.SchedulerConfig.TickInterval
	if tick <= 0 {
		tick = time.Second
	}
	slots := p.Config.Workers()
	return &Scheduler{
		logger:        p.Logger,
		driver:        p.Driver,
		hooks:         p.Hooks,
		observers:     observers,
		tracerFactory: p.TracerFactory,
		slots:         slots,
		tick:          tick,
		opts:          p.Options,
		now:           time.Now,
		wake:          make(chan struct{}, 1),
		active:        make(map[string]*Job),
		used:          make([]bool, slots),
		groups:        make(map[types.GroupKey]*groupState),
	}
}

// Slots is the number of jobs that may run at once.
func (s *Scheduler) Slots() int {
	return s.slots
}

// Submit appends jobs to the tail of the queue. It is safe to call from any
// goroutine, before or during Run.
func (s *Scheduler) Submit(jobs ...*Job) {
	if len(jobs) == 0 {
		return
	}
	s.inboxMu.Lock()
	s.inbox = append(s.inbox, jobs...)
	s.inboxMu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run drains the queue. It returns once the queue and the running set are
// both empty, or after the context is cancelled and every running job has
// been killed.
func (s *Scheduler) Run(ctx context.Context) (*Summary, error) {
	s.logger.Info("scheduler started", zap.Int("slots", s.slots), zap.Duration("tick", s.tick))
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return s.stop(ctx), nil
		}
		s.drainInbox()
		s.dispatch(ctx)
		if len(s.queue) == 0 && len(s.active) == 0 && !s.opts.Linger {
			s.publish(ctx)
			s.logger.Info("all jobs finished",
				zap.Int("completed", s.summary.Completed),
				zap.Int("timed_out", s.summary.TimedOut),
				zap.Int("failed", s.summary.Failed),
				zap.Int("errors", len(s.summary.Errors)))
			return s.result(), nil
		}

		select {
		case <-ctx.Done():
			return s.stop(ctx), nil
		case <-ticker.C:
			s.supervise()
			s.publish(ctx)
		case <-s.wake:
		}
	}
}

// stop kills what is running and leaves the queue untouched.
func (s *Scheduler) stop(ctx context.Context) *Summary {
	s.drainInbox()
	s.interrupt()
	s.publish(context.WithoutCancel(ctx))
	return s.result()
}

func (s *Scheduler) result() *Summary {
	sum := s.summary
	sum.Errors = append([]RunError(nil), s.summary.Errors...)
	sum.Unstarted = len(s.queue)
	sum.Incomplete = nil
	for key, g := range s.groups {
		if g.failed > 0 && !g.enqueued {
			sum.Incomplete = append(sum.Incomplete, key)
		}
	}
	sort.Slice(sum.Incomplete, func(i, j int) bool {
		return sum.Incomplete[i].String() < sum.Incomplete[j].String()
	})
	return &sum
}

func (s *Scheduler) drainInbox() {
	s.inboxMu.Lock()
	jobs := s.inbox
	s.inbox = nil
	s.inboxMu.Unlock()

	for _, job := range jobs {
		if job.ID == "" {
			job.ID = uuid.NewString()
		}
		job.State = StateQueued
		s.queue = append(s.queue, job)
		s.logger.Debug("job queued", zap.String("job", job.Desc()), zap.String("id", job.ID))
	}
}

func (s *Scheduler) dispatch(ctx context.Context) {
	for len(s.queue) > 0 && ctx.Err() == nil {
		slot := s.freeSlot()
		if slot < 0 {
			return
		}
		job := s.queue[0]
		s.queue = s.queue[1:]
		if job.Kind == KindAnalysis && s.analysisRunning() {
			// analyses share the result tree and the replay cores
			s.queue = append([]*Job{job}, s.queue...)
			return
		}
		s.start(ctx, job, slot)
	}
}

func (s *Scheduler) freeSlot() int {
	for i, used := range s.used {
		if !used {
			return i
		}
	}
	return -1
}

func (s *Scheduler) analysisRunning() bool {
	for _, job := range s.active {
		if job.Kind == KindAnalysis {
			return true
		}
	}
	return false
}

func (s *Scheduler) start(ctx context.Context, job *Job, slot int) {
	logger := s.logger.With(zap.String("job", job.Desc()), zap.Int("slot", slot))
	job.Slot = slot
	job.StartTime = s.now()

	job.tracer = s.tracerFactory.NewTracer(ctx, job.Kind.String()+" job")
	attrs := telemetry.NewSpanAttributes(telemetry.CategoryFuzzing)
	if job.Kind == KindAnalysis {
		attrs = telemetry.NewSpanAttributes(telemetry.CategoryAnalysis)
	}
	job.tracer.WithAttributes(attrs.
		WithFuzzer(job.Target.Fuzzer).
		WithTarget(job.Target.Target).
		WithTrial(job.Target.Trial).
		WithSlot(slot))
	if job.Kind == KindAnalysis {
		for _, sc := range s.group(job.Group).spans {
			job.tracer.AddLink(sc)
		}
	}
	job.tracer.Start()

	if s.hooks.Prepare != nil {
		if err := s.hooks.Prepare(job); err != nil {
			s.fail(job, fmt.Errorf("prepare: %w", err))
			return
		}
	}
	if job.Kind == KindAnalysis && job.tracer.Export() != "" {
		job.Command.Env = append(job.Command.Env, telemetry.TraceContextEnv+"="+job.tracer.Export())
	}

	handle, err := s.driver.Start(ctx, job.Command, slot)
	if err != nil {
		s.fail(job, err)
		return
	}
	job.handle = handle
	job.State = StateRunning
	s.used[slot] = true
	s.active[job.ID] = job
	logger.Info("job started", zap.String("id", job.ID), zap.Duration("timeout", job.Timeout))
}

// fail records a job that never ran. It does not count toward its group.
func (s *Scheduler) fail(job *Job, err error) {
	s.logger.Error("failed to start job", zap.String("job", job.Desc()), zap.Error(err))
	job.State = StateFailed
	job.EndTime = s.now()
	job.tracer.SetStatus(codes.Error, err.Error())
	job.tracer.End()
	s.summary.Failed++
	if job.Kind == KindTrial {
		s.group(job.Group).failed++
	}
	s.summary.Errors = append(s.summary.Errors, RunError{JobID: job.ID, Desc: job.Desc(), ExitCode: -1, Err: err})
	if s.hooks.JobFinished != nil {
		s.hooks.JobFinished(job)
	}
}

func (s *Scheduler) supervise() {
	now := s.now()
	for _, job := range s.sortedActive() {
		st, err := job.handle.Poll()
		if err != nil {
			s.logger.Warn("failed to poll job", zap.String("job", job.Desc()), zap.Error(err))
		}
		switch {
		case st.Done:
			job.ExitCode = st.ExitCode
			s.finish(job, StateCompleted)
		case job.Kind == KindTrial && job.Timeout > 0 && now.Sub(job.StartTime) >= job.Timeout:
			s.logger.Info("trial timed out, killing", zap.String("job", job.Desc()), zap.Duration("timeout", job.Timeout))
			if err := job.handle.Kill(); err != nil {
				s.logger.Error("failed to kill job", zap.String("job", job.Desc()), zap.Error(err))
			}
			job.tracer.AddEvent("timeout", telemetry.NewEventAttributes(map[string]string{
				"frb.timeout": job.Timeout.String(),
			}))
			job.ExitCode = -1
			s.finish(job, StateTimedOut)
		}
	}
}

// sortedActive lists running jobs by slot so supervision order is stable.
func (s *Scheduler) sortedActive() []*Job {
	jobs := make([]*Job, len(s.used))
	for _, job := range s.active {
		jobs[job.Slot] = job
	}
	out := jobs[:0]
	for _, job := range jobs {
		if job != nil {
			out = append(out, job)
		}
	}
	return out
}

func (s *Scheduler) finish(job *Job, state State) {
	job.State = state
	job.EndTime = s.now()
	delete(s.active, job.ID)
	s.used[job.Slot] = false

	logger := s.logger.With(zap.String("job", job.Desc()), zap.Int("slot", job.Slot), zap.Duration("elapsed", job.Elapsed(job.EndTime)))
	switch state {
	case StateCompleted:
		s.summary.Completed++
		if !cleanExit(job.ExitCode) {
			logger.Warn("job exited with error", zap.Int("exit_code", job.ExitCode))
			s.summary.Errors = append(s.summary.Errors, RunError{JobID: job.ID, Desc: job.Desc(), ExitCode: job.ExitCode})
			job.tracer.SetStatus(codes.Error, fmt.Sprintf("exit code %d", job.ExitCode))
		} else {
			logger.Info("job completed", zap.Int("exit_code", job.ExitCode))
			job.tracer.SetStatus(codes.Ok, "completed")
		}
	case StateTimedOut:
		s.summary.TimedOut++
		job.tracer.SetStatus(codes.Ok, "timed out")
	case StateInterrupted:
		s.summary.Interrupted++
		logger.Warn("job interrupted")
		job.tracer.SetStatus(codes.Error, "interrupted")
	}
	job.tracer.End()

	if s.hooks.JobFinished != nil {
		s.hooks.JobFinished(job)
	}
	if job.Kind == KindTrial && (state == StateCompleted || state == StateTimedOut) {
		s.trialDone(job)
	}
}

// trialDone counts a finished trial and enqueues its group's analysis exactly
// once when the last trial is in.
func (s *Scheduler) trialDone(job *Job) {
	g := s.group(job.Group)
	g.finished++
	if sc := job.tracer.SpanContext(); sc.IsValid() {
		g.spans = append(g.spans, sc)
	}
	if g.enqueued || g.finished < job.GroupSize {
		return
	}
	g.enqueued = true

	if s.hooks.NewAnalysis == nil {
		s.logger.Info("all trials of group finished, analysis skipped",
			zap.String("group", job.Group.String()), zap.Int("trials", g.finished))
		return
	}
	analysis := s.hooks.NewAnalysis(job.Group, job)
	if analysis == nil {
		return
	}
	analysis.Kind = KindAnalysis
	analysis.Group = job.Group
	if analysis.ID == "" {
		analysis.ID = uuid.NewString()
	}
	analysis.State = StateQueued
	s.queue = append(s.queue, analysis)
	s.summary.Analyses++
	s.logger.Info("all trials of group finished, analysis queued",
		zap.String("group", job.Group.String()), zap.String("id", analysis.ID))
}

func (s *Scheduler) group(key types.GroupKey) *groupState {
	g, ok := s.groups[key]
	if !ok {
		g = &groupState{}
		s.groups[key] = g
	}
	return g
}

func (s *Scheduler) interrupt() {
	s.logger.Warn("scheduler interrupted, killing running jobs", zap.Int("running", len(s.active)), zap.Int("queued", len(s.queue)))
	for _, job := range s.sortedActive() {
		if err := job.handle.Kill(); err != nil {
			s.logger.Error("failed to kill job", zap.String("job", job.Desc()), zap.Error(err))
		}
		job.tracer.AddEvent("interrupted", telemetry.NewEventAttributes(map[string]string{
			"frb.elapsed": job.Elapsed(s.now()).Truncate(time.Second).String(),
		}))
		s.finish(job, StateInterrupted)
	}
	s.summary.Stopped = true
}

func (s *Scheduler) publish(ctx context.Context) {
	if len(s.observers) == 0 {
		return
	}
	snap := s.snapshot()
	for _, o := range s.observers {
		o.Observe(ctx, snap)
	}
}
