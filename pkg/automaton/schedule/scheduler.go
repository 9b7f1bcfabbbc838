package schedule

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	autoerrors "github.com/randalmurphal/automaton/pkg/automaton/errors"
)

// Config configures the scheduler.
type Config struct {
	// Logger receives structured run/skip/fatal logs. Nil means silent.
	Logger *slog.Logger

	// DrainTimeout bounds Stop's wait for in-flight runs. Zero waits
	// indefinitely (cooperative cancellation only).
	DrainTimeout time.Duration

	// MaxConcurrent limits simultaneous runs across all jobs.
	// Default: 0 (unlimited)
	MaxConcurrent int

	// OnRun is called after every run settles, success or failure.
	// Hooks run outside scheduler locks and may call back into it.
	OnRun func(Run)

	// OnSkip is called when a due firing is dropped under the Skip policy.
	OnSkip func(job string, due time.Time)

	// OnFatal is called if the timer loop halts on internal corruption.
	OnFatal func(error)
}

// Errors returned by lifecycle methods.
var (
	ErrAlreadyStarted = errors.New("scheduler already started")
	ErrNotStarted     = errors.New("scheduler not started")
	ErrDrainTimeout   = errors.New("scheduler drain timed out")
)

// fireEntry is one pending firing on the heap.
type fireEntry struct {
	when time.Time
	name string
	gen  uint64
}

// fireHeap orders firings by due time, then ascending job name so
// simultaneous due times fire deterministically.
type fireHeap []fireEntry

func (h fireHeap) Len() int { return len(h) }
func (h fireHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].name < h[j].name
	}
	return h[i].when.Before(h[j].when)
}
func (h fireHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *fireHeap) Push(x any) { *h = append(*h, x.(fireEntry)) }
func (h *fireHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// jobState tracks one scheduled job. Per job: Idle -> Due -> Running ->
// Idle, with Due -> Skipped under the Skip policy when a prior run is
// still executing.
type jobState struct {
	job      Job
	gen      uint64 // bumped on redefinition so stale heap entries are ignored
	next     time.Time
	running  int
	queued   bool
	queuedAt time.Time
}

// Scheduler maintains active job descriptors, computes next-fire times on a
// min-heap, and triggers runs respecting each job's concurrency policy. A
// single timer loop wakes at the nearest due time; runs execute on their
// own goroutines and never block the loop.
type Scheduler struct {
	cfg Config

	mu     sync.Mutex
	jobs   map[string]*jobState
	heap   fireHeap
	genSeq uint64

	running  bool
	halted   error
	stopCh   chan struct{}
	wakeCh   chan struct{}
	loopDone chan struct{}
	baseCtx  context.Context
	cancel   context.CancelFunc
	runWG    sync.WaitGroup
	sem      chan struct{}
}

// NewScheduler creates a stopped scheduler. Jobs may be scheduled before
// Start; their first fire is computed when the loop starts.
func NewScheduler(cfg Config) *Scheduler {
	s := &Scheduler{
		cfg:  cfg,
		jobs: make(map[string]*jobState),
	}
	if cfg.MaxConcurrent > 0 {
		s.sem = make(chan struct{}, cfg.MaxConcurrent)
	}
	return s
}

// Schedule registers a job. Redefining an existing name replaces the prior
// descriptor and resets its next-fire computation. Invalid descriptors are
// rejected synchronously.
func (s *Scheduler) Schedule(job Job) error {
	if strings.TrimSpace(job.Name) == "" {
		return &autoerrors.RegistrationError{Op: "schedule", Name: job.Name, Reason: "job name required"}
	}
	if job.Handler == nil {
		return &autoerrors.RegistrationError{Op: "schedule", Name: job.Name, Reason: "handler required"}
	}
	if !job.Spec.valid() {
		return &autoerrors.RegistrationError{Op: "schedule", Name: job.Name, Reason: "invalid schedule spec"}
	}

	s.mu.Lock()
	s.genSeq++
	st := &jobState{job: job, gen: s.genSeq}
	s.jobs[job.Name] = st
	if s.running {
		st.next = job.Spec.Next(time.Now())
		if !st.next.IsZero() {
			heap.Push(&s.heap, fireEntry{when: st.next, name: job.Name, gen: st.gen})
		}
	}
	s.mu.Unlock()

	s.wake()
	if s.cfg.Logger != nil {
		s.cfg.Logger.Debug("job scheduled",
			slog.String("job", job.Name),
			slog.String("spec", job.Spec.String()),
			slog.String("policy", job.Policy.String()),
		)
	}
	return nil
}

// Unschedule removes a job. Returns false if the name is unknown. An
// in-flight run of the removed job finishes normally.
func (s *Scheduler) Unschedule(name string) bool {
	s.mu.Lock()
	_, ok := s.jobs[name]
	delete(s.jobs, name)
	s.mu.Unlock()
	if ok && s.cfg.Logger != nil {
		s.cfg.Logger.Debug("job unscheduled", slog.String("job", name))
	}
	return ok
}

// Start launches the timer loop. Jobs scheduled earlier get their first
// fire computed from now. Starting clears a prior fatal halt.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyStarted
	}

	s.halted = nil
	s.running = true
	s.stopCh = make(chan struct{})
	s.wakeCh = make(chan struct{}, 1)
	s.loopDone = make(chan struct{})
	s.baseCtx, s.cancel = context.WithCancel(ctx)

	now := time.Now()
	s.heap = s.heap[:0]
	for name, st := range s.jobs {
		st.next = st.job.Spec.Next(now)
		st.queued = false
		if !st.next.IsZero() {
			heap.Push(&s.heap, fireEntry{when: st.next, name: name, gen: st.gen})
		}
	}

	go s.loop(s.baseCtx, s.stopCh, s.wakeCh, s.loopDone)

	if s.cfg.Logger != nil {
		s.cfg.Logger.Info("scheduler started", slog.Int("jobs", len(s.jobs)))
	}
	return nil
}

// Stop performs a graceful drain: the timer loop halts so no new firings
// trigger, then Stop waits for in-flight runs to finish. DrainTimeout (or
// ctx) bounds the wait; on expiry the base context is cancelled so handlers
// can stop cooperatively, and an error is returned.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.running = false
	close(s.stopCh)
	loopDone := s.loopDone
	s.mu.Unlock()

	<-loopDone

	done := make(chan struct{})
	go func() {
		s.runWG.Wait()
		close(done)
	}()

	var timeout <-chan time.Time
	if s.cfg.DrainTimeout > 0 {
		timer := time.NewTimer(s.cfg.DrainTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	case <-timeout:
		err = ErrDrainTimeout
	}

	// Cancel the base context either as cleanup (drain complete) or as the
	// cooperative stop signal to still-running handlers.
	s.cancel()

	if s.cfg.Logger != nil {
		if err != nil {
			s.cfg.Logger.Warn("scheduler stopped before drain completed", slog.Any("err", err))
		} else {
			s.cfg.Logger.Info("scheduler stopped")
		}
	}
	return err
}

// Err returns the fatal error that halted the timer loop, if any. A halted
// scheduler fires nothing until restarted explicitly via Stop and Start.
func (s *Scheduler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halted
}

// wake nudges the timer loop to recompute its nearest due time.
func (s *Scheduler) wake() {
	s.mu.Lock()
	wakeCh := s.wakeCh
	s.mu.Unlock()
	if wakeCh == nil {
		return
	}
	select {
	case wakeCh <- struct{}{}:
	default:
	}
}

// skipNotice defers OnSkip hooks until the loop releases its lock.
type skipNotice struct {
	job string
	due time.Time
}

// loop is the single time-keeping goroutine: wake at the nearest next-fire
// time, trigger everything due at or before now, repeat.
func (s *Scheduler) loop(ctx context.Context, stopCh <-chan struct{}, wakeCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			fatal := &autoerrors.FatalError{
				Component: "scheduler",
				Err:       fmt.Errorf("timer loop panic: %v\n%s", r, debug.Stack()),
			}
			s.mu.Lock()
			s.halted = fatal
			s.running = false
			s.mu.Unlock()
			if s.cfg.Logger != nil {
				s.cfg.Logger.Error("scheduler halted", slog.Any("err", fatal))
			}
			if s.cfg.OnFatal != nil {
				s.cfg.OnFatal(fatal)
			}
		}
	}()

	for {
		now := time.Now()
		var skips []skipNotice

		s.mu.Lock()
		for len(s.heap) > 0 && !s.heap[0].when.After(now) {
			entry := heap.Pop(&s.heap).(fireEntry)
			st, ok := s.jobs[entry.name]
			if !ok || st.gen != entry.gen {
				continue // unscheduled or redefined since this entry was pushed
			}
			skips = append(skips, s.fireLocked(ctx, st, entry.when, now)...)
		}

		var wait time.Duration = -1
		if len(s.heap) > 0 {
			wait = time.Until(s.heap[0].when)
			if wait < 0 {
				wait = 0
			}
		}
		s.mu.Unlock()

		for _, sn := range skips {
			if s.cfg.Logger != nil {
				s.cfg.Logger.Debug("job firing skipped, previous run still executing",
					slog.String("job", sn.job))
			}
			if s.cfg.OnSkip != nil {
				s.cfg.OnSkip(sn.job, sn.due)
			}
		}

		if wait < 0 {
			select {
			case <-stopCh:
				return
			case <-wakeCh:
			}
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-wakeCh:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// fireLocked handles one due firing. Caller holds s.mu. Returned skip
// notices are delivered after the lock is released.
func (s *Scheduler) fireLocked(ctx context.Context, st *jobState, due, now time.Time) []skipNotice {
	// Advance the next-fire time from the scheduled time, coalescing any
	// ticks missed while the process was stalled.
	st.next = st.job.Spec.Next(due)
	for !st.next.IsZero() && !st.next.After(now) {
		st.next = st.job.Spec.Next(st.next)
	}
	// A zero next means the cron expression has no future fire.
	if !st.next.IsZero() {
		heap.Push(&s.heap, fireEntry{when: st.next, name: st.job.Name, gen: st.gen})
	}

	switch st.job.Policy {
	case Skip:
		if st.running > 0 {
			return []skipNotice{{job: st.job.Name, due: due}}
		}
	case Queue:
		if st.running > 0 {
			// At most one queued run; further firings coalesce into it.
			st.queued = true
			st.queuedAt = due
			return nil
		}
	case Parallel:
		// Always start.
	}

	s.startRunLocked(ctx, st, due)
	return nil
}

// startRunLocked spawns one run. Caller holds s.mu.
func (s *Scheduler) startRunLocked(ctx context.Context, st *jobState, due time.Time) {
	st.running++
	s.runWG.Add(1)
	go s.execute(ctx, st.job, st.gen, due)
}

// execute runs a job to completion, records the Run, and starts a queued
// rerun if one coalesced while this run was executing.
func (s *Scheduler) execute(ctx context.Context, job Job, gen uint64, due time.Time) {
	defer s.runWG.Done()

	if s.sem != nil {
		s.sem <- struct{}{}
		defer func() { <-s.sem }()
	}

	started := time.Now()
	runCtx := ctx
	var cancel context.CancelFunc
	if job.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, job.Timeout)
	}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &autoerrors.PanicError{
					HandlerID: job.Name,
					Value:     r,
					Stack:     debug.Stack(),
				}
			}
		}()
		return job.Handler(runCtx)
	}()
	if cancel != nil {
		cancel()
	}

	run := Run{
		Job:         job.Name,
		ScheduledAt: due,
		StartedAt:   started,
		FinishedAt:  time.Now(),
	}
	if err != nil {
		run.Outcome = Failure
		run.Err = err
	}

	if s.cfg.Logger != nil {
		if err != nil {
			s.cfg.Logger.Warn("job run failed",
				slog.String("job", job.Name),
				slog.Duration("dur", run.Duration()),
				slog.Any("err", err),
			)
		} else {
			s.cfg.Logger.Debug("job run completed",
				slog.String("job", job.Name),
				slog.Duration("dur", run.Duration()),
			)
		}
	}
	if s.cfg.OnRun != nil {
		s.cfg.OnRun(run)
	}

	s.mu.Lock()
	st, ok := s.jobs[job.Name]
	if ok && st.gen == gen {
		st.running--
		if st.queued && s.running {
			st.queued = false
			s.startRunLocked(ctx, st, st.queuedAt)
		}
	}
	s.mu.Unlock()
}

// Info describes one scheduled job for introspection.
type Info struct {
	Name    string
	Spec    string
	Policy  ConcurrencyPolicy
	Next    time.Time
	Running int
	Queued  bool
}

// Snapshot returns the scheduled jobs sorted by name.
func (s *Scheduler) Snapshot() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]Info, 0, len(s.jobs))
	for _, st := range s.jobs {
		infos = append(infos, Info{
			Name:    st.job.Name,
			Spec:    st.job.Spec.String(),
			Policy:  st.job.Policy,
			Next:    st.next,
			Running: st.running,
			Queued:  st.queued,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
