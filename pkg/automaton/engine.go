package automaton

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/randalmurphal/automaton/pkg/automaton/event"
	"github.com/randalmurphal/automaton/pkg/automaton/history"
	"github.com/randalmurphal/automaton/pkg/automaton/observability"
	"github.com/randalmurphal/automaton/pkg/automaton/schedule"
)

// Engine composes the subscription registry, dispatcher, and scheduler and
// wires observability and history into their hooks. Create one with New,
// register subscribers and jobs, then Start it.
type Engine struct {
	cfg engineConfig

	registry   *event.Registry
	dispatcher *event.Dispatcher
	scheduler  *schedule.Scheduler
	dlq        *event.DeadLetterQueue
}

// New creates an engine. All options are optional; the zero configuration
// gives silent logging, no-op metrics and tracing, default retries, and no
// dead letter queue.
func New(opts ...Option) *Engine {
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	e := &Engine{cfg: cfg}
	e.registry = event.NewRegistry()

	if cfg.dlqSize > 0 {
		e.dlq = event.NewDeadLetterQueue(event.DeadLetterConfig{MaxSize: cfg.dlqSize})
	}

	dispatchCfg := event.DispatcherConfig{
		MaxDepth:       cfg.maxDepth,
		MaxConcurrent:  cfg.maxConcurrent,
		HandlerTimeout: cfg.handlerTimeout,
		Retry:          cfg.retry,
		OnSuccess:      e.onDeliverySuccess,
		OnError:        e.onDeliveryFailure,
	}
	if e.dlq != nil {
		dispatchCfg.DLQ = e.dlq
	}
	e.dispatcher = event.NewDispatcher(e.registry, dispatchCfg)

	e.scheduler = schedule.NewScheduler(schedule.Config{
		Logger:        cfg.logger,
		DrainTimeout:  cfg.drainTimeout,
		MaxConcurrent: cfg.schedulerMaxConcurrent,
		OnRun:         e.onJobRun,
		OnSkip:        e.onJobSkip,
	})

	return e
}

// Subscribe registers a handler for an event name. Insertion order determines
// invocation order; re-subscribing an existing handler ID replaces the
// handler in place, keeping its position.
func (e *Engine) Subscribe(eventName, handlerID string, h event.Handler, opts ...event.SubscribeOption) error {
	return e.registry.Register(eventName, handlerID, h, opts...)
}

// SubscribeFunc registers a plain function as a handler.
func (e *Engine) SubscribeFunc(eventName, handlerID string, fn func(ctx context.Context, env *event.Envelope) error, opts ...event.SubscribeOption) error {
	return e.registry.Register(eventName, handlerID, event.HandlerFunc(fn), opts...)
}

// Unsubscribe removes a handler. It is a no-op if absent.
func (e *Engine) Unsubscribe(eventName, handlerID string) {
	e.registry.Unregister(eventName, handlerID)
}

// Use adds middleware applied to every handler invocation. First added is
// outermost.
func (e *Engine) Use(mw event.Middleware) {
	e.dispatcher.Use(mw)
}

// Publish dispatches an event to all current subscribers and returns once
// every delivery, including retries, has settled. Publishing with no
// subscribers returns an empty result without error.
func (e *Engine) Publish(ctx context.Context, name string, payload any, opts ...event.EnvelopeOption) (event.DispatchResult, error) {
	return e.PublishEnvelope(ctx, event.NewEnvelope(name, payload, opts...))
}

// PublishEnvelope dispatches a pre-built envelope.
func (e *Engine) PublishEnvelope(ctx context.Context, env *event.Envelope) (event.DispatchResult, error) {
	ctx, span := e.cfg.spans.StartPublishSpan(ctx, env.Name(), env.ID())
	elapsed := observability.TimedOperation()

	observability.LogPublish(e.cfg.logger, env.ID(), env.Name(), e.registry.Len(env.Name()))

	result, err := e.dispatcher.PublishEnvelope(ctx, env)

	e.cfg.metrics.RecordPublish(ctx, env.Name(), len(result), time.Duration(elapsed()*float64(time.Millisecond)))
	e.cfg.spans.EndSpanWithError(span, err)
	return result, err
}

// PublishAsync dispatches without blocking the caller. The returned channel
// receives the settled result; callers may ignore it for fire-and-forget.
func (e *Engine) PublishAsync(ctx context.Context, name string, payload any, opts ...event.EnvelopeOption) <-chan event.DispatchResult {
	ctx, span := e.cfg.spans.StartPublishSpan(ctx, name, "")
	ch := e.dispatcher.Go(ctx, name, payload, opts...)

	out := make(chan event.DispatchResult, 1)
	go func() {
		result, ok := <-ch
		if ok {
			out <- result
		}
		close(out)
		e.cfg.spans.EndSpanWithError(span, nil)
	}()
	return out
}

// Schedule registers a recurring job. Redefining an existing name replaces
// the prior descriptor and resets its next-fire computation.
func (e *Engine) Schedule(job schedule.Job) error {
	job.Handler = e.wrapJobHandler(job.Name, job.Handler)
	return e.scheduler.Schedule(job)
}

// ScheduleEvery registers a fixed-interval job with the Skip overlap policy.
func (e *Engine) ScheduleEvery(name string, every time.Duration, fn func(ctx context.Context) error) error {
	spec, err := schedule.Every(every)
	if err != nil {
		return err
	}
	return e.Schedule(schedule.Job{Name: name, Spec: spec, Handler: fn, Policy: schedule.Skip})
}

// ScheduleCron registers a cron-expression job with the Skip overlap policy.
// Standard five-field expressions and descriptors like "@hourly" are
// accepted.
func (e *Engine) ScheduleCron(name, expr string, fn func(ctx context.Context) error) error {
	spec, err := schedule.ParseSpec(expr)
	if err != nil {
		return err
	}
	return e.Schedule(schedule.Job{Name: name, Spec: spec, Handler: fn, Policy: schedule.Skip})
}

// Unschedule removes a job. Returns false if the name is unknown. An
// in-flight run of the removed job finishes normally.
func (e *Engine) Unschedule(name string) bool {
	return e.scheduler.Unschedule(name)
}

// Start launches the scheduler's timer loop. Subscriptions and publishes
// work before Start; only scheduled jobs wait for it.
func (e *Engine) Start(ctx context.Context) error {
	return e.scheduler.Start(ctx)
}

// Stop gracefully drains the engine: the scheduler stops firing and drains
// in-flight runs, then the dispatcher drains outstanding async publishes.
// The configured drain timeout bounds each phase.
func (e *Engine) Stop(ctx context.Context) error {
	schedErr := e.scheduler.Stop(ctx)
	if errors.Is(schedErr, schedule.ErrNotStarted) {
		schedErr = nil
	}

	drainCtx := ctx
	if e.cfg.drainTimeout > 0 {
		var cancel context.CancelFunc
		drainCtx, cancel = context.WithTimeout(ctx, e.cfg.drainTimeout)
		defer cancel()
	}
	dispErr := e.dispatcher.Close(drainCtx)

	return errors.Join(schedErr, dispErr)
}

// Err returns the fatal error that halted the scheduler's timer loop, if any.
func (e *Engine) Err() error {
	return e.scheduler.Err()
}

// Jobs returns the scheduled jobs sorted by name.
func (e *Engine) Jobs() []schedule.Info {
	return e.scheduler.Snapshot()
}

// DeadLetters returns the dead letter queue, or nil when not enabled.
func (e *Engine) DeadLetters() *event.DeadLetterQueue {
	return e.dlq
}

// History returns the history store, or nil when not enabled.
func (e *Engine) History() history.Store {
	return e.cfg.historyStore
}

// wrapJobHandler adds tracing around a job handler. Metrics and history are
// recorded from the OnRun hook so they cover panics too.
func (e *Engine) wrapJobHandler(name string, fn func(ctx context.Context) error) func(ctx context.Context) error {
	if fn == nil {
		return nil
	}
	return func(ctx context.Context) error {
		ctx, span := e.cfg.spans.StartJobSpan(ctx, name)
		err := fn(ctx)
		e.cfg.spans.EndSpanWithError(span, err)
		return err
	}
}

// onDeliverySuccess is the dispatcher's OnSuccess hook.
func (e *Engine) onDeliverySuccess(env *event.Envelope, handlerID string, attempts int, duration time.Duration) {
	observability.LogDeliverySuccess(e.cfg.logger, env.Name(), handlerID, attempts, float64(duration.Milliseconds()))
	e.cfg.metrics.RecordDelivery(context.Background(), env.Name(), handlerID, attempts, duration, nil)

	e.appendDelivery(history.DeliveryRecord{
		EventID:   env.ID(),
		EventName: env.Name(),
		HandlerID: handlerID,
		Success:   true,
		Attempts:  attempts,
		Duration:  duration,
		SettledAt: time.Now(),
	})
}

// onDeliveryFailure is the dispatcher's OnError hook.
func (e *Engine) onDeliveryFailure(env *event.Envelope, handlerID string, err error) {
	observability.LogDeliveryFailure(e.cfg.logger, env.Name(), handlerID, err)
	e.cfg.metrics.RecordDelivery(context.Background(), env.Name(), handlerID, 0, 0, err)

	e.appendDelivery(history.DeliveryRecord{
		EventID:   env.ID(),
		EventName: env.Name(),
		HandlerID: handlerID,
		Success:   false,
		Error:     err.Error(),
		SettledAt: time.Now(),
	})

	if e.cfg.onDeliveryError != nil {
		e.cfg.onDeliveryError(env, handlerID, err)
	}
}

// onJobRun is the scheduler's OnRun hook.
func (e *Engine) onJobRun(run schedule.Run) {
	success := run.Outcome == schedule.Success
	observability.LogJobRun(e.cfg.logger, run.Job, success, float64(run.Duration().Milliseconds()), run.Err)
	e.cfg.metrics.RecordJobRun(context.Background(), run.Job, success, run.Duration())

	rec := history.RunRecord{
		Job:         run.Job,
		ScheduledAt: run.ScheduledAt,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
		Success:     success,
		Duration:    run.Duration(),
	}
	if run.Err != nil {
		rec.Error = run.Err.Error()
	}
	if e.cfg.historyStore != nil {
		if err := e.cfg.historyStore.AppendRun(rec); err != nil && e.cfg.logger != nil {
			e.cfg.logger.Warn("history append failed", slog.String("job", run.Job), slog.Any("err", err))
		}
	}

	if !success && e.cfg.onRunError != nil {
		e.cfg.onRunError(run.Job, run.Err)
	}
}

// onJobSkip is the scheduler's OnSkip hook.
func (e *Engine) onJobSkip(job string, _ time.Time) {
	observability.LogJobSkip(e.cfg.logger, job)
	e.cfg.metrics.RecordJobSkip(context.Background(), job)
}

// appendDelivery records a settled delivery, logging append failures.
func (e *Engine) appendDelivery(rec history.DeliveryRecord) {
	if e.cfg.historyStore == nil {
		return
	}
	if err := e.cfg.historyStore.AppendDelivery(rec); err != nil && e.cfg.logger != nil {
		e.cfg.logger.Warn("history append failed",
			slog.String("event_name", rec.EventName),
			slog.Any("err", err))
	}
}
