package workflow

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"

	"github.com/bububa/nutrition-agents/components"
	"github.com/bububa/nutrition-agents/components/observability"
	"github.com/bububa/nutrition-agents/schema"
)

// Executor drives runs over transition tables. It is safe for concurrent use; every run owns its state.
type Executor struct {
	logger    *slog.Logger
	observers []Observer
	tracer    trace.Tracer
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	newID     func() string
}

// Option configures an Executor
type Option func(*Executor)

func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = l
	}
}

// WithObserver adds synchronous observers
func WithObserver(obs ...Observer) Option {
	return func(e *Executor) {
		e.observers = append(e.observers, obs...)
	}
}

// WithMetrics records node and run metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Executor) {
		if m != nil {
			e.observers = append(e.observers, NewMetricsObserver(m))
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) {
		e.tracer = t
	}
}

func WithNow(fn func() time.Time) Option {
	return func(e *Executor) {
		e.now = fn
	}
}

// WithSleep replaces the backoff sleep between node attempts
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) {
		e.sleep = fn
	}
}

// WithIDGenerator replaces the uuid v4 run id generator
func WithIDGenerator(fn func() string) Option {
	return func(e *Executor) {
		e.newID = fn
	}
}

// NewExecutor returns an executor
func NewExecutor(opts ...Option) *Executor {
	ret := &Executor{
		now:   time.Now,
		sleep: sleepContext,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(ret)
	}
	if ret.logger == nil {
		ret.logger = slog.Default()
	}
	if ret.tracer == nil {
		ret.tracer = observability.Tracer("github.com/bububa/nutrition-agents/workflow")
	}
	return ret
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run executes table synchronously. A cancelled run returns its state with StatusCancelled and no error;
// a failed run returns *RunError.
func (e *Executor) Run(ctx context.Context, table *Table, input Input, uc schema.UserContext, obs ...Observer) (*RunState, error) {
	return e.Start(ctx, table, input, uc, obs...).Wait()
}

// Start executes table in a new goroutine. Events emitted before a late Events call are replayed to it.
func (e *Executor) Start(ctx context.Context, table *Table, input Input, uc schema.UserContext, obs ...Observer) *Run {
	r, rs := e.prepare(ctx, table, input, uc, obs)
	go rs.start()
	return r
}

// Stream executes table in a new goroutine with the returned sequence as its only subscriber.
// No node starts before the subscriber has handled every earlier event, so cancelling from the
// loop body stops the run before the next node.
func (e *Executor) Stream(ctx context.Context, table *Table, input Input, uc schema.UserContext, obs ...Observer) (*Run, iter.Seq[StepEvent]) {
	r, rs := e.prepare(ctx, table, input, uc, obs)
	r.subscribed.Store(true)
	go rs.start()
	return r, r.sequence()
}

func (e *Executor) prepare(ctx context.Context, table *Table, input Input, uc schema.UserContext, obs []Observer) (*Run, *runner) {
	runCtx, cancel := context.WithCancel(ctx)
	state := newRunState(e.newID(), table.Name(), input, uc, e.now())
	r := &Run{
		state:   state,
		ctx:     runCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
		changed: make(chan struct{}),
		// every attempt emits two events, plus the closing run event
		queue: make([]StepEvent, 0, table.LongestPath()*MaxAttemptsLimit*2+1),
	}
	observers := make([]Observer, 0, len(e.observers)+len(obs))
	observers = append(observers, e.observers...)
	observers = append(observers, obs...)
	rs := &runner{
		executor: e,
		table:    table,
		run:      r,
		observer: NewCompositeObserver(observers...),
		logger:   e.logger.With(slog.String("run_id", state.RunID), slog.String("pipeline", table.Name())),
	}
	return r, rs
}

// Run handle of a started execution
type Run struct {
	state      *RunState
	ctx        context.Context
	subscribed atomic.Bool
	cancel     context.CancelFunc
	done       chan struct{}
	err        error

	mu       sync.Mutex
	queue    []StepEvent
	handled  int
	closed   bool
	detached bool
	// changed is closed and replaced whenever the fields above change
	changed chan struct{}
}

// ID returns the run id
func (r *Run) ID() string {
	return r.state.RunID
}

// Events returns the ordered event sequence, ending after the run event. Only one subscriber is allowed.
// From the moment of subscription no node starts before the loop body returned for every earlier event;
// breaking out of the loop detaches the subscriber without cancelling the run.
func (r *Run) Events() (iter.Seq[StepEvent], error) {
	if !r.subscribed.CompareAndSwap(false, true) {
		return nil, ErrAlreadySubscribed
	}
	return r.sequence(), nil
}

func (r *Run) sequence() iter.Seq[StepEvent] {
	return func(yield func(StepEvent) bool) {
		for i := 0; ; i++ {
			ev, ok := r.next(i)
			if !ok {
				return
			}
			if !yield(ev) {
				r.update(func() { r.detached = true })
				return
			}
			r.update(func() { r.handled = i + 1 })
		}
	}
}

// next blocks until the i-th event was emitted or the run finished
func (r *Run) next(i int) (StepEvent, bool) {
	for {
		r.mu.Lock()
		if i < len(r.queue) {
			ev := r.queue[i]
			r.mu.Unlock()
			return ev, true
		}
		if r.closed {
			r.mu.Unlock()
			return StepEvent{}, false
		}
		changed := r.changed
		r.mu.Unlock()
		<-changed
	}
}

func (r *Run) update(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn()
	close(r.changed)
	r.changed = make(chan struct{})
}

// awaitSubscriber blocks until an attached subscriber handled every emitted event or ctx is done
func (r *Run) awaitSubscriber(ctx context.Context) {
	for {
		r.mu.Lock()
		if !r.subscribed.Load() || r.detached || r.handled >= len(r.queue) {
			r.mu.Unlock()
			return
		}
		changed := r.changed
		r.mu.Unlock()
		select {
		case <-ctx.Done():
			return
		case <-changed:
		}
	}
}

// Cancel requests cancellation, observed before each node, external call and retry
func (r *Run) Cancel() {
	r.cancel()
}

// Done is closed when the run finished
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run finished
func (r *Run) Wait() (*RunState, error) {
	<-r.done
	return r.state, r.err
}

type runner struct {
	executor *Executor
	table    *Table
	run      *Run
	observer Observer
	logger   *slog.Logger
	seq      uint64
	mu       sync.Mutex
}

func (rs *runner) emit(ctx context.Context, step string, attempt int, status EventStatus, payload any, err error, duration time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.seq++
	ev := StepEvent{
		RunID:     rs.run.state.RunID,
		Seq:       rs.seq,
		Step:      step,
		Attempt:   attempt,
		Status:    status,
		Payload:   payload,
		Err:       err,
		Timestamp: rs.executor.now(),
	}
	rs.observer.OnEvent(ctx, rs.run.state, ev, duration)
	rs.run.update(func() { rs.run.queue = append(rs.run.queue, ev) })
}

func (rs *runner) start() {
	r := rs.run
	defer r.cancel()
	defer close(r.done)
	defer r.update(func() { r.closed = true })
	r.err = rs.execute(r.ctx)
}

func (rs *runner) execute(ctx context.Context) error {
	state := rs.run.state
	ctx, span := rs.executor.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("run_id", state.RunID),
		attribute.String("pipeline", state.Pipeline),
	))
	defer span.End()

	state.Status = StatusRunning
	current := rs.table.Entry()
	for {
		if ctx.Err() != nil {
			return rs.cancelled(ctx, span, current)
		}
		if err := rs.executeNode(ctx, current); err != nil {
			if components.IsCancellation(err) || ctx.Err() != nil {
				return rs.cancelled(ctx, span, current)
			}
			return rs.failed(ctx, span, current, err)
		}
		next, done, err := rs.table.Next(current, state)
		if err != nil {
			return rs.failed(ctx, span, current, err)
		}
		if done {
			break
		}
		current = next
	}
	state.Status = StatusCompleted
	state.FinishedAt = rs.executor.now()
	rs.emit(ctx, "", 0, EventCompleted, state.Result, nil, state.FinishedAt.Sub(state.StartedAt))
	span.SetStatus(codes.Ok, "")
	return nil
}

func (rs *runner) executeNode(ctx context.Context, name string) error {
	n := rs.table.nodes[name]
	terminal := name == rs.table.Terminal()
	var lastErr error
	for attempt := 1; attempt <= n.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := rs.executor.sleep(ctx, n.retry.Delay(attempt-1)); err != nil {
				return &components.CancellationError{Step: name, Err: err}
			}
		}
		rs.run.awaitSubscriber(ctx)
		if err := ctx.Err(); err != nil {
			return &components.CancellationError{Step: name, Err: err}
		}
		scope := newScope(rs.run.state, name, attempt, terminal, rs.logger)
		rs.emit(ctx, name, attempt, EventStarted, nil, nil, 0)
		start := rs.executor.now()
		err := rs.invoke(ctx, n, scope)
		duration := rs.executor.now().Sub(start)
		if err == nil {
			scope.commit()
			rs.emit(ctx, name, attempt, EventCompleted, scope.payload, nil, duration)
			return nil
		}
		if components.IsCancellation(err) || ctx.Err() != nil {
			rs.emit(ctx, name, attempt, EventCancelled, nil, err, duration)
			return &components.CancellationError{Step: name, Err: err}
		}
		rs.emit(ctx, name, attempt, EventFailed, nil, err, duration)
		lastErr = err
		if !n.retry.Retryable(err) {
			break
		}
		if attempt < n.retry.MaxAttempts {
			scope.Logger().WarnContext(ctx, "retrying step", slog.Int("attempt", attempt), slog.String("error", err.Error()))
		}
	}
	return lastErr
}

func (rs *runner) invoke(ctx context.Context, n *node, scope *Scope) (err error) {
	ctx, span := rs.executor.tracer.Start(ctx, "workflow.node", trace.WithAttributes(
		attribute.String("step", n.name),
		attribute.Int("attempt", scope.Attempt()),
	))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step %s panicked: %v\n%s", n.name, r, debug.Stack())
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	return n.fn(ctx, scope)
}

func (rs *runner) cancelled(ctx context.Context, span trace.Span, step string) error {
	state := rs.run.state
	state.Status = StatusCancelled
	state.FinishedAt = rs.executor.now()
	state.Error = &components.CancellationError{Step: step, Err: context.Cause(ctx)}
	// the run context is done; observers still get a live one for their own calls
	rs.emit(context.WithoutCancel(ctx), "", 0, EventCancelled, nil, state.Error, state.FinishedAt.Sub(state.StartedAt))
	span.SetStatus(codes.Error, "cancelled")
	return nil
}

func (rs *runner) failed(ctx context.Context, span trace.Span, step string, err error) error {
	state := rs.run.state
	runErr := &RunError{
		RunID: state.RunID,
		Step:  step,
		Trace: state.Trace(),
		Err:   err,
	}
	state.Status = StatusFailed
	state.FinishedAt = rs.executor.now()
	state.Error = runErr
	rs.emit(ctx, "", 0, EventFailed, runErr, runErr, state.FinishedAt.Sub(state.StartedAt))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return runErr
}

// IsRunError reports whether err is a terminal run failure and returns it
func IsRunError(err error) (*RunError, bool) {
	var rerr *RunError
	ok := errors.As(err, &rerr)
	return rerr, ok
}
