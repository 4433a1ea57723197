package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bububa/nutrition-agents/components"
	"github.com/bububa/nutrition-agents/schema"
)

func noop(ctx context.Context, s *Scope) error {
	return s.Set(s.Step())
}

func finish(ctx context.Context, s *Scope) error {
	if err := s.Set(s.Step()); err != nil {
		return err
	}
	return s.Finalize("done")
}

func newTestExecutor(opts ...Option) *Executor {
	ids := 0
	base := []Option{
		WithSleep(func(ctx context.Context, d time.Duration) error { return ctx.Err() }),
		WithIDGenerator(func() string {
			ids++
			return fmt.Sprintf("run-%d", ids)
		}),
	}
	return NewExecutor(append(base, opts...)...)
}

func TestTableValidation(t *testing.T) {
	router := func(*RunState) (string, error) { return "b", nil }
	tests := []struct {
		name string
		defs []Def
		want string
	}{
		{
			name: "empty",
			want: "no nodes",
		},
		{
			name: "two transitions from one node",
			defs: []Def{Node("a", noop), Node("b", noop), Node("c", noop), Node("d", noop), Edge("a", "b"), Edge("b", "c"), Edge("c", "b"), Branch("c", router, "d")},
			want: "already has an outgoing transition",
		},
		{
			name: "cycle back into the middle",
			defs: []Def{Node("a", noop), Node("b", noop), Node("c", noop), Node("d", noop), Edge("a", "b"), Branch("b", router, "c", "d"), Edge("c", "b")},
			want: "cycle",
		},
		{
			name: "unreachable",
			defs: []Def{Node("a", noop), Node("b", noop), Node("c", noop), Edge("a", "b"), Edge("c", "b")},
			want: "unreachable",
		},
		{
			name: "two terminals",
			defs: []Def{Node("a", noop), Node("b", noop), Node("c", noop), Branch("a", router, "b", "c")},
			want: "exactly one terminal",
		},
		{
			name: "undeclared target",
			defs: []Def{Node("a", noop), Edge("a", "ghost")},
			want: "undeclared node",
		},
		{
			name: "entry with incoming edge",
			defs: []Def{Node("a", noop), Node("b", noop), Edge("b", "a"), Entry("a")},
			want: "incoming",
		},
		{
			name: "duplicate node",
			defs: []Def{Node("a", noop), Node("a", noop)},
			want: "declared twice",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTable("test", tt.defs...)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidTable)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestTableShape(t *testing.T) {
	table := MustTable("shape",
		Node("init", noop),
		Node("fast", noop),
		Node("slow", noop),
		Node("slower", noop),
		Node("end", finish),
		Branch("init", func(s *RunState) (string, error) {
			if s.Input.Message == "slow" {
				return "slow", nil
			}
			return "fast", nil
		}, "fast", "slow"),
		Edge("fast", "end"),
		Edge("slow", "slower"),
		Edge("slower", "end"),
	)
	assert.Equal(t, "init", table.Entry())
	assert.Equal(t, "end", table.Terminal())
	assert.Equal(t, 4, table.LongestPath())
	assert.Equal(t, []string{"init", "fast", "slow", "slower", "end"}, table.Nodes())

	next, done, err := table.Next("init", &RunState{Input: Input{Message: "slow"}})
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, "slow", next)

	_, done, err = table.Next("end", &RunState{})
	require.NoError(t, err)
	assert.True(t, done)

	_, _, err = table.Next("nowhere", &RunState{})
	assert.Error(t, err)
}

func TestRouterUndeclaredTarget(t *testing.T) {
	table := MustTable("routes",
		Node("a", noop),
		Node("b", noop),
		Node("c", finish),
		Branch("a", func(*RunState) (string, error) { return "c", nil }, "b"),
		Edge("b", "c"),
	)
	state, err := newTestExecutor().Run(context.Background(), table, Input{}, schema.UserContext{})
	require.Error(t, err)
	rerr, ok := IsRunError(err)
	require.True(t, ok)
	assert.Equal(t, "a", rerr.Step)
	assert.Equal(t, []string{"a"}, rerr.Trace)
	assert.Equal(t, StatusFailed, state.Status)
	assert.Contains(t, err.Error(), "undeclared target")
}

func collect(t *testing.T, run *Run) []StepEvent {
	t.Helper()
	events, err := run.Events()
	require.NoError(t, err)
	var ret []StepEvent
	for ev := range events {
		ret = append(ret, ev)
	}
	return ret
}

func TestRunEventsInOrder(t *testing.T) {
	table := MustTable("linear",
		Node("init", noop),
		Node("analyze", noop),
		Node("finalize", finish),
		Edge("init", "analyze"),
		Edge("analyze", "finalize"),
	)
	var observed []StepEvent
	obs := ObserverFunc(func(_ context.Context, _ *RunState, ev StepEvent, _ time.Duration) {
		observed = append(observed, ev)
	})
	run := newTestExecutor(WithObserver(obs)).Start(context.Background(), table, Input{}, schema.UserContext{})
	events := collect(t, run)
	state, err := run.Wait()
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, "done", state.Result)
	assert.Equal(t, []string{"init", "analyze", "finalize"}, state.StepTrace)
	assert.Equal(t, "analyze", state.Intermediate["analyze"])
	assert.False(t, state.FinishedAt.IsZero())

	require.Len(t, events, 7)
	assert.Equal(t, observed, events)
	for i, ev := range events {
		assert.EqualValues(t, i+1, ev.Seq)
		assert.Equal(t, "run-1", ev.RunID)
	}
	assert.Equal(t, EventStarted, events[0].Status)
	assert.Equal(t, "init", events[0].Step)
	assert.Equal(t, EventCompleted, events[1].Status)
	assert.Equal(t, "init", events[1].Payload)
	last := events[6]
	assert.True(t, last.IsRunEvent())
	assert.Equal(t, EventCompleted, last.Status)
	assert.Equal(t, "done", last.Payload)

	_, err = run.Events()
	assert.ErrorIs(t, err, ErrAlreadySubscribed)
}

func TestRetryThenSucceed(t *testing.T) {
	var attempts int
	flaky := func(ctx context.Context, s *Scope) error {
		attempts++
		// staged writes of failed attempts are discarded
		assert.NoError(t, s.Set(attempts))
		if attempts < 3 {
			return &components.ProviderError{Provider: "openai", Model: "gpt-4o", StatusCode: 503, Transient: true}
		}
		return nil
	}
	var delays []time.Duration
	exec := newTestExecutor(WithSleep(func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}))
	table := MustTable("retry",
		Node("init", noop),
		Node("vision", flaky),
		Node("finalize", finish),
		Edge("init", "vision"),
		Edge("vision", "finalize"),
	)
	run := exec.Start(context.Background(), table, Input{}, schema.UserContext{})
	events := collect(t, run)
	state, err := run.Wait()
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, state.Intermediate["vision"])
	assert.Equal(t, []string{"init", "vision", "finalize"}, state.StepTrace)
	assert.Equal(t, []time.Duration{200 * time.Millisecond, 400 * time.Millisecond}, delays)

	var failed int
	for _, ev := range events {
		if ev.Step == "vision" && ev.Status == EventFailed {
			failed++
		}
	}
	assert.Equal(t, 2, failed)
}

func TestEscalatedValidationNotRetried(t *testing.T) {
	var attempts int
	table := MustTable("escalate",
		Node("init", noop),
		Node("analyze", func(ctx context.Context, s *Scope) error {
			attempts++
			return &components.ValidationError{Schema: "NutritionAnalysis", Field: "health_score", Escalated: true}
		}),
		Node("finalize", finish),
		Edge("init", "analyze"),
		Edge("analyze", "finalize"),
	)
	run := newTestExecutor().Start(context.Background(), table, Input{}, schema.UserContext{})
	events := collect(t, run)
	state, err := run.Wait()
	require.Error(t, err)
	assert.Equal(t, 1, attempts)

	var verr *components.ValidationError
	assert.ErrorAs(t, err, &verr)
	rerr, ok := IsRunError(err)
	require.True(t, ok)
	assert.Equal(t, "analyze", rerr.Step)
	assert.Equal(t, []string{"init"}, rerr.Trace)
	assert.Equal(t, StatusFailed, state.Status)
	assert.Nil(t, state.Result)

	last := events[len(events)-1]
	assert.True(t, last.IsRunEvent())
	assert.Equal(t, EventFailed, last.Status)
	assert.Equal(t, rerr, last.Payload)
}

func TestPermanentErrorNotRetried(t *testing.T) {
	var attempts int
	table := MustTable("permanent",
		Node("init", func(ctx context.Context, s *Scope) error {
			attempts++
			return errors.New("boom")
		}),
		Node("finalize", finish),
		Edge("init", "finalize"),
	)
	_, err := newTestExecutor().Run(context.Background(), table, Input{}, schema.UserContext{})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestPanicBecomesFailure(t *testing.T) {
	table := MustTable("panic",
		Node("init", func(ctx context.Context, s *Scope) error {
			panic("bad portion")
		}),
		Node("finalize", finish),
		Edge("init", "finalize"),
	)
	state, err := newTestExecutor().Run(context.Background(), table, Input{}, schema.UserContext{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad portion")
	assert.Equal(t, StatusFailed, state.Status)
}

func TestCancelAfterSecondNode(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var ran []string
	var mu sync.Mutex
	step := func(ctx context.Context, s *Scope) error {
		mu.Lock()
		ran = append(ran, s.Step())
		mu.Unlock()
		if s.Step() == "vision" {
			cancel()
		}
		return s.Set(s.Step())
	}
	table := MustTable("cancel",
		Node("init", step),
		Node("vision", step),
		Node("analyze", step),
		Node("finalize", finish),
		Edge("init", "vision"),
		Edge("vision", "analyze"),
		Edge("analyze", "finalize"),
	)
	run := newTestExecutor().Start(ctx, table, Input{}, schema.UserContext{})
	events := collect(t, run)
	state, err := run.Wait()
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, state.Status)
	assert.Equal(t, []string{"init", "vision"}, ran)
	assert.Equal(t, []string{"init", "vision"}, state.StepTrace)
	assert.Nil(t, state.Result)
	assert.True(t, components.IsCancellation(state.Error))

	last := events[len(events)-1]
	assert.True(t, last.IsRunEvent())
	assert.Equal(t, EventCancelled, last.Status)
	for _, ev := range events {
		assert.NotEqual(t, "analyze", ev.Step)
	}
}

func TestCancelFromEventStream(t *testing.T) {
	table := MustTable("cancel-stream",
		Node("init", noop),
		Node("vision", noop),
		Node("analyze", noop),
		Node("finalize", finish),
		Edge("init", "vision"),
		Edge("vision", "analyze"),
		Edge("analyze", "finalize"),
	)
	exec := newTestExecutor()
	for i := 0; i < 200; i++ {
		run, events := exec.Stream(context.Background(), table, Input{}, schema.UserContext{})
		var seen []StepEvent
		for ev := range events {
			seen = append(seen, ev)
			if ev.Step == "vision" && ev.Status == EventCompleted {
				run.Cancel()
			}
		}
		state, err := run.Wait()
		require.NoError(t, err)
		require.Equal(t, StatusCancelled, state.Status)
		assert.Equal(t, []string{"init", "vision"}, state.StepTrace)
		for _, ev := range seen {
			require.NotEqual(t, "analyze", ev.Step, "iteration %d", i)
			require.NotEqual(t, "finalize", ev.Step, "iteration %d", i)
		}
		last := seen[len(seen)-1]
		assert.True(t, last.IsRunEvent())
		assert.Equal(t, EventCancelled, last.Status)
	}
}

func TestStreamSubscribed(t *testing.T) {
	table := MustTable("stream",
		Node("init", noop),
		Node("finalize", finish),
		Edge("init", "finalize"),
	)
	run, events := newTestExecutor().Stream(context.Background(), table, Input{}, schema.UserContext{})
	_, err := run.Events()
	assert.ErrorIs(t, err, ErrAlreadySubscribed)
	var n int
	for range events {
		n++
	}
	assert.Equal(t, 5, n)
}

func TestLateSubscriberReplays(t *testing.T) {
	table := MustTable("late",
		Node("init", noop),
		Node("finalize", finish),
		Edge("init", "finalize"),
	)
	run := newTestExecutor().Start(context.Background(), table, Input{}, schema.UserContext{})
	_, err := run.Wait()
	require.NoError(t, err)
	events := collect(t, run)
	require.Len(t, events, 5)
	assert.EqualValues(t, 1, events[0].Seq)
	assert.True(t, events[4].IsRunEvent())
}

func TestBreakDetachesSubscriber(t *testing.T) {
	table := MustTable("detach",
		Node("init", noop),
		Node("vision", noop),
		Node("finalize", finish),
		Edge("init", "vision"),
		Edge("vision", "finalize"),
	)
	run, events := newTestExecutor().Stream(context.Background(), table, Input{}, schema.UserContext{})
	for range events {
		break
	}
	state, err := run.Wait()
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, state.Status)
}

func TestCancelInsideNode(t *testing.T) {
	table := MustTable("cancel-inside",
		Node("init", func(ctx context.Context, s *Scope) error {
			<-ctx.Done()
			return &components.CancellationError{Step: s.Step(), Err: ctx.Err()}
		}),
		Node("finalize", finish),
		Edge("init", "finalize"),
	)
	run, events := newTestExecutor().Stream(context.Background(), table, Input{}, schema.UserContext{})
	var statuses []EventStatus
	for ev := range events {
		statuses = append(statuses, ev.Status)
		if ev.Status == EventStarted {
			run.Cancel()
		}
	}
	state, err := run.Wait()
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, state.Status)
	assert.Equal(t, []EventStatus{EventStarted, EventCancelled, EventCancelled}, statuses)
	assert.Empty(t, state.StepTrace)
}

func TestScopeWrites(t *testing.T) {
	table := MustTable("scope",
		Node("init", func(ctx context.Context, s *Scope) error {
			assert.NoError(t, s.Set(1))
			assert.ErrorIs(t, s.Set(2), ErrAlreadyWritten)
			assert.ErrorIs(t, s.Finalize("early"), ErrNotTerminal)
			return nil
		}),
		Node("finalize", func(ctx context.Context, s *Scope) error {
			v, ok := Get[int](s, "init")
			assert.True(t, ok)
			assert.Equal(t, 1, v)
			assert.Equal(t, []string{"init"}, s.Trace())
			assert.NoError(t, s.Finalize(v+1))
			assert.ErrorIs(t, s.Finalize(v+2), ErrFinalized)
			return nil
		}),
		Edge("init", "finalize"),
	)
	uc := schema.UserContext{UserID: "u1"}
	state, err := newTestExecutor().Run(context.Background(), table, Input{}, uc)
	require.NoError(t, err)
	assert.Equal(t, 2, state.Result)
	assert.Equal(t, 1, state.Intermediate["init"])
}

func TestRetryDelay(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 9, Backoff: time.Second, Multiplier: 3, MaxBackoff: 5 * time.Second}.normalize()
	assert.Equal(t, MaxAttemptsLimit, p.MaxAttempts)
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 3*time.Second, p.Delay(2))
	assert.Equal(t, 5*time.Second, p.Delay(3))
	assert.Zero(t, NoRetry.Delay(1))
}
