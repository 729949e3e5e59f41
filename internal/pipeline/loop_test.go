package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixLoop(max int, children ...Node) *Loop {
	return NewLoop("fix_loop", LoopConfig{MaxIterations: max, ExitStage: "validate"}, children...)
}

func TestLoop_IterationCountProperty(t *testing.T) {
	for max := 1; max <= 4; max++ {
		for fireAt := 0; fireAt <= max+1; fireAt++ {
			t.Run(fmt.Sprintf("max=%d/fire=%d", max, fireAt), func(t *testing.T) {
				p := compose(t, nil, fixLoop(max, Step(newStage("fix")), Step(exitOn("validate", fireAt))))
				out := p.Run(context.Background(), nil)

				rec, ok := out.Loop("fix_loop")
				require.True(t, ok)
				assert.LessOrEqual(t, rec.Attempts(), max)

				if fireAt >= 1 && fireAt <= max {
					assert.Equal(t, fireAt, rec.Attempts())
					assert.True(t, rec.Succeeded())
					assert.True(t, out.Succeeded())
				} else {
					assert.Equal(t, max, rec.Attempts())
					assert.False(t, rec.Succeeded())
					assert.Equal(t, PartialFailure("fix_loop"), out.Status)
				}
			})
		}
	}
}

func TestLoop_EarlyExit(t *testing.T) {
	fix := newStage("fix")
	validate := exitOn("validate", 2)
	p := compose(t, nil, fixLoop(5, Step(fix), Step(validate)))

	out := p.Run(context.Background(), nil)

	require.True(t, out.Succeeded(), out.Status.String())
	rec, ok := out.Loop("fix_loop")
	require.True(t, ok)
	assert.Equal(t, 2, rec.Attempts())
	assert.Equal(t, 2, fix.calls)
	assert.Equal(t, 2, validate.calls)
	assert.False(t, rec.Iterations[0].ExitFired)
	assert.True(t, rec.Iterations[1].ExitFired)
	assert.Equal(t, Success(), rec.Status)
}

func TestLoop_Exhaustion(t *testing.T) {
	validate := exitOn("validate", 0)
	p := compose(t, nil, fixLoop(3, Step(newStage("fix")), Step(validate)))

	out := p.Run(context.Background(), nil)

	assert.Equal(t, PartialFailure("fix_loop"), out.Status)
	assert.ErrorIs(t, out.Err, ErrLoopExhausted)
	assert.Equal(t, KindLoopExhausted, out.Kind())
	assert.Equal(t, 3, validate.calls)

	rec, err := ReadAs[*LoopRecord](out.Context, "fix_loop")
	require.NoError(t, err, "record is written into the context")
	assert.Equal(t, 3, rec.Attempts())
	assert.Equal(t, 3, rec.MaxIterations)
	assert.Equal(t, PartialFailure("fix_loop"), rec.Status)
}

func TestLoop_SingleIterationStillChecksExit(t *testing.T) {
	ok := compose(t, nil, fixLoop(1, Step(exitOn("validate", 1)))).Run(context.Background(), nil)
	assert.True(t, ok.Succeeded())
	rec, _ := ok.Loop("fix_loop")
	assert.True(t, rec.Succeeded())

	notOK := compose(t, nil, fixLoop(1, Step(exitOn("validate", 0)))).Run(context.Background(), nil)
	assert.Equal(t, PartialFailure("fix_loop"), notOK.Status)
	rec, _ = notOK.Loop("fix_loop")
	assert.Equal(t, 1, rec.Attempts())
	assert.False(t, rec.Succeeded())
}

func TestLoop_VisibilityAcrossIterations(t *testing.T) {
	type sighting struct {
		seen    any
		lateErr error
	}
	var sightings []sighting

	probe := &fakeStage{name: "probe", feedback: []string{"seen", "late"}}
	probe.fn = func(_ context.Context, v View, _ int) StageResult {
		var s sighting
		s.seen, _ = v.Read("seen")
		_, s.lateErr = v.Read("late")
		sightings = append(sightings, s)
		return Completed(len(sightings))
	}
	seen := &fakeStage{name: "seen", fn: func(_ context.Context, _ View, call int) StageResult {
		return Completed(call)
	}}
	late := &fakeStage{name: "late", fn: func(_ context.Context, _ View, call int) StageResult {
		if call == 1 {
			return Failed("not yet", true)
		}
		return Completed("late-value")
	}}

	p := compose(t, nil, fixLoop(3, Step(probe), Step(seen), Step(late), Step(exitOn("validate", 2))))
	out := p.Run(context.Background(), nil)
	require.True(t, out.Succeeded(), out.Status.String())
	require.Len(t, sightings, 3)

	// Iteration 1: nothing carried yet.
	assert.Nil(t, sightings[0].seen)
	assert.ErrorIs(t, sightings[0].lateErr, ErrKeyNotFound)

	// Iteration 2: iteration 1 wrote "seen"; "late" is only written later in
	// this iteration.
	assert.Equal(t, 1, sightings[1].seen)
	assert.ErrorIs(t, sightings[1].lateErr, ErrKeyNotFound)

	// Iteration 3: both carried from iteration 2.
	assert.Equal(t, 2, sightings[2].seen)
	assert.NoError(t, sightings[2].lateErr)
}

func TestLoop_SiblingOutputVisibleWithinIteration(t *testing.T) {
	tester := newStage("test_runner", "fix")
	tester.fn = func(_ context.Context, v View, _ int) StageResult {
		fix, err := ReadAs[string](v, "fix")
		if err != nil {
			return FailedWith(err, false)
		}
		return Completed("tested " + fix)
	}
	p := compose(t, nil, fixLoop(1, Step(newStage("fix")), Step(tester), Step(exitOn("validate", 1))))

	out := p.Run(context.Background(), nil)
	require.True(t, out.Succeeded(), out.Status.String())
	got, err := ReadAs[string](out.Context, "test_runner")
	require.NoError(t, err)
	assert.Equal(t, "tested fix-value", got)
}

func TestLoop_PromotesLatestValues(t *testing.T) {
	fix := &fakeStage{name: "fix", fn: func(_ context.Context, _ View, call int) StageResult {
		return Completed(fmt.Sprintf("attempt-%d", call))
	}}
	p := compose(t, nil, fixLoop(3, Step(fix), Step(exitOn("validate", 0))))
	out := p.Run(context.Background(), nil)

	v, err := ReadAs[string](out.Context, "fix")
	require.NoError(t, err)
	assert.Equal(t, "attempt-3", v)
	assert.Equal(t, []string{"fix", "validate", "fix_loop"}, out.Context.Keys())

	rec, _ := out.Loop("fix_loop")
	assert.Equal(t, []Entry{
		{Key: "fix", Value: "attempt-2"},
		{Key: "validate", Value: check{OK: false}},
	}, rec.Iterations[1].Transcript)
}

func TestLoop_RetriableFailureEndsIterationEarly(t *testing.T) {
	after := newStage("after")
	flaky := &fakeStage{name: "flaky", fn: func(_ context.Context, _ View, call int) StageResult {
		if call == 1 {
			return Failed("rate limited", true)
		}
		return Completed("ok")
	}}
	validate := exitOn("validate", 1)

	p := compose(t, nil, fixLoop(3, Step(flaky), Step(after), Step(validate)))
	out := p.Run(context.Background(), nil)

	require.True(t, out.Succeeded(), out.Status.String())
	rec, _ := out.Loop("fix_loop")
	require.Equal(t, 2, rec.Attempts())

	first := rec.Iterations[0]
	assert.Equal(t, []string{"flaky"}, first.Order, "remaining children are skipped")
	assert.False(t, first.ExitFired)
	assert.False(t, first.Results["flaky"].IsCompleted())

	assert.Equal(t, []string{"flaky", "after", "validate"}, rec.Iterations[1].Order)
	assert.Equal(t, 1, after.calls)
	assert.Equal(t, 1, validate.calls)
}

func TestLoop_RetriableFailureEveryIterationExhausts(t *testing.T) {
	p := compose(t, nil, fixLoop(2, Step(failingStage("flaky", true)), Step(exitOn("validate", 1))))
	out := p.Run(context.Background(), nil)

	assert.Equal(t, PartialFailure("fix_loop"), out.Status)
	assert.Equal(t, KindLoopExhausted, out.Kind())
	rec, _ := out.Loop("fix_loop")
	assert.Equal(t, 2, rec.Attempts())
}

func TestLoop_NonRetriableFailureAborts(t *testing.T) {
	validate := exitOn("validate", 2)
	after := newStage("after")
	p := compose(t, nil,
		fixLoop(5, Step(failingStage("fix", false)), Step(validate)),
		Step(after),
	)
	out := p.Run(context.Background(), nil)

	assert.True(t, out.Status.IsAborted())
	assert.Equal(t, "fix", out.Status.At)
	assert.Equal(t, "non-retriable stage failure", out.Status.Reason)
	assert.Equal(t, KindAborted, out.Kind())
	assert.ErrorIs(t, out.Err, ErrStageFailure, "abort keeps its cause")
	assert.Equal(t, 0, validate.calls)
	assert.Equal(t, 0, after.calls, "abort is fatal to the run")

	rec, ok := out.Loop("fix_loop")
	require.True(t, ok)
	assert.Equal(t, 1, rec.Attempts())
	assert.True(t, rec.Status.IsAborted())
	assert.True(t, out.Context.Has("fix_loop"), "record is still reported")
}

func TestLoop_ExitStageFailureAborts(t *testing.T) {
	for _, retriable := range []bool{true, false} {
		t.Run(fmt.Sprintf("retriable=%v", retriable), func(t *testing.T) {
			p := compose(t, nil, fixLoop(3, Step(newStage("fix")), Step(failingStage("validate", retriable))))
			out := p.Run(context.Background(), nil)

			assert.True(t, out.Status.IsAborted())
			assert.Equal(t, "validate", out.Status.At)
			assert.Equal(t, "exit condition stage failed", out.Status.Reason)
			rec, _ := out.Loop("fix_loop")
			assert.Equal(t, 1, rec.Attempts())
		})
	}
}

func TestLoop_ExitValueWithoutSignalAborts(t *testing.T) {
	p := compose(t, nil, fixLoop(3, Step(newStage("validate"))))
	out := p.Run(context.Background(), nil)

	assert.True(t, out.Status.IsAborted())
	assert.ErrorIs(t, out.Err, ErrTypeMismatch)
}

func TestLoop_ExitConditionOverride(t *testing.T) {
	validate := &fakeStage{name: "validate", fn: func(_ context.Context, _ View, call int) StageResult {
		return Completed(map[string]any{"status": map[bool]string{true: "SUCCESSFUL", false: "FAILED"}[call == 3]})
	}}
	loop := NewLoop("fix_loop", LoopConfig{
		MaxIterations: 5,
		ExitStage:     "validate",
		ExitCondition: func(v any) (bool, error) {
			return v.(map[string]any)["status"] == "SUCCESSFUL", nil
		},
	}, Step(validate))

	out := compose(t, nil, loop).Run(context.Background(), nil)
	require.True(t, out.Succeeded())
	rec, _ := out.Loop("fix_loop")
	assert.Equal(t, 3, rec.Attempts())

	boom := errors.New("unreadable")
	bad := NewLoop("bad_loop", LoopConfig{
		MaxIterations: 2,
		ExitStage:     "check",
		ExitCondition: func(any) (bool, error) { return false, boom },
	}, Step(newStage("check")))
	out = compose(t, nil, bad).Run(context.Background(), nil)
	assert.True(t, out.Status.IsAborted())
	assert.ErrorIs(t, out.Err, boom)
}

func TestLoop_NestedLoopExhaustionRetriesOuter(t *testing.T) {
	inner := NewLoop("inner", LoopConfig{MaxIterations: 2, ExitStage: "inner_check"},
		Step(exitOn("inner_check", 0)))
	outerCheck := exitOn("outer_check", 2)
	outer := NewLoop("outer", LoopConfig{MaxIterations: 3, ExitStage: "outer_check"},
		inner, Step(outerCheck))

	out := compose(t, nil, outer).Run(context.Background(), nil)

	require.True(t, out.Succeeded(), out.Status.String())
	assert.Equal(t, 2, outerCheck.calls, "exhausted inner loop does not end the outer iteration")
	rec, _ := out.Loop("outer")
	assert.Equal(t, 2, rec.Attempts())

	innerRec, err := ReadAs[*LoopRecord](out.Context, "inner")
	require.NoError(t, err)
	assert.Equal(t, 2, innerRec.Attempts())
}

func TestLoop_NestedLoopRerunsOnEachOuterIteration(t *testing.T) {
	innerCheck := exitOn("inner_check", 1)
	inner := NewLoop("inner", LoopConfig{MaxIterations: 1, ExitStage: "inner_check"}, Step(innerCheck))
	outerCheck := exitOn("outer_check", 2)
	outer := NewLoop("outer", LoopConfig{MaxIterations: 2, ExitStage: "outer_check"},
		inner, Step(outerCheck))

	out := compose(t, nil, outer).Run(context.Background(), nil)

	require.True(t, out.Succeeded(), out.Status.String())
	assert.NoError(t, out.Err)
	assert.Equal(t, 2, innerCheck.calls)
	assert.Equal(t, 2, outerCheck.calls)

	rec, ok := out.Loop("outer")
	require.True(t, ok)
	assert.Equal(t, 2, rec.Attempts())
	assert.Contains(t, transcriptKeys(rec.Iterations[1].Transcript), "inner_check")

	innerRec, err := ReadAs[*LoopRecord](out.Context, "inner")
	require.NoError(t, err)
	assert.Equal(t, 1, innerRec.Attempts())
	assert.True(t, innerRec.Succeeded())
}

func TestLoop_LoopInSequentialInLoop(t *testing.T) {
	fix := newStage("fix")
	inner := NewLoop("inner", LoopConfig{MaxIterations: 2, ExitStage: "inner_check"},
		Step(fix), Step(exitOn("inner_check", 1)))
	outerCheck := exitOn("outer_check", 3)
	outer := NewLoop("outer", LoopConfig{MaxIterations: 3, ExitStage: "outer_check"},
		NewSequential("attempt", inner, Step(newStage("report"))), Step(outerCheck))

	out := compose(t, nil, outer).Run(context.Background(), nil)

	require.True(t, out.Succeeded(), out.Status.String())
	assert.Equal(t, 3, fix.calls)
	assert.Equal(t, 3, outerCheck.calls)
	for _, key := range []string{"fix", "inner_check", "inner", "report", "outer_check", "outer"} {
		assert.True(t, out.Context.Has(key), key)
	}
}

func transcriptKeys(entries []Entry) []string {
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	return keys
}

func TestLoop_CancellationDuringOutstandingCall(t *testing.T) {
	started := make(chan struct{})
	blocking := &fakeStage{name: "fix", fn: func(ctx context.Context, _ View, _ int) StageResult {
		close(started)
		<-ctx.Done()
		return StageResult{Status: StageFailed, Reason: "cancelled", Err: ctx.Err()}
	}}
	validate := exitOn("validate", 1)
	p := compose(t, nil, fixLoop(3, Step(blocking), Step(validate)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan RunOutcome, 1)
	go func() { done <- p.Run(ctx, nil) }()

	<-started
	cancel()

	select {
	case out := <-done:
		assert.True(t, out.Status.IsAborted())
		assert.Equal(t, "cancelled", out.Status.Reason)
		assert.Equal(t, KindAborted, out.Kind())
		assert.ErrorIs(t, out.Err, context.Canceled)
		assert.Equal(t, 0, validate.calls)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
}

func TestLoop_CancelledBeforeStart(t *testing.T) {
	fix := newStage("fix")
	p := compose(t, nil, fixLoop(3, Step(fix), Step(exitOn("validate", 1))))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := p.Run(ctx, nil)

	assert.True(t, out.Status.IsAborted())
	assert.Equal(t, 0, fix.calls)
}
