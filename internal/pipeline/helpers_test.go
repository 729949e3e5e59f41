package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeStage is a Stage driven by a closure. It counts its invocations.
type fakeStage struct {
	name     string
	out      string
	inputs   []string
	feedback []string
	fn       func(ctx context.Context, v View, call int) StageResult
	calls    int
}

func (f *fakeStage) Name() string { return f.name }

func (f *fakeStage) OutputKey() string {
	if f.out == "" {
		return f.name
	}
	return f.out
}

func (f *fakeStage) InputKeys() []string    { return f.inputs }
func (f *fakeStage) FeedbackKeys() []string { return f.feedback }

func (f *fakeStage) Run(ctx context.Context, v View) StageResult {
	f.calls++
	if f.fn == nil {
		return Completed(f.name + "-value")
	}
	return f.fn(ctx, v, f.calls)
}

func newStage(name string, inputs ...string) *fakeStage {
	return &fakeStage{name: name, inputs: inputs}
}

func failingStage(name string, retriable bool) *fakeStage {
	return &fakeStage{name: name, fn: func(context.Context, View, int) StageResult {
		return FailedWith(errors.New(name+" broke"), retriable)
	}}
}

// check is an exit-stage value.
type check struct {
	OK bool
}

func (c check) LoopExit() bool { return c.OK }

// exitOn returns an exit stage that signals success from call n onward.
// n <= 0 never signals.
func exitOn(name string, n int) *fakeStage {
	return &fakeStage{name: name, fn: func(_ context.Context, _ View, call int) StageResult {
		return Completed(check{OK: n > 0 && call >= n})
	}}
}

func compose(t *testing.T, seed []string, nodes ...Node) *Pipeline {
	t.Helper()
	p, err := NewComposer(WithSeedKeys(seed...)).Compose("test", nodes...)
	require.NoError(t, err)
	return p
}
