package stages

import (
	"context"

	"github.com/fyrsmithlabs/codereview/internal/pipeline"
)

// Func is the body of a FuncStage.
type Func func(ctx context.Context, view pipeline.View) pipeline.StageResult

// FuncStage wraps a Go function, for deterministic tool stages and
// synthesis steps that need no model call.
type FuncStage struct {
	name      string
	outputKey string
	inputs    []string
	feedback  []string
	fn        Func
}

// NewFunc creates a function stage. WithTimeout and WithCompletionOptions
// are ignored.
func NewFunc(name string, fn Func, opts ...Option) *FuncStage {
	s := newSettings(name, opts)
	return &FuncStage{
		name:      name,
		outputKey: s.outputKey,
		inputs:    s.inputs,
		feedback:  s.feedback,
		fn:        fn,
	}
}

func (f *FuncStage) Name() string           { return f.name }
func (f *FuncStage) OutputKey() string      { return f.outputKey }
func (f *FuncStage) InputKeys() []string    { return append([]string(nil), f.inputs...) }
func (f *FuncStage) FeedbackKeys() []string { return append([]string(nil), f.feedback...) }

func (f *FuncStage) Run(ctx context.Context, view pipeline.View) pipeline.StageResult {
	if ctx.Err() != nil {
		return pipeline.Failed("cancelled", false)
	}
	return f.fn(ctx, view)
}

// Value adapts a function returning a value or error. Errors are
// non-retriable.
func Value[T any](fn func(ctx context.Context, view pipeline.View) (T, error)) Func {
	return func(ctx context.Context, view pipeline.View) pipeline.StageResult {
		v, err := fn(ctx, view)
		if err != nil {
			return pipeline.FailedWith(err, false)
		}
		return pipeline.Completed(v)
	}
}

var _ pipeline.FeedbackStage = (*FuncStage)(nil)
