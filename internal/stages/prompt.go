// Package stages provides the concrete pipeline.Stage variants: prompt
// stages that call the completion collaborator and parse its reply, and
// function stages for deterministic tools.
package stages

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/codereview/internal/completion"
	"github.com/fyrsmithlabs/codereview/internal/pipeline"
)

// Prompt is what a stage sends to the model.
type Prompt struct {
	System  string
	User    string
	Options completion.Options
}

// PromptBuilder renders a prompt from the stage's view of the context.
type PromptBuilder func(view pipeline.View) (Prompt, error)

// Parser turns a raw reply into the stage's structured value.
type Parser func(raw string) (any, error)

// ErrUnparseable marks model output a Parser rejected.
var ErrUnparseable = errors.New("unparseable model output")

// PromptStage is the invoke-and-parse stage: build a prompt, call the
// completion client once, parse the reply.
type PromptStage struct {
	name      string
	outputKey string
	inputs    []string
	feedback  []string
	timeout   time.Duration
	options   *completion.Options

	client completion.Client
	build  PromptBuilder
	parse  Parser
}

// Option configures a PromptStage or FuncStage.
type Option func(*settings)

type settings struct {
	outputKey string
	inputs    []string
	feedback  []string
	timeout   time.Duration
	options   *completion.Options
}

// WithOutputKey sets the context key the stage writes. Defaults to the
// stage name.
func WithOutputKey(key string) Option {
	return func(s *settings) { s.outputKey = key }
}

// WithInputs declares keys the stage reads.
func WithInputs(keys ...string) Option {
	return func(s *settings) { s.inputs = append(s.inputs, keys...) }
}

// WithFeedback declares keys read from the previous loop iteration.
func WithFeedback(keys ...string) Option {
	return func(s *settings) { s.feedback = append(s.feedback, keys...) }
}

// WithTimeout bounds the completion call. Zero means no stage timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// WithCompletionOptions overrides the options the prompt builder set.
func WithCompletionOptions(o completion.Options) Option {
	return func(s *settings) { s.options = &o }
}

func newSettings(name string, opts []Option) settings {
	s := settings{outputKey: name}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// NewPrompt creates a prompt stage.
func NewPrompt(name string, client completion.Client, build PromptBuilder, parse Parser, opts ...Option) *PromptStage {
	s := newSettings(name, opts)
	return &PromptStage{
		name:      name,
		outputKey: s.outputKey,
		inputs:    s.inputs,
		feedback:  s.feedback,
		timeout:   s.timeout,
		options:   s.options,
		client:    client,
		build:     build,
		parse:     parse,
	}
}

func (p *PromptStage) Name() string           { return p.name }
func (p *PromptStage) OutputKey() string      { return p.outputKey }
func (p *PromptStage) InputKeys() []string    { return append([]string(nil), p.inputs...) }
func (p *PromptStage) FeedbackKeys() []string { return append([]string(nil), p.feedback...) }

// Run calls the model once. Transient completion failures are retriable;
// build errors, invalid replies and parse failures are not.
func (p *PromptStage) Run(ctx context.Context, view pipeline.View) pipeline.StageResult {
	if ctx.Err() != nil {
		return pipeline.Failed("cancelled", false)
	}

	prompt, err := p.build(view)
	if err != nil {
		return pipeline.FailedWith(fmt.Errorf("build prompt: %w", err), false)
	}
	if p.options != nil {
		prompt.Options = *p.options
	}

	callCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	raw, err := p.client.Complete(callCtx, completion.Request{
		Role:    p.name,
		System:  prompt.System,
		Prompt:  prompt.User,
		Options: prompt.Options,
	})
	if err != nil {
		if ctx.Err() != nil {
			return pipeline.StageResult{
				Status: pipeline.StageFailed,
				Reason: "cancelled",
				Err:    err,
			}
		}
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, completion.ErrTimeout) {
			err = fmt.Errorf("%w: %v", completion.ErrTimeout, err)
		}
		return pipeline.FailedWith(err, completion.IsRetriable(err))
	}

	value, err := p.parse(raw)
	if err != nil {
		return pipeline.FailedWith(fmt.Errorf("%w: %v", ErrUnparseable, err), false)
	}
	return pipeline.Completed(value)
}

var _ pipeline.FeedbackStage = (*PromptStage)(nil)
