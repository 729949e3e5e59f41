package review

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/fyrsmithlabs/codereview/internal/completion"
	"github.com/fyrsmithlabs/codereview/internal/pipeline"
	"github.com/fyrsmithlabs/codereview/internal/secrets"
	"github.com/fyrsmithlabs/codereview/internal/stages"
)

// Pipeline names.
const (
	ReviewPipelineName = "code_review"
	FixPipelineName    = "code_fix"
)

// DefaultMaxFixIterations caps fix attempts when Options leaves it unset.
const DefaultMaxFixIterations = 3

// Options configures the review and fix pipelines.
type Options struct {
	MaxFixIterations int
	StageTimeout     time.Duration
	TracerProvider   trace.TracerProvider
	Metrics          *Metrics

	// Scrubber redacts secrets from code before review. Nil disables it.
	Scrubber *secrets.Scrubber
}

func (o Options) composer(seed ...string) *pipeline.Composer {
	opts := []pipeline.Option{pipeline.WithSeedKeys(seed...)}
	if o.TracerProvider != nil {
		opts = append(opts, pipeline.WithTracerProvider(o.TracerProvider))
	}
	return pipeline.NewComposer(opts...)
}

// NewReviewPipeline wires measure, analyze, style, tests and feedback. The
// caller seeds KeyCode.
func NewReviewPipeline(client completion.Client, opts Options) (*pipeline.Pipeline, error) {
	timeout := stages.WithTimeout(opts.StageTimeout)

	return opts.composer(KeyCode).Compose(ReviewPipelineName,
		pipeline.Step(stages.NewFunc(StageMetrics, stages.Value(measureStage),
			stages.WithInputs(KeyCode),
			stages.WithOutputKey(KeyMetrics))),
		pipeline.Step(stages.NewPrompt(StageAnalyzer, client, analyzerPrompt, stages.JSON[Analysis](),
			stages.WithInputs(KeyCode, KeyMetrics),
			stages.WithOutputKey(KeyAnalysis),
			timeout)),
		pipeline.Step(stages.NewPrompt(StageStyle, client, stylePrompt, stages.JSON[StyleReport](),
			stages.WithInputs(KeyCode),
			stages.WithOutputKey(KeyStyle),
			timeout)),
		pipeline.Step(stages.NewPrompt(StageTests, client, testsPrompt, stages.JSON[TestReport](),
			stages.WithInputs(KeyCode, KeyAnalysis),
			stages.WithOutputKey(KeyTests),
			timeout)),
		pipeline.Step(stages.NewPrompt(StageFeedback, client, feedbackPrompt, stages.Text(),
			stages.WithInputs(KeyAnalysis, KeyStyle, KeyTests),
			stages.WithOutputKey(KeyFeedback),
			timeout)),
	)
}

// NewFixPipeline wires the fix loop and its synthesizer. It runs on the
// context a review pipeline filled.
func NewFixPipeline(client completion.Client, opts Options) (*pipeline.Pipeline, error) {
	maxIterations := opts.MaxFixIterations
	if maxIterations == 0 {
		maxIterations = DefaultMaxFixIterations
	}
	if maxIterations < 0 {
		return nil, fmt.Errorf("max fix iterations must be positive, got %d", maxIterations)
	}
	timeout := stages.WithTimeout(opts.StageTimeout)

	attempts := pipeline.NewLoop(KeyFixAttempts, pipeline.LoopConfig{
		MaxIterations: maxIterations,
		ExitStage:     StageFixValidator,
	},
		pipeline.Step(stages.NewPrompt(StageFixer, client, fixerPrompt, stages.JSON[Fix](),
			stages.WithInputs(KeyCode, KeyAnalysis, KeyStyle, KeyTests),
			stages.WithFeedback(KeyFix, KeyFixValidation),
			stages.WithOutputKey(KeyFix),
			timeout)),
		pipeline.Step(stages.NewPrompt(StageFixTests, client, fixTestsPrompt, stages.JSON[TestReport](),
			stages.WithInputs(KeyFix, KeyTests),
			stages.WithOutputKey(KeyFixTests),
			timeout)),
		pipeline.Step(stages.NewPrompt(StageFixValidator, client, fixValidatorPrompt, stages.JSON[FixValidation](),
			stages.WithInputs(KeyFix, KeyAnalysis, KeyFixTests),
			stages.WithOutputKey(KeyFixValidation),
			timeout)),
	)

	return opts.composer(KeyCode, KeyAnalysis, KeyStyle, KeyTests).Compose(FixPipelineName,
		attempts,
		pipeline.Step(stages.NewPrompt(StageFixReport, client, fixReportPrompt, stages.Text(),
			stages.WithInputs(KeyFixAttempts, KeyCode),
			stages.WithOutputKey(KeyFixReport),
			timeout)),
	)
}
