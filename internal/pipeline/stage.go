package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codereview/internal/logging"
)

// Stage is the atomic unit of pipeline work.
type Stage interface {
	// Name identifies the stage in logs, records and failure statuses.
	Name() string

	// OutputKey is the single context key the stage's value is written to.
	OutputKey() string

	// InputKeys are keys the stage reads. Each must be produced by an
	// earlier node or be a seed key; the Composer checks this.
	InputKeys() []string

	// Run performs the work against a frozen view of the context. It must
	// not retry on its own; retries belong to an enclosing Loop.
	Run(ctx context.Context, view View) StageResult
}

// FeedbackStage is a Stage that also reads keys produced later in its
// enclosing loop, as written by the previous iteration. On the first
// iteration those keys are absent and the stage must handle that.
type FeedbackStage interface {
	Stage
	FeedbackKeys() []string
}

// NodeKind tags the Node variant.
type NodeKind string

const (
	KindStage      NodeKind = "stage"
	KindSequential NodeKind = "sequential"
	KindLoop       NodeKind = "loop"
)

// Node is one element of a pipeline tree: a *StageNode, *Sequential or
// *Loop. The set is closed.
type Node interface {
	Name() string
	Kind() NodeKind
	run(ctx context.Context, sc scope, rs *runState) outcome
}

// StageNode places a Stage in a pipeline tree.
type StageNode struct {
	stage Stage
}

// Step wraps a stage as a node.
func Step(s Stage) *StageNode {
	return &StageNode{stage: s}
}

func (n *StageNode) Name() string   { return n.stage.Name() }
func (n *StageNode) Kind() NodeKind { return KindStage }
func (n *StageNode) Stage() Stage   { return n.stage }

func (n *StageNode) run(ctx context.Context, sc scope, rs *runState) outcome {
	name := n.stage.Name()
	if err := ctx.Err(); err != nil {
		return cancelledOutcome(name, err)
	}

	logger := logging.FromContext(ctx).With(zap.String("stage", name))
	ctx, span := rs.tracer.Start(ctx, "pipeline.stage", trace.WithAttributes(
		attribute.String("stage.name", name),
		attribute.String("stage.output_key", n.stage.OutputKey()),
	))
	defer span.End()

	logger.Debug(ctx, "stage started")
	start := time.Now()
	res := n.stage.Run(ctx, sc.snapshot())
	elapsed := time.Since(start)

	rs.recordStage(name, res)
	recordStageMetrics(ctx, name, res, elapsed)
	span.SetAttributes(attribute.String("stage.status", string(res.Status)))

	if res.IsCompleted() {
		if err := sc.write(n.stage.OutputKey(), res.Value); err != nil {
			span.SetStatus(codes.Error, err.Error())
			logger.Error(ctx, "stage output rejected", zap.Error(err))
			return abortOutcome(name, "output write rejected", err)
		}
		logger.Debug(ctx, "stage completed", zap.Duration("duration", elapsed))
		return succeeded()
	}

	span.SetStatus(codes.Error, res.Reason)
	if err := ctx.Err(); err != nil {
		logger.Warn(ctx, "stage cancelled", zap.Duration("duration", elapsed))
		return cancelledOutcome(name, err)
	}

	logger.Warn(ctx, "stage failed",
		zap.String("reason", res.Reason),
		zap.Bool("retriable", res.Retriable),
		zap.Duration("duration", elapsed))
	return outcome{
		status:    PartialFailure(name),
		err:       &StageError{Stage: name, Reason: res.Reason, Retriable: res.Retriable, Err: res.Err},
		retriable: res.Retriable,
	}
}
