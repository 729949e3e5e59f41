package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/fyrsmithlabs/codereview/internal/pipeline"

var (
	stageExecutions metric.Int64Counter
	stageDuration   metric.Float64Histogram
	loopIterations  metric.Int64Histogram
	runCounter      metric.Int64Counter
)

func initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error
	stageExecutions, err = meter.Int64Counter(
		"codereview.pipeline.stage.executions",
		metric.WithDescription("Stage invocations by stage and status"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create stage execution counter: %v", err))
	}

	stageDuration, err = meter.Float64Histogram(
		"codereview.pipeline.stage.duration",
		metric.WithDescription("Wall-clock duration of stage invocations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create stage duration histogram: %v", err))
	}

	loopIterations, err = meter.Int64Histogram(
		"codereview.pipeline.loop.iterations",
		metric.WithDescription("Iterations run per loop execution"),
		metric.WithUnit("{iteration}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create loop iteration histogram: %v", err))
	}

	runCounter, err = meter.Int64Counter(
		"codereview.pipeline.runs",
		metric.WithDescription("Pipeline runs by pipeline and status"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create run counter: %v", err))
	}
}

func init() {
	initMetrics()
}

func recordStageMetrics(ctx context.Context, stage string, res StageResult, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("status", string(res.Status)),
		attribute.Bool("retriable", res.Retriable),
	)
	stageExecutions.Add(ctx, 1, attrs)
	stageDuration.Record(ctx, elapsed.Seconds(), attrs)
}

func recordLoopMetrics(ctx context.Context, loop string, record *LoopRecord) {
	loopIterations.Record(ctx, int64(record.Attempts()), metric.WithAttributes(
		attribute.String("loop", loop),
		attribute.String("status", string(record.Status.Kind)),
	))
}

func recordRunMetrics(ctx context.Context, pipeline string, status Status) {
	runCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pipeline", pipeline),
		attribute.String("status", string(status.Kind)),
	))
}

// runState is the bookkeeping shared by all nodes of one run.
type runState struct {
	runID      string
	tracer     trace.Tracer
	loops      map[string]*LoopRecord
	iterations []*IterationRecord
}

func newRunState(runID string, tracer trace.Tracer) *runState {
	return &runState{
		runID:  runID,
		tracer: tracer,
		loops:  make(map[string]*LoopRecord),
	}
}

func (rs *runState) pushIteration(it *IterationRecord) {
	rs.iterations = append(rs.iterations, it)
}

func (rs *runState) popIteration() {
	rs.iterations = rs.iterations[:len(rs.iterations)-1]
}

// recordStage attaches a stage result to the innermost running iteration.
func (rs *runState) recordStage(stage string, res StageResult) {
	if n := len(rs.iterations); n > 0 {
		rs.iterations[n-1].record(stage, res)
	}
}
