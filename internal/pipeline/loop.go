package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codereview/internal/logging"
)

// ExitSignaler is implemented by exit-stage values that carry their own
// success flag.
type ExitSignaler interface {
	LoopExit() bool
}

// ExitCondition decides from the exit stage's value whether the loop is
// done. An error aborts the loop.
type ExitCondition func(value any) (bool, error)

// LoopConfig configures a Loop.
type LoopConfig struct {
	// MaxIterations caps the number of iterations. Must be at least 1.
	MaxIterations int

	// ExitStage names the direct child stage whose value is inspected after
	// each iteration.
	ExitStage string

	// ExitCondition overrides the ExitSignaler check.
	ExitCondition ExitCondition
}

// Loop re-runs its children until the exit stage signals success or
// MaxIterations is reached.
//
// Iteration k reads the enclosing scope, the latest values written by
// iterations 1..k-1, and what earlier siblings wrote during iteration k.
// The last part lets a check stage test the attempt made just before it in
// the same iteration.
// A retriable failure ends the iteration early and the next one starts from
// the first child; a non-retriable failure, or any failure of the exit
// stage itself, aborts the loop. When the loop ends, the latest value of
// every key its children wrote is copied to the enclosing scope, followed by
// the LoopRecord under the loop's name.
type Loop struct {
	name     string
	cfg      LoopConfig
	children []Node
}

// NewLoop creates a loop node.
func NewLoop(name string, cfg LoopConfig, children ...Node) *Loop {
	return &Loop{name: name, cfg: cfg, children: children}
}

func (l *Loop) Name() string       { return l.name }
func (l *Loop) Kind() NodeKind     { return KindLoop }
func (l *Loop) Children() []Node   { return append([]Node(nil), l.children...) }
func (l *Loop) Config() LoopConfig { return l.cfg }

func (l *Loop) exitStage() (*StageNode, bool) {
	for _, child := range l.children {
		if sn, ok := child.(*StageNode); ok && sn.Name() == l.cfg.ExitStage {
			return sn, true
		}
	}
	return nil, false
}

func (l *Loop) run(ctx context.Context, sc scope, rs *runState) outcome {
	ctx, span := rs.tracer.Start(ctx, "pipeline.loop", trace.WithAttributes(
		attribute.String("loop.name", l.name),
		attribute.Int("loop.max_iterations", l.cfg.MaxIterations),
	))
	defer span.End()

	record := &LoopRecord{Name: l.name, MaxIterations: l.cfg.MaxIterations}
	rs.loops[l.name] = record
	carried := newCarryover()

	out := l.iterate(ctx, sc, rs, record, carried)
	record.Status = out.status

	if err := l.finish(sc, record, carried); err != nil && !out.status.IsAborted() {
		out = abortOutcome(l.name, "loop results rejected", err)
		record.Status = out.status
	}

	span.SetAttributes(
		attribute.Int("loop.iterations", record.Attempts()),
		attribute.String("loop.status", string(out.status.Kind)),
	)
	recordLoopMetrics(ctx, l.name, record)
	return out
}

func (l *Loop) iterate(ctx context.Context, sc scope, rs *runState, record *LoopRecord, carried *carryover) outcome {
	logger := logging.FromContext(ctx).With(zap.String("loop", l.name))
	exitNode, _ := l.exitStage()

	for i := 1; i <= l.cfg.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return cancelledOutcome(l.name, err)
		}

		iter := IterationRecord{Index: i}
		isc := newIterationScope(sc, carried)
		ictx, ispan := rs.tracer.Start(ctx, "pipeline.loop.iteration", trace.WithAttributes(
			attribute.String("loop.name", l.name),
			attribute.Int("loop.iteration", i),
		))

		rs.pushIteration(&iter)
		abort, retry := l.runIteration(ictx, isc, rs, exitNode)
		rs.popIteration()

		carried.merge(isc.local)
		iter.Transcript = isc.local.Transcript()

		if abort == nil && !retry {
			fired, err := l.exitFired(isc, exitNode)
			if err != nil {
				o := abortOutcome(exitNode.Name(), "exit condition unreadable", err)
				abort = &o
			}
			iter.ExitFired = fired
		}

		record.Iterations = append(record.Iterations, iter)
		ispan.SetAttributes(attribute.Bool("loop.exit_fired", iter.ExitFired))
		ispan.End()

		if abort != nil {
			logger.Warn(ctx, "loop aborted",
				zap.Int("iteration", i),
				zap.String("reason", abort.status.Reason),
				zap.Error(abort.err))
			return *abort
		}
		if iter.ExitFired {
			logger.Info(ctx, "loop exit condition met", zap.Int("iteration", i))
			return succeeded()
		}
		logger.Info(ctx, "loop iteration did not succeed",
			zap.Int("iteration", i),
			zap.Int("max_iterations", l.cfg.MaxIterations),
			zap.Bool("retried_failure", retry))
	}

	return outcome{
		status: PartialFailure(l.name),
		err:    fmt.Errorf("%w: %s did not succeed after %d iterations", ErrLoopExhausted, l.name, l.cfg.MaxIterations),
	}
}

// runIteration runs every child once. It returns a non-nil outcome when the
// loop must abort, or retry=true when a retriable failure cut the iteration
// short.
func (l *Loop) runIteration(ctx context.Context, isc *iterationScope, rs *runState, exitNode *StageNode) (abort *outcome, retry bool) {
	logger := logging.FromContext(ctx)
	for _, child := range l.children {
		if err := ctx.Err(); err != nil {
			o := cancelledOutcome(child.Name(), err)
			return &o, false
		}

		out := child.run(ctx, isc, rs)
		switch {
		case out.ok():
			continue
		case out.status.IsAborted():
			return &out, false
		case errors.Is(out.err, ErrLoopExhausted):
			continue
		case child == Node(exitNode):
			o := abortOutcome(child.Name(), "exit condition stage failed", out.err)
			return &o, false
		case out.retriable:
			logger.Info(ctx, "retriable failure ends iteration",
				zap.String("loop", l.name),
				zap.String("at", out.status.At),
				zap.Error(out.err))
			return nil, true
		default:
			o := abortOutcome(out.status.At, "non-retriable stage failure", out.err)
			return &o, false
		}
	}
	return nil, false
}

func (l *Loop) exitFired(isc *iterationScope, exitNode *StageNode) (bool, error) {
	raw, err := isc.local.Read(exitNode.Stage().OutputKey())
	if err != nil {
		return false, err
	}
	if l.cfg.ExitCondition != nil {
		return l.cfg.ExitCondition(raw)
	}
	sig, ok := raw.(ExitSignaler)
	if !ok {
		return false, fmt.Errorf("%w: exit stage %s produced %T without an exit signal",
			ErrTypeMismatch, exitNode.Name(), raw)
	}
	return sig.LoopExit(), nil
}

// finish promotes the latest iteration values and the record into the
// enclosing scope.
func (l *Loop) finish(sc scope, record *LoopRecord, carried *carryover) error {
	var errs []error
	for _, e := range carried.entries() {
		if err := sc.write(e.Key, e.Value); err != nil {
			errs = append(errs, err)
		}
	}
	if err := sc.write(l.name, record); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
