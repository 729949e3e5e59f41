package pipeline

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codereview/internal/logging"
)

// Sequential runs its children once, in declaration order.
//
// A failed child stops the sequence; later children never run because they
// may depend on the missing output. Retriable failures stop it too and are
// passed up unchanged for an enclosing Loop to retry. An exhausted Loop child
// does not stop the sequence, so a following synthesis stage can report on
// it; the sequence then ends with that loop's partial failure.
type Sequential struct {
	name     string
	children []Node
}

// NewSequential creates a sequential node.
func NewSequential(name string, children ...Node) *Sequential {
	return &Sequential{name: name, children: children}
}

func (s *Sequential) Name() string     { return s.name }
func (s *Sequential) Kind() NodeKind   { return KindSequential }
func (s *Sequential) Children() []Node { return append([]Node(nil), s.children...) }

func (s *Sequential) run(ctx context.Context, sc scope, rs *runState) outcome {
	ctx, span := rs.tracer.Start(ctx, "pipeline.sequential", trace.WithAttributes(
		attribute.String("pipeline.name", s.name),
		attribute.Int("pipeline.children", len(s.children)),
	))
	defer span.End()

	logger := logging.FromContext(ctx)
	var exhausted *outcome

	for _, child := range s.children {
		if err := ctx.Err(); err != nil {
			return cancelledOutcome(child.Name(), err)
		}

		out := child.run(ctx, sc, rs)
		switch {
		case out.ok():
			continue
		case out.status.IsAborted():
			return out
		case errors.Is(out.err, ErrLoopExhausted):
			logger.Info(ctx, "continuing after exhausted loop",
				zap.String("pipeline", s.name),
				zap.String("loop", child.Name()))
			o := out
			exhausted = &o
		default:
			span.SetAttributes(attribute.String("pipeline.stopped_at", out.status.At))
			return out
		}
	}

	if exhausted != nil {
		return *exhausted
	}
	return succeeded()
}
