package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codereview/internal/logging"
)

// Composer validates node trees and turns them into runnable pipelines.
type Composer struct {
	seedKeys       []string
	tracerProvider trace.TracerProvider
}

// Option configures a Composer.
type Option func(*Composer)

// WithSeedKeys declares keys the caller provides before the run starts.
func WithSeedKeys(keys ...string) Option {
	return func(c *Composer) {
		c.seedKeys = append(c.seedKeys, keys...)
	}
}

// WithTracerProvider sets the provider used for pipeline spans. Defaults to
// the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Composer) {
		c.tracerProvider = tp
	}
}

// NewComposer creates a composer.
func NewComposer(opts ...Option) *Composer {
	c := &Composer{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compose wraps nodes in a root Sequential named name and validates the
// whole tree. All wiring errors are reported here, wrapped in
// ErrConstruction, before any stage can run.
func (c *Composer) Compose(name string, nodes ...Node) (*Pipeline, error) {
	root := NewSequential(name, nodes...)

	v := newValidator(c.seedKeys)
	if err := v.node(root); err != nil {
		return nil, err
	}

	tp := c.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	return &Pipeline{
		root:     root,
		seedKeys: append([]string(nil), c.seedKeys...),
		produces: v.produced,
		tracer:   tp.Tracer(instrumentationName),
	}, nil
}

// MustCompose is Compose for statically wired pipelines. It panics on error.
func (c *Composer) MustCompose(name string, nodes ...Node) *Pipeline {
	p, err := c.Compose(name, nodes...)
	if err != nil {
		panic(err)
	}
	return p
}

type loopScope struct {
	name     string
	produced map[string]bool
	feedback []feedbackRef
}

type feedbackRef struct {
	stage string
	key   string
}

type validator struct {
	available map[string]bool
	owners    map[string]string
	names     map[string]bool
	produced  []string
	loops     []*loopScope
}

func newValidator(seed []string) *validator {
	v := &validator{
		available: make(map[string]bool),
		owners:    make(map[string]string),
		names:     make(map[string]bool),
	}
	for _, k := range seed {
		v.available[k] = true
		v.owners[k] = "seed"
	}
	return v
}

func (v *validator) node(n Node) error {
	if n == nil {
		return constructionErr("<nil>", "nil node")
	}
	name := n.Name()
	if name == "" {
		return constructionErr("<unnamed>", "node name cannot be empty")
	}
	if v.names[name] {
		return constructionErr(name, "%w: node name %q used twice", ErrDuplicateKey, name)
	}
	v.names[name] = true

	switch t := n.(type) {
	case *StageNode:
		return v.stage(t)
	case *Sequential:
		if len(t.children) == 0 {
			return constructionErr(name, "sequential pipeline has no children")
		}
		for _, child := range t.children {
			if err := v.node(child); err != nil {
				return err
			}
		}
		return nil
	case *Loop:
		return v.loop(t)
	default:
		return constructionErr(name, "unknown node type %T", n)
	}
}

func (v *validator) stage(sn *StageNode) error {
	if sn.stage == nil {
		return constructionErr("<nil>", "stage node wraps a nil stage")
	}
	name := sn.Name()
	for _, in := range sn.stage.InputKeys() {
		if !v.available[in] {
			return constructionErr(name, "%w: input %q is not produced by an earlier node",
				ErrUnsatisfiedDependency, in)
		}
	}
	if fs, ok := sn.stage.(FeedbackStage); ok {
		for _, key := range fs.FeedbackKeys() {
			if len(v.loops) == 0 {
				return constructionErr(name, "%w: feedback key %q read outside a loop",
					ErrUnsatisfiedDependency, key)
			}
			inner := v.loops[len(v.loops)-1]
			inner.feedback = append(inner.feedback, feedbackRef{stage: name, key: key})
		}
	}
	return v.produce(name, sn.stage.OutputKey())
}

func (v *validator) loop(l *Loop) error {
	if l.cfg.MaxIterations < 1 {
		return constructionErr(l.name, "max iterations must be at least 1, got %d", l.cfg.MaxIterations)
	}
	if len(l.children) == 0 {
		return constructionErr(l.name, "loop has no children")
	}
	if _, ok := l.exitStage(); !ok {
		return constructionErr(l.name, "exit stage %q is not a direct child stage", l.cfg.ExitStage)
	}

	ls := &loopScope{name: l.name, produced: make(map[string]bool)}
	v.loops = append(v.loops, ls)
	for _, child := range l.children {
		if err := v.node(child); err != nil {
			return err
		}
	}
	v.loops = v.loops[:len(v.loops)-1]

	for _, fb := range ls.feedback {
		if !ls.produced[fb.key] {
			return constructionErr(fb.stage, "%w: feedback key %q is not produced inside loop %s",
				ErrUnsatisfiedDependency, fb.key, l.name)
		}
	}
	return v.produce(l.name, l.name)
}

func (v *validator) produce(node, key string) error {
	if key == "" {
		return constructionErr(node, "output key cannot be empty")
	}
	if owner, ok := v.owners[key]; ok {
		return constructionErr(node, "%w: key %q already written by %s", ErrDuplicateKey, key, owner)
	}
	v.owners[key] = node
	v.available[key] = true
	v.produced = append(v.produced, key)
	for _, ls := range v.loops {
		ls.produced[key] = true
	}
	return nil
}

// Pipeline is a validated, immutable node tree.
type Pipeline struct {
	root     *Sequential
	seedKeys []string
	produces []string
	tracer   trace.Tracer
}

// Name returns the root node's name.
func (p *Pipeline) Name() string { return p.root.name }

// Root returns the root node.
func (p *Pipeline) Root() Node { return p.root }

// SeedKeys returns the keys the caller must provide.
func (p *Pipeline) SeedKeys() []string { return append([]string(nil), p.seedKeys...) }

// Produces returns every key the pipeline may write, in tree order.
func (p *Pipeline) Produces() []string { return append([]string(nil), p.produces...) }

// RunOption configures a single run.
type RunOption func(*runOptions)

type runOptions struct {
	runID string
}

// WithRunID sets the run identifier. By default the run id already on the
// context is reused, or a new one is generated.
func WithRunID(id string) RunOption {
	return func(o *runOptions) {
		o.runID = id
	}
}

// Run executes the pipeline against a fresh context built from seed.
func (p *Pipeline) Run(ctx context.Context, seed map[string]any, opts ...RunOption) RunOutcome {
	ec, err := NewSeededContext(seed)
	if err != nil {
		return RunOutcome{
			Pipeline:  p.Name(),
			Context:   NewExecutionContext(),
			Status:    Aborted(p.Name(), "invalid seed"),
			Err:       &ConstructionError{Node: p.Name(), Err: err},
			StartedAt: time.Now(),
		}
	}
	return p.Continue(ctx, ec, opts...)
}

// Continue executes the pipeline against an existing context, for example
// one already filled by an earlier pipeline of the same run.
func (p *Pipeline) Continue(ctx context.Context, ec *ExecutionContext, opts ...RunOption) RunOutcome {
	o := runOptions{runID: logging.RunIDFromContext(ctx)}
	for _, opt := range opts {
		opt(&o)
	}
	if o.runID == "" {
		o.runID = uuid.NewString()
	}

	res := RunOutcome{
		RunID:     o.runID,
		Pipeline:  p.Name(),
		Context:   ec,
		StartedAt: time.Now(),
	}
	if err := p.checkContext(ec); err != nil {
		res.Status = Aborted(p.Name(), "context does not match pipeline wiring")
		res.Err = err
		return res
	}

	if logging.RunIDFromContext(ctx) != o.runID {
		ctx = logging.WithRunID(ctx, o.runID)
	}
	logger := logging.FromContext(ctx).With(zap.String("pipeline", p.Name()))
	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("pipeline.name", p.Name()),
		attribute.String("run.id", o.runID),
	))
	defer span.End()

	logger.Info(ctx, "pipeline started", zap.Int("seed_keys", ec.Len()))

	rs := newRunState(o.runID, p.tracer)
	out := p.root.run(ctx, ec, rs)

	res.Status = out.status
	res.Err = out.err
	res.Loops = rs.loops
	res.Duration = time.Since(res.StartedAt)

	span.SetAttributes(attribute.String("pipeline.status", string(out.status.Kind)))
	if out.err != nil {
		span.SetStatus(codes.Error, out.err.Error())
	}
	recordRunMetrics(ctx, p.Name(), out.status)

	fields := []zap.Field{
		zap.String("status", out.status.String()),
		zap.Duration("duration", res.Duration),
		zap.Int("keys", ec.Len()),
	}
	switch {
	case out.status.IsSuccess():
		logger.Info(ctx, "pipeline finished", fields...)
	case out.status.IsAborted():
		logger.Error(ctx, "pipeline aborted", append(fields, zap.Error(out.err))...)
	default:
		logger.Warn(ctx, "pipeline finished with partial failure", append(fields, zap.Error(out.err))...)
	}
	return res
}

func (p *Pipeline) checkContext(ec *ExecutionContext) error {
	if ec == nil {
		return &ConstructionError{Node: p.Name(), Err: fmt.Errorf("%w: nil execution context", ErrUnsatisfiedDependency)}
	}
	for _, k := range p.seedKeys {
		if !ec.Has(k) {
			return &ConstructionError{Node: p.Name(), Err: fmt.Errorf("%w: seed key %q not provided", ErrUnsatisfiedDependency, k)}
		}
	}
	for _, k := range p.produces {
		if ec.Has(k) {
			return &ConstructionError{Node: p.Name(), Err: fmt.Errorf("%w: context already holds %q", ErrDuplicateKey, k)}
		}
	}
	return nil
}
