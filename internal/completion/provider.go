package completion

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codereview/internal/config"
	"github.com/fyrsmithlabs/codereview/internal/logging"
)

// New builds the configured provider. The scripted provider has no network
// side and needs a script from the caller, so it is rejected here.
func New(cfg config.CompletionConfig) (Client, error) {
	switch cfg.Provider {
	case config.ProviderAnthropic, "":
		return NewAnthropic(cfg)
	case config.ProviderOpenAI:
		return NewOpenAI(cfg)
	case config.ProviderScripted:
		return nil, fmt.Errorf("scripted provider must be supplied by the caller")
	default:
		return nil, fmt.Errorf("unsupported completion provider %q", cfg.Provider)
	}
}

const instrumentationName = "github.com/fyrsmithlabs/codereview/internal/completion"

// Instrumented wraps a Client with a span and a debug log per call.
type Instrumented struct {
	next     Client
	provider string
	model    string
	tracer   trace.Tracer
}

// Instrument wraps c. provider and model are recorded as span attributes.
func Instrument(c Client, provider, model string, tp trace.TracerProvider) *Instrumented {
	return &Instrumented{
		next:     c,
		provider: provider,
		model:    model,
		tracer:   tp.Tracer(instrumentationName),
	}
}

func (i *Instrumented) Complete(ctx context.Context, req Request) (string, error) {
	ctx, span := i.tracer.Start(ctx, "completion.complete", trace.WithAttributes(
		attribute.String("completion.provider", i.provider),
		attribute.String("completion.model", i.model),
		attribute.String("completion.role", req.Role),
		attribute.Int("completion.prompt_length", len(req.Prompt)),
	))
	defer span.End()

	logger := logging.FromContext(ctx).With(
		zap.String("provider", i.provider),
		zap.String("role", req.Role),
	)

	start := time.Now()
	text, err := i.next.Complete(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Debug(ctx, "completion failed",
			zap.Duration("duration", elapsed),
			zap.Bool("retriable", IsRetriable(err)),
			zap.Error(err))
		return "", err
	}

	span.SetAttributes(attribute.Int("completion.reply_length", len(text)))
	logger.Debug(ctx, "completion finished",
		zap.Duration("duration", elapsed),
		zap.Int("reply_length", len(text)))
	return text, nil
}

var _ Client = (*Instrumented)(nil)
