package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/codereview/internal/config"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAI calls an OpenAI-compatible chat endpoint through langchaingo.
type OpenAI struct {
	llm       llms.Model
	maxTokens int
	timeout   time.Duration
	limiter   *rate.Limiter
}

// NewOpenAI builds a client from the completion settings.
func NewOpenAI(cfg config.CompletionConfig) (*OpenAI, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("openai API key required")
	}

	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey.Value()),
		openai.WithModel(model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}
	return newOpenAIWithModel(client, cfg), nil
}

func newOpenAIWithModel(m llms.Model, cfg config.CompletionConfig) *OpenAI {
	return &OpenAI{
		llm:       m,
		maxTokens: cfg.MaxOutputLength,
		timeout:   cfg.Timeout.Duration(),
		limiter:   newLimiter(cfg),
	}
}

// Complete sends a system and a user message.
func (o *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	if err := wait(ctx, o.limiter); err != nil {
		return "", err
	}

	callCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	var messages []llms.MessageContent
	if req.System != "" {
		messages = append(messages, llms.MessageContent{
			Role:  schema.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextContent{Text: req.System}},
		})
	}
	messages = append(messages, llms.MessageContent{
		Role:  schema.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextContent{Text: req.Prompt}},
	})

	maxTokens := req.Options.MaxOutputLength
	if maxTokens <= 0 {
		maxTokens = o.maxTokens
	}
	callOpts := []llms.CallOption{llms.WithTemperature(req.Options.Temperature)}
	if maxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(maxTokens))
	}

	resp, err := o.llm.GenerateContent(callCtx, messages, callOpts...)
	if err != nil {
		if ctxErr := callCtx.Err(); ctxErr != nil && ctx.Err() == nil {
			return "", fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return "", translateError(ctx, err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return "", fmt.Errorf("%w: no choices", ErrInvalidResponse)
	}
	text := resp.Choices[0].Content
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: empty content", ErrInvalidResponse)
	}
	return text, nil
}

// translateError classifies langchaingo errors, which only expose status
// through their message.
func translateError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return contextError(ctxErr)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case strings.Contains(msg, "status code: 5") || strings.Contains(msg, "connection") ||
		strings.Contains(msg, "network") || strings.Contains(msg, "eof"):
		return fmt.Errorf("%w: %v", ErrTransport, err)
	default:
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
}

var _ Client = (*OpenAI)(nil)
