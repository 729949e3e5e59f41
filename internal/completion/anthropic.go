package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/codereview/internal/config"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicModel   = "claude-sonnet-4-5"
	anthropicVersion        = "2023-06-01"

	// maxResponseBytes bounds how much of a reply body is read.
	maxResponseBytes = 4 << 20
)

// Anthropic calls the Messages API.
type Anthropic struct {
	model      string
	apiKey     config.Secret
	baseURL    string
	maxTokens  int
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewAnthropic builds a client from the completion settings.
func NewAnthropic(cfg config.CompletionConfig) (*Anthropic, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("anthropic API key required")
	}

	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}

	return &Anthropic{
		model:      model,
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		maxTokens:  cfg.MaxOutputLength,
		httpClient: &http.Client{Timeout: cfg.Timeout.Duration()},
		limiter:    newLimiter(cfg),
	}, nil
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends one Messages request.
func (a *Anthropic) Complete(ctx context.Context, req Request) (string, error) {
	if err := wait(ctx, a.limiter); err != nil {
		return "", err
	}

	maxTokens := req.Options.MaxOutputLength
	if maxTokens <= 0 {
		maxTokens = a.maxTokens
	}

	body, err := json.Marshal(anthropicRequest{
		Model:       a.model,
		System:      req.System,
		MaxTokens:   maxTokens,
		Temperature: req.Options.Temperature,
		Messages:    []anthropicMessage{{Role: "user", Content: req.Prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", a.apiKey.Value())
	httpReq.Header.Set("Anthropic-Version", anthropicVersion)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return "", transportError(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", transportError(ctx, err)
	}

	if err := statusError(resp.StatusCode, data, func(b []byte) string {
		var e anthropicError
		if json.Unmarshal(b, &e) == nil {
			return e.Error.Message
		}
		return ""
	}); err != nil {
		return "", err
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "" || block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("%w: empty content", ErrInvalidResponse)
	}
	return text.String(), nil
}

// newLimiter returns nil when rate limiting is off.
func newLimiter(cfg config.CompletionConfig) *rate.Limiter {
	if cfg.RateLimit <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
}

// wait blocks on the limiter. A wait that cannot finish before the deadline
// counts as rate limited.
func wait(ctx context.Context, limiter *rate.Limiter) error {
	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return contextError(ctxErr)
		}
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return nil
}

// transportError classifies a failed round trip.
func transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return contextError(ctxErr)
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

// statusError maps a non-200 reply onto the taxonomy.
func statusError(code int, body []byte, message func([]byte) string) error {
	if code == http.StatusOK {
		return nil
	}
	msg := message(body)
	if msg == "" {
		msg = truncate(string(body), 512)
	}
	switch {
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w (429): %s", ErrRateLimited, msg)
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return fmt.Errorf("%w (%d): %s", ErrTimeout, code, msg)
	case code >= 500:
		return fmt.Errorf("%w: server error (%d): %s", ErrTransport, code, msg)
	default:
		return fmt.Errorf("%w (%d): %s", ErrRejected, code, msg)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ Client = (*Anthropic)(nil)
