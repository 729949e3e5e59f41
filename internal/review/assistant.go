// Package review is the code-review assistant: a review pipeline that
// analyzes code, and a fix pipeline that runs on the same execution context
// when the review's findings warrant it.
package review

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codereview/internal/completion"
	"github.com/fyrsmithlabs/codereview/internal/logging"
	"github.com/fyrsmithlabs/codereview/internal/pipeline"
	"github.com/fyrsmithlabs/codereview/internal/secrets"
)

// Fix outcomes.
const (
	FixOutcomeFixed     = "fixed"
	FixOutcomeExhausted = "exhausted"
	FixOutcomeAborted   = "aborted"
)

// ErrNothingToReview is returned for empty input.
var ErrNothingToReview = errors.New("nothing to review")

const maxTargetLen = 4096

// Request is one piece of code to review.
type Request struct {
	// Target names the code, usually a file path.
	Target string
	Code   string

	// Fix runs the fix pipeline when the review warrants it.
	Fix bool
}

// Report is the result of one review.
type Report struct {
	Target     string            `json:"target"`
	RunID      string            `json:"run_id"`
	Status     string            `json:"status"`
	Error      string            `json:"error,omitempty"`
	Feedback   string            `json:"feedback,omitempty"`
	Metrics    *CodeMetrics      `json:"metrics,omitempty"`
	Analysis   *Analysis         `json:"analysis,omitempty"`
	Style      *StyleReport      `json:"style,omitempty"`
	Tests      *TestReport       `json:"tests,omitempty"`
	Secrets    []secrets.Finding `json:"redacted_secrets,omitempty"`
	NeedsFix   bool              `json:"needs_fix"`
	FixReasons []string          `json:"fix_reasons,omitempty"`
	Fix        *FixResult        `json:"fix,omitempty"`
	Duration   time.Duration     `json:"-"`
	Err        error             `json:"-"`
	Outcome    pipeline.Status   `json:"-"`
}

// FixResult summarizes a fix run.
type FixResult struct {
	Outcome     string         `json:"outcome"`
	Attempts    int            `json:"attempts"`
	MaxAttempts int            `json:"max_attempts"`
	Code        string         `json:"code,omitempty"`
	Changes     []string       `json:"changes,omitempty"`
	Validation  *FixValidation `json:"validation,omitempty"`
	Report      string         `json:"report,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// Succeeded reports whether the review pipeline completed.
func (r *Report) Succeeded() bool {
	return r.Err == nil && r.Status == string(pipeline.StatusSuccess)
}

// Assistant runs reviews and, on request, fixes.
type Assistant struct {
	review   *pipeline.Pipeline
	fix      *pipeline.Pipeline
	maxFix   int
	metrics  *Metrics
	scrubber *secrets.Scrubber
}

// New wires both pipelines around client. Wiring errors surface here,
// before any completion is requested.
func New(client completion.Client, opts Options) (*Assistant, error) {
	review, err := NewReviewPipeline(client, opts)
	if err != nil {
		return nil, err
	}
	fix, err := NewFixPipeline(client, opts)
	if err != nil {
		return nil, err
	}
	maxFix := opts.MaxFixIterations
	if maxFix == 0 {
		maxFix = DefaultMaxFixIterations
	}
	return &Assistant{
		review:   review,
		fix:      fix,
		maxFix:   maxFix,
		metrics:  opts.Metrics,
		scrubber: opts.Scrubber,
	}, nil
}

// Review reviews req.Code. Secrets are redacted first when the assistant
// has a scrubber. Pipeline failures are reported in the Report; the error is
// only for invalid requests.
func (a *Assistant) Review(ctx context.Context, req Request) (*Report, error) {
	if strings.TrimSpace(req.Code) == "" {
		return nil, ErrNothingToReview
	}

	start := time.Now()
	target := sanitizeTarget(req.Target)
	runID := uuid.NewString()
	ctx = logging.WithTarget(logging.WithRunID(ctx, runID), target)
	logger := logging.FromContext(ctx)

	report := &Report{Target: target, RunID: runID}
	defer func() {
		report.Duration = time.Since(start)
		a.metrics.RecordReview(report)
	}()

	// Only redacted code reaches the provider.
	redacted := a.scrubber.Redact(req.Code)
	if redacted.Count() > 0 {
		report.Secrets = redacted.Findings
		logger.Warn(ctx, "redacted secrets before review",
			zap.Int("count", redacted.Count()),
			zap.Strings("rules", redacted.RuleIDs()))
	}

	out := a.review.Run(ctx, map[string]any{KeyCode: redacted.Code})
	report.Status = string(out.Status.Kind)
	report.Outcome = out.Status
	report.collect(out.Context)

	if !out.Succeeded() {
		report.Err = out.Err
		if out.Err != nil {
			report.Error = out.Err.Error()
		}
		logger.Warn(ctx, "review did not complete",
			zap.String("status", out.Status.String()),
			zap.String("kind", string(out.Kind())))
		return report, nil
	}

	report.NeedsFix, report.FixReasons = NeedsFix(report.Analysis, report.Style, report.Tests)
	logger.Info(ctx, "review complete",
		zap.Bool("needs_fix", report.NeedsFix),
		zap.Strings("fix_reasons", report.FixReasons))

	if req.Fix && report.NeedsFix {
		report.Fix = a.runFix(ctx, out.Context)
	}
	return report, nil
}

// runFix continues on the review's context so the fix stages read the
// review's findings.
func (a *Assistant) runFix(ctx context.Context, ec *pipeline.ExecutionContext) *FixResult {
	logger := logging.FromContext(ctx)
	out := a.fix.Continue(ctx, ec)

	res := &FixResult{MaxAttempts: a.maxFix, Outcome: FixOutcomeAborted}
	if rec, ok := out.Loop(KeyFixAttempts); ok {
		res.Attempts = rec.Attempts()
		switch {
		case rec.Succeeded():
			res.Outcome = FixOutcomeFixed
		case !rec.Status.IsAborted():
			res.Outcome = FixOutcomeExhausted
		}
	}
	if fix, err := pipeline.ReadAs[Fix](ec, KeyFix); err == nil {
		res.Code = fix.Code
		res.Changes = fix.Changes
	}
	if v, err := pipeline.ReadAs[FixValidation](ec, KeyFixValidation); err == nil {
		res.Validation = &v
	}
	if text, err := pipeline.ReadAs[string](ec, KeyFixReport); err == nil {
		res.Report = text
	}
	if out.Err != nil && out.Kind() != pipeline.KindLoopExhausted {
		res.Error = out.Err.Error()
	}

	logger.Info(ctx, "fix finished",
		zap.String("outcome", res.Outcome),
		zap.Int("attempts", res.Attempts),
		zap.Int("max_attempts", res.MaxAttempts))
	return res
}

// collect copies whatever the review stages produced, even on failure.
func (r *Report) collect(ec *pipeline.ExecutionContext) {
	if m, err := pipeline.ReadAs[CodeMetrics](ec, KeyMetrics); err == nil {
		r.Metrics = &m
	}
	if a, err := pipeline.ReadAs[Analysis](ec, KeyAnalysis); err == nil {
		r.Analysis = &a
	}
	if s, err := pipeline.ReadAs[StyleReport](ec, KeyStyle); err == nil {
		r.Style = &s
	}
	if t, err := pipeline.ReadAs[TestReport](ec, KeyTests); err == nil {
		r.Tests = &t
	}
	if f, err := pipeline.ReadAs[string](ec, KeyFeedback); err == nil {
		r.Feedback = f
	}
}

// sanitizeTarget makes target safe for logging.WithTarget.
func sanitizeTarget(target string) string {
	if target == "" {
		return "stdin"
	}
	if len(target) > maxTargetLen {
		target = target[:maxTargetLen]
	}
	return strings.ToValidUTF8(target, "?")
}
