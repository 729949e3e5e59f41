package review

import (
	"errors"
	"fmt"
	"strings"
)

// Context keys written by the review and fix pipelines.
const (
	KeyCode          = "code"
	KeyMetrics       = "code_metrics"
	KeyAnalysis      = "analysis"
	KeyStyle         = "style"
	KeyTests         = "tests"
	KeyFeedback      = "feedback"
	KeyFix           = "fix"
	KeyFixTests      = "fix_tests"
	KeyFixValidation = "fix_validation"
	KeyFixAttempts   = "fix_attempts"
	KeyFixReport     = "fix_report"
)

// Stage names. They double as completion roles.
const (
	StageMetrics      = "code_metrics"
	StageAnalyzer     = "code_analyzer"
	StageStyle        = "style_checker"
	StageTests        = "test_runner"
	StageFeedback     = "feedback_synthesizer"
	StageFixer        = "code_fixer"
	StageFixTests     = "fix_test_runner"
	StageFixValidator = "fix_validator"
	StageFixReport    = "fix_synthesizer"
)

// Severity ranks an issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Issue is one finding of the code analyzer.
type Issue struct {
	Severity Severity `json:"severity"`
	Line     int      `json:"line,omitempty"`
	Category string   `json:"category,omitempty"`
	Message  string   `json:"message"`
}

// Analysis is the code analyzer's output.
type Analysis struct {
	Summary   string   `json:"summary"`
	Functions []string `json:"functions,omitempty"`
	Issues    []Issue  `json:"issues"`
}

// Validate rejects unknown severities.
func (a *Analysis) Validate() error {
	for i, issue := range a.Issues {
		switch Severity(strings.ToLower(string(issue.Severity))) {
		case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
			a.Issues[i].Severity = Severity(strings.ToLower(string(issue.Severity)))
		default:
			return fmt.Errorf("issue %d: unknown severity %q", i, issue.Severity)
		}
	}
	return nil
}

// Critical returns the critical issues.
func (a Analysis) Critical() []Issue {
	var out []Issue
	for _, issue := range a.Issues {
		if issue.Severity == SeverityCritical {
			out = append(out, issue)
		}
	}
	return out
}

// StyleViolation is one style finding.
type StyleViolation struct {
	Line    int    `json:"line,omitempty"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// StyleReport is the style checker's output.
type StyleReport struct {
	Score      int              `json:"score"`
	Violations []StyleViolation `json:"violations"`
}

// Validate checks the score range.
func (s StyleReport) Validate() error {
	if s.Score < 0 || s.Score > 100 {
		return fmt.Errorf("style score must be between 0 and 100, got %d", s.Score)
	}
	return nil
}

// TestFailure is one failing test case.
type TestFailure struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// TestReport is the test runner's output.
type TestReport struct {
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
	Failures []TestFailure `json:"failures,omitempty"`
	Summary  string        `json:"summary,omitempty"`
}

// Validate checks the counts.
func (t TestReport) Validate() error {
	if t.Passed < 0 || t.Failed < 0 {
		return errors.New("test counts cannot be negative")
	}
	return nil
}

// AllPassing reports whether no test failed.
func (t TestReport) AllPassing() bool {
	return t.Failed == 0 && len(t.Failures) == 0
}

// Fix is the code fixer's output.
type Fix struct {
	Code    string   `json:"code"`
	Changes []string `json:"changes"`
}

// Validate requires fixed code.
func (f Fix) Validate() error {
	if strings.TrimSpace(f.Code) == "" {
		return errors.New("fix contains no code")
	}
	return nil
}

// Fix validation statuses.
const (
	FixSuccessful = "SUCCESSFUL"
	FixPartial    = "PARTIAL"
	FixFailed     = "FAILED"
)

// FixValidation is the fix validator's verdict. It ends the fix loop when
// Status is SUCCESSFUL.
type FixValidation struct {
	Status          string   `json:"status"`
	StyleScore      int      `json:"style_score"`
	TestsPassing    bool     `json:"tests_passing"`
	RemainingIssues []string `json:"remaining_issues,omitempty"`
	Notes           string   `json:"notes,omitempty"`
}

// Validate normalizes and checks the status.
func (v *FixValidation) Validate() error {
	v.Status = strings.ToUpper(strings.TrimSpace(v.Status))
	switch v.Status {
	case FixSuccessful, FixPartial, FixFailed:
		return nil
	default:
		return fmt.Errorf("unknown fix status %q", v.Status)
	}
}

// LoopExit reports whether the fix succeeded.
func (v FixValidation) LoopExit() bool {
	return v.Status == FixSuccessful
}
