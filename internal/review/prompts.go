package review

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/codereview/internal/completion"
	"github.com/fyrsmithlabs/codereview/internal/pipeline"
	"github.com/fyrsmithlabs/codereview/internal/stages"
)

const systemReviewer = "You are a meticulous code reviewer. Be specific, cite line numbers, and " +
	"reply in exactly the format requested."

// Per-role sampling. Judging stages run cold; prose stages run warmer.
var (
	optsAnalysis  = completion.Options{Temperature: 0.2}
	optsJudge     = completion.Options{Temperature: 0.1}
	optsFix       = completion.Options{Temperature: 0.3}
	optsNarrative = completion.Options{Temperature: 0.6}
)

// promptBuilder accumulates prompt sections.
type promptBuilder struct {
	b strings.Builder
}

func (p *promptBuilder) line(format string, args ...any) {
	fmt.Fprintf(&p.b, format, args...)
	p.b.WriteByte('\n')
}

func (p *promptBuilder) code(title, code string) {
	p.line("\n## %s\n```\n%s\n```", title, strings.TrimRight(code, "\n"))
}

func (p *promptBuilder) jsonSection(title string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", title, err)
	}
	p.line("\n## %s\n```json\n%s\n```", title, data)
	return nil
}

// optionalJSON writes key's value if present.
func (p *promptBuilder) optionalJSON(view pipeline.View, title, key string) error {
	v, err := view.Read(key)
	if err != nil {
		return nil
	}
	return p.jsonSection(title, v)
}

func (p *promptBuilder) String() string { return p.b.String() }

func readCode(view pipeline.View) (string, error) {
	return pipeline.ReadAs[string](view, KeyCode)
}

func analyzerPrompt(view pipeline.View) (stages.Prompt, error) {
	code, err := readCode(view)
	if err != nil {
		return stages.Prompt{}, err
	}
	var p promptBuilder
	p.line("Analyze the code below for bugs, risky constructs and maintainability problems.")
	p.line(`Reply with JSON only: {"summary": string, "functions": [string], ` +
		`"issues": [{"severity": "critical|high|medium|low", "line": int, "category": string, "message": string}]}`)
	if err := p.optionalJSON(view, "Measurements", KeyMetrics); err != nil {
		return stages.Prompt{}, err
	}
	p.code("Code", code)
	return stages.Prompt{System: systemReviewer, User: p.String(), Options: optsAnalysis}, nil
}

func stylePrompt(view pipeline.View) (stages.Prompt, error) {
	code, err := readCode(view)
	if err != nil {
		return stages.Prompt{}, err
	}
	var p promptBuilder
	p.line("Check the code below against the idiomatic style guide for its language.")
	p.line("Score it from 0 to 100, where 100 means no violations.")
	p.line(`Reply with JSON only: {"score": int, "violations": [{"line": int, "rule": string, "message": string}]}`)
	p.code("Code", code)
	return stages.Prompt{System: systemReviewer, User: p.String(), Options: optsJudge}, nil
}

func testsPrompt(view pipeline.View) (stages.Prompt, error) {
	code, err := readCode(view)
	if err != nil {
		return stages.Prompt{}, err
	}
	var p promptBuilder
	p.line("Write focused test cases for the code below, covering normal use, edge cases and error paths.")
	p.line("Trace each test through the code and report which would pass.")
	p.line(`Reply with JSON only: {"passed": int, "failed": int, "failures": [{"name": string, "message": string}], "summary": string}`)
	if err := p.optionalJSON(view, "Analysis", KeyAnalysis); err != nil {
		return stages.Prompt{}, err
	}
	p.code("Code", code)
	return stages.Prompt{System: systemReviewer, User: p.String(), Options: optsAnalysis}, nil
}

func feedbackPrompt(view pipeline.View) (stages.Prompt, error) {
	var p promptBuilder
	p.line("Write review feedback for the author in markdown: strengths first, then prioritized " +
		"improvements with concrete examples. Be encouraging and educational.")
	for _, s := range []struct{ title, key string }{
		{"Analysis", KeyAnalysis},
		{"Style", KeyStyle},
		{"Tests", KeyTests},
	} {
		v, err := view.Read(s.key)
		if err != nil {
			return stages.Prompt{}, err
		}
		if err := p.jsonSection(s.title, v); err != nil {
			return stages.Prompt{}, err
		}
	}
	return stages.Prompt{System: systemReviewer, User: p.String(), Options: optsNarrative}, nil
}

func fixerPrompt(view pipeline.View) (stages.Prompt, error) {
	code, err := readCode(view)
	if err != nil {
		return stages.Prompt{}, err
	}
	var p promptBuilder
	p.line("Fix every issue reported below while keeping the code's behavior and public interface.")
	p.line(`Reply with JSON only: {"code": string, "changes": [string]}`)
	p.code("Original code", code)
	for _, s := range []struct{ title, key string }{
		{"Analysis", KeyAnalysis},
		{"Style", KeyStyle},
		{"Tests", KeyTests},
	} {
		if err := p.optionalJSON(view, s.title, s.key); err != nil {
			return stages.Prompt{}, err
		}
	}

	// Present from the second attempt on.
	if prev, err := pipeline.ReadAs[Fix](view, KeyFix); err == nil {
		p.code("Previous attempt", prev.Code)
	}
	if v, err := pipeline.ReadAs[FixValidation](view, KeyFixValidation); err == nil {
		p.line("\nThe previous attempt was judged %s. Address what it left unresolved.", v.Status)
		if err := p.jsonSection("Previous validation", v); err != nil {
			return stages.Prompt{}, err
		}
	}
	return stages.Prompt{System: systemReviewer, User: p.String(), Options: optsFix}, nil
}

func fixTestsPrompt(view pipeline.View) (stages.Prompt, error) {
	fix, err := pipeline.ReadAs[Fix](view, KeyFix)
	if err != nil {
		return stages.Prompt{}, err
	}
	var p promptBuilder
	p.line("Re-run the same kind of tests against the fixed code and report the results.")
	p.line(`Reply with JSON only: {"passed": int, "failed": int, "failures": [{"name": string, "message": string}], "summary": string}`)
	if err := p.optionalJSON(view, "Original test results", KeyTests); err != nil {
		return stages.Prompt{}, err
	}
	p.code("Fixed code", fix.Code)
	return stages.Prompt{System: systemReviewer, User: p.String(), Options: optsAnalysis}, nil
}

func fixValidatorPrompt(view pipeline.View) (stages.Prompt, error) {
	fix, err := pipeline.ReadAs[Fix](view, KeyFix)
	if err != nil {
		return stages.Prompt{}, err
	}
	var p promptBuilder
	p.line("Decide whether the fix resolved the review findings.")
	p.line("Use SUCCESSFUL only if all tests pass, the style score is 100 and no critical issue remains; " +
		"PARTIAL if it improved; FAILED otherwise.")
	p.line(`Reply with JSON only: {"status": "SUCCESSFUL|PARTIAL|FAILED", "style_score": int, ` +
		`"tests_passing": bool, "remaining_issues": [string], "notes": string}`)
	if err := p.optionalJSON(view, "Original analysis", KeyAnalysis); err != nil {
		return stages.Prompt{}, err
	}
	if err := p.optionalJSON(view, "Test results after fix", KeyFixTests); err != nil {
		return stages.Prompt{}, err
	}
	p.code("Fixed code", fix.Code)
	return stages.Prompt{System: systemReviewer, User: p.String(), Options: optsJudge}, nil
}

func fixReportPrompt(view pipeline.View) (stages.Prompt, error) {
	record, err := pipeline.ReadAs[*pipeline.LoopRecord](view, KeyFixAttempts)
	if err != nil {
		return stages.Prompt{}, err
	}
	var p promptBuilder
	p.line("Summarize the automated fix for the author in markdown.")
	if record.Succeeded() {
		p.line("The fix succeeded after %d of at most %d attempts.", record.Attempts(), record.MaxIterations)
	} else {
		p.line("The fix did not fully succeed after %d attempts; explain what remains and suggest next steps.",
			record.Attempts())
	}
	if fix, err := pipeline.ReadAs[Fix](view, KeyFix); err == nil {
		p.line("\n## Changes")
		for _, c := range fix.Changes {
			p.line("- %s", c)
		}
		p.code("Final code", fix.Code)
	}
	if err := p.optionalJSON(view, "Final validation", KeyFixValidation); err != nil {
		return stages.Prompt{}, err
	}
	return stages.Prompt{System: systemReviewer, User: p.String(), Options: optsNarrative}, nil
}
