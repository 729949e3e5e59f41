package review

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/codereview/internal/completion"
)

// Canned replies for DryRunClient. The fix converges on the second attempt.
const (
	dryAnalysis = `{"summary": "Dry run analysis.", "functions": ["main"], ` +
		`"issues": [{"severity": "high", "line": 1, "category": "errors", "message": "error from call is ignored"}]}`
	dryStyle      = `{"score": 85, "violations": [{"line": 1, "rule": "naming", "message": "exported name lacks a doc comment"}]}`
	dryTests      = `{"passed": 3, "failed": 1, "failures": [{"name": "TestEmptyInput", "message": "panics on empty input"}], "summary": "1 of 4 failing"}`
	dryFix        = `{"code": "// fixed by dry run, %s\n", "changes": ["handle ignored error", "add doc comment"]}`
	dryFixTests   = `{"passed": 4, "failed": 0, "summary": "all passing"}`
	dryPartial    = `{"status": "PARTIAL", "style_score": 95, "tests_passing": true, "remaining_issues": ["doc comment missing"], "notes": "close"}`
	drySuccessful = `{"status": "SUCCESSFUL", "style_score": 100, "tests_passing": true, "notes": "all findings resolved"}`
)

// DryRunClient answers every review and fix role with canned replies. It
// exercises the pipelines end to end without a provider.
func DryRunClient() completion.Client {
	return completion.ClientFunc(func(ctx context.Context, req completion.Request) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		switch req.Role {
		case StageAnalyzer:
			return dryAnalysis, nil
		case StageStyle:
			return dryStyle, nil
		case StageTests:
			return dryTests, nil
		case StageFeedback:
			return "## Feedback\n\nDry run: the code is readable. Handle the ignored error and add doc comments.", nil
		case StageFixer:
			pass := "first pass"
			if strings.Contains(req.Prompt, "Previous validation") {
				pass = "second pass"
			}
			return "```json\n" + fmt.Sprintf(dryFix, pass) + "\n```", nil
		case StageFixTests:
			return dryFixTests, nil
		case StageFixValidator:
			if strings.Contains(req.Prompt, "second pass") {
				return drySuccessful, nil
			}
			return dryPartial, nil
		case StageFixReport:
			return "## Fix summary\n\nDry run: all findings resolved.", nil
		default:
			return "", fmt.Errorf("%w: dry run has no reply for %q", completion.ErrRejected, req.Role)
		}
	})
}
