package review

import "fmt"

// FixOffer is appended to a review whose findings warrant a fix when fixes
// were not requested.
const FixOffer = "I can fix these issues for you. Would you like me to do that?"

// NeedsFix reports whether a review warrants a fix: a style score below
// 100, a failing test, or a critical issue. Reasons explain each trigger.
func NeedsFix(analysis *Analysis, style *StyleReport, tests *TestReport) (bool, []string) {
	var reasons []string
	if style != nil && style.Score < 100 {
		reasons = append(reasons, fmt.Sprintf("style score %d is below 100", style.Score))
	}
	if tests != nil && !tests.AllPassing() {
		failed := tests.Failed
		if failed == 0 {
			failed = len(tests.Failures)
		}
		reasons = append(reasons, fmt.Sprintf("%d failing test(s)", failed))
	}
	if analysis != nil {
		if n := len(analysis.Critical()); n > 0 {
			reasons = append(reasons, fmt.Sprintf("%d critical issue(s)", n))
		}
	}
	return len(reasons) > 0, reasons
}
