package review

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fyrsmithlabs/codereview/internal/pipeline"
)

// WriteMarkdown renders reports for a terminal or a PR comment.
func WriteMarkdown(w io.Writer, reports []*Report) error {
	var b strings.Builder
	for i, r := range reports {
		if r == nil {
			continue
		}
		if i > 0 {
			b.WriteString("\n---\n\n")
		}
		writeReport(&b, r)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func writeReport(b *strings.Builder, r *Report) {
	fmt.Fprintf(b, "# Review: %s\n\n", r.Target)

	if r.Status != string(pipeline.StatusSuccess) {
		fmt.Fprintf(b, "**Status:** %s", r.Status)
		if r.Error != "" {
			fmt.Fprintf(b, " (%s)", r.Error)
		}
		b.WriteString("\n\n")
	}

	if n := len(r.Secrets); n > 0 {
		fmt.Fprintf(b, "> %d secret(s) were redacted before review. Move them out of the source.\n\n", n)
	}

	if m := r.Metrics; m != nil {
		fmt.Fprintf(b, "_%d lines, %d comments, %d over 100 columns, %d TODOs_\n\n",
			m.Lines, m.CommentLines, m.LongLines, m.TODOs)
	}

	if r.Feedback != "" {
		b.WriteString(strings.TrimSpace(r.Feedback))
		b.WriteString("\n\n")
	}

	if !r.NeedsFix {
		return
	}

	if r.Fix == nil {
		b.WriteString("## Fix available\n\n")
		for _, reason := range r.FixReasons {
			fmt.Fprintf(b, "- %s\n", reason)
		}
		fmt.Fprintf(b, "\n💡 %s\nRe-run with `--fix` to apply fixes.\n", FixOffer)
		return
	}

	f := r.Fix
	fmt.Fprintf(b, "## Fix: %s after %d of %d attempt(s)\n\n", f.Outcome, f.Attempts, f.MaxAttempts)
	if f.Error != "" {
		fmt.Fprintf(b, "**Error:** %s\n\n", f.Error)
	}
	if f.Report != "" {
		b.WriteString(strings.TrimSpace(f.Report))
		b.WriteString("\n\n")
	}
	if f.Code != "" {
		fmt.Fprintf(b, "### Fixed code\n\n```\n%s\n```\n", strings.TrimRight(f.Code, "\n"))
	}
}

// WriteJSON writes reports as an indented JSON array.
func WriteJSON(w io.Writer, reports []*Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(reports)
}
