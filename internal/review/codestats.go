package review

import (
	"bufio"
	"context"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/codereview/internal/pipeline"
)

// longLine is the width past which a line counts as long.
const longLine = 100

// CodeMetrics are deterministic measurements handed to the analyzer.
type CodeMetrics struct {
	Lines         int `json:"lines"`
	BlankLines    int `json:"blank_lines"`
	CommentLines  int `json:"comment_lines"`
	LongLines     int `json:"long_lines"`
	MaxLineLength int `json:"max_line_length"`
	TODOs         int `json:"todos"`
}

// Measure computes CodeMetrics for source text.
func Measure(code string) CodeMetrics {
	var m CodeMetrics
	sc := bufio.NewScanner(strings.NewReader(code))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		m.Lines++

		width := utf8.RuneCountInString(line)
		if width > m.MaxLineLength {
			m.MaxLineLength = width
		}
		if width > longLine {
			m.LongLines++
		}

		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			m.BlankLines++
		case strings.HasPrefix(trimmed, "#"), strings.HasPrefix(trimmed, "//"):
			m.CommentLines++
		}
		if strings.Contains(trimmed, "TODO") || strings.Contains(trimmed, "FIXME") {
			m.TODOs++
		}
	}
	return m
}

func measureStage(_ context.Context, view pipeline.View) (CodeMetrics, error) {
	code, err := pipeline.ReadAs[string](view, KeyCode)
	if err != nil {
		return CodeMetrics{}, err
	}
	return Measure(code), nil
}
