package stages

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// fencePattern matches a markdown code block with an optional language tag.
var fencePattern = regexp.MustCompile("(?s)```(\\w*)[ \\t]*\\n(.*?)\\n?```")

// Validator is implemented by parsed values that check their own fields.
type Validator interface {
	Validate() error
}

// JSON parses a reply into T. The reply must be a single JSON document,
// either bare or inside a ```json (or untagged) fence; anything after the
// document is rejected. If *T or T implements Validator it is called.
func JSON[T any]() Parser {
	return func(raw string) (any, error) {
		doc, err := extractJSON(raw)
		if err != nil {
			return nil, err
		}

		var v T
		dec := json.NewDecoder(strings.NewReader(doc))
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("decode %T: %w", v, err)
		}
		if _, err := dec.Token(); !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("trailing data after JSON document")
		}

		if val, ok := any(&v).(Validator); ok {
			if err := val.Validate(); err != nil {
				return nil, err
			}
		} else if val, ok := any(v).(Validator); ok {
			if err := val.Validate(); err != nil {
				return nil, err
			}
		}
		return v, nil
	}
}

// extractJSON returns the JSON text of a reply.
func extractJSON(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errors.New("empty reply")
	}
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return trimmed, nil
	}

	// Prefer a block that is valid JSON; otherwise hand the first candidate
	// to the decoder so the error names the problem.
	var candidate string
	for _, m := range fencePattern.FindAllStringSubmatch(raw, -1) {
		lang := strings.ToLower(m[1])
		if lang != "" && lang != "json" {
			continue
		}
		body := strings.TrimSpace(m[2])
		if body == "" {
			continue
		}
		if json.Valid([]byte(body)) {
			return body, nil
		}
		if candidate == "" {
			candidate = body
		}
	}
	if candidate != "" {
		return candidate, nil
	}
	return "", errors.New("no JSON document found in reply")
}

// Text accepts any non-empty reply and returns it trimmed.
func Text() Parser {
	return func(raw string) (any, error) {
		s := strings.TrimSpace(raw)
		if s == "" {
			return nil, errors.New("empty reply")
		}
		return s, nil
	}
}
