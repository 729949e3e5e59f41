package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/codereview/internal/config"
)

// DefaultReplacement stands in for a redacted secret.
const DefaultReplacement = "[REDACTED]"

// Finding locates one redacted secret.
type Finding struct {
	RuleID string `json:"rule_id"`
	Line   int    `json:"line"`
}

// Result is the outcome of Redact.
type Result struct {
	Code     string
	Findings []Finding
}

// Count returns the number of redacted secrets.
func (r Result) Count() int { return len(r.Findings) }

// RuleIDs returns the distinct rules that matched, sorted.
func (r Result) RuleIDs() []string {
	seen := make(map[string]bool, len(r.Findings))
	var ids []string
	for _, f := range r.Findings {
		if !seen[f.RuleID] {
			seen[f.RuleID] = true
			ids = append(ids, f.RuleID)
		}
	}
	sort.Strings(ids)
	return ids
}

type compiledRule struct {
	id       string
	pattern  *regexp.Regexp
	keywords []string
}

// Scrubber redacts secrets. It is immutable and safe for concurrent use.
type Scrubber struct {
	rules       []compiledRule
	allow       []*regexp.Regexp
	replacement string
}

// New compiles rules. A nil or empty allow list allows nothing.
func New(rules []Rule, allowList []string, replacement string) (*Scrubber, error) {
	if replacement == "" {
		replacement = DefaultReplacement
	}
	s := &Scrubber{replacement: replacement}
	for _, r := range rules {
		if r.ID == "" || r.Pattern == "" {
			return nil, fmt.Errorf("secret rule requires an id and a pattern: %+v", r)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: invalid pattern: %w", r.ID, err)
		}
		kws := make([]string, len(r.Keywords))
		for i, kw := range r.Keywords {
			kws[i] = strings.ToLower(kw)
		}
		s.rules = append(s.rules, compiledRule{id: r.ID, pattern: re, keywords: kws})
	}
	for i, pattern := range allowList {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("allow_list %d: invalid pattern: %w", i, err)
		}
		s.allow = append(s.allow, re)
	}
	return s, nil
}

// FromSettings builds a scrubber with DefaultRules, or returns nil when
// redaction is disabled.
func FromSettings(cfg config.SecretsConfig) (*Scrubber, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	return New(DefaultRules(), cfg.AllowList, cfg.Replacement)
}

type span struct {
	start, end int
}

// Redact replaces every secret in code. A nil Scrubber returns code as is.
func (s *Scrubber) Redact(code string) Result {
	res := Result{Code: code}
	if s == nil || code == "" {
		return res
	}

	lower := strings.ToLower(code)
	var spans []span
	for _, rule := range s.rules {
		if !hasKeyword(lower, rule.keywords) {
			continue
		}
		for _, m := range rule.pattern.FindAllStringIndex(code, -1) {
			if s.allowed(code[m[0]:m[1]]) {
				continue
			}
			spans = append(spans, span{m[0], m[1]})
			res.Findings = append(res.Findings, Finding{
				RuleID: rule.id,
				Line:   strings.Count(code[:m[0]], "\n") + 1,
			})
		}
	}
	if len(spans) == 0 {
		return res
	}

	sort.Slice(res.Findings, func(i, j int) bool {
		if res.Findings[i].Line != res.Findings[j].Line {
			return res.Findings[i].Line < res.Findings[j].Line
		}
		return res.Findings[i].RuleID < res.Findings[j].RuleID
	})
	res.Code = s.replace(code, merge(spans))
	return res
}

func (s *Scrubber) replace(code string, spans []span) string {
	var b strings.Builder
	b.Grow(len(code))
	prev := 0
	for _, sp := range spans {
		b.WriteString(code[prev:sp.start])
		b.WriteString(s.replacement)
		prev = sp.end
	}
	b.WriteString(code[prev:])
	return b.String()
}

func (s *Scrubber) allowed(match string) bool {
	for _, re := range s.allow {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}

func hasKeyword(lower string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// merge sorts spans and joins overlapping ones.
func merge(spans []span) []span {
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	out := spans[:1]
	for _, sp := range spans[1:] {
		last := &out[len(out)-1]
		if sp.start <= last.end {
			if sp.end > last.end {
				last.end = sp.end
			}
			continue
		}
		out = append(out, sp)
	}
	return out
}
