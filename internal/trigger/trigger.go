package trigger

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bgricker/buildgate/internal/pipeline"
)

// Pattern matches a branch name. Plain entries match exactly; entries written
// as /expr/ are compiled as regular expressions.
type Pattern struct {
	raw   string
	regex *regexp.Regexp
}

// CompilePattern turns a raw branch entry into a Pattern.
func CompilePattern(raw string) (Pattern, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) >= 2 && strings.HasPrefix(raw, "/") && strings.HasSuffix(raw, "/") {
		expr := raw[1 : len(raw)-1]
		re, err := regexp.Compile(expr)
		if err != nil {
			return Pattern{}, fmt.Errorf("compile branch regexp %q: %w", raw, err)
		}
		return Pattern{raw: raw, regex: re}, nil
	}
	return Pattern{raw: raw}, nil
}

// Match reports whether the pattern matches branch.
func (p Pattern) Match(branch string) bool {
	if branch == "" {
		return false
	}
	if p.regex != nil {
		return p.regex.MatchString(branch)
	}
	return p.raw == branch
}

func (p Pattern) String() string {
	return p.raw
}

type compiledRule struct {
	events   map[pipeline.EventType]struct{}
	branches []Pattern
}

// Matcher holds a compiled, read-only set of trigger rules. It is safe for
// concurrent use.
type Matcher struct {
	rules []compiledRule
}

// Decision explains a match result.
type Decision struct {
	Accepted bool
	Reason   string
}

// Compile validates and compiles rules.
func Compile(rules []pipeline.TriggerRule) (*Matcher, error) {
	m := &Matcher{rules: make([]compiledRule, 0, len(rules))}
	for idx, rule := range rules {
		cr := compiledRule{events: make(map[pipeline.EventType]struct{}, len(rule.Events))}
		for _, ev := range rule.Events {
			cr.events[ev] = struct{}{}
		}
		for _, raw := range rule.Branches {
			p, err := CompilePattern(raw)
			if err != nil {
				return nil, fmt.Errorf("trigger %d: %w", idx+1, err)
			}
			if p.raw == "" {
				continue
			}
			cr.branches = append(cr.branches, p)
		}
		m.rules = append(m.rules, cr)
	}
	return m, nil
}

// Match decides whether event should start a run.
func (m *Matcher) Match(event pipeline.Event) Decision {
	if len(m.rules) == 0 {
		return Decision{Reason: "no trigger rules configured"}
	}
	typeSeen := false
	for _, rule := range m.rules {
		if _, ok := rule.events[event.Type]; !ok {
			continue
		}
		typeSeen = true
		for _, p := range rule.branches {
			if p.Match(event.Branch) {
				return Decision{Accepted: true, Reason: fmt.Sprintf("%s on %q matches %q", event.Type, event.Branch, p.raw)}
			}
		}
	}
	if !typeSeen {
		return Decision{Reason: fmt.Sprintf("event type %q is not a trigger", event.Type)}
	}
	return Decision{Reason: fmt.Sprintf("branch %q is not a trigger branch for %s", event.Branch, event.Type)}
}

// Accepts reports whether event matches any rule. Rules that fail to compile
// never match.
func Accepts(event pipeline.Event, rules []pipeline.TriggerRule) bool {
	m, err := Compile(rules)
	if err != nil {
		return false
	}
	return m.Match(event).Accepted
}
