package rule

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"ocr-watch/internal/errs"
)

// Kind selects the predicate a rule applies
type Kind string

const (
	Contains    Kind = "contains"
	Exact       Kind = "exact"
	Regex       Kind = "regex"
	Numeric     Kind = "numeric"
	NotContains Kind = "not_contains"
	Changed     Kind = "changed"
)

// Operator compares the number found in the text against the rule content
type Operator string

const (
	Eq Operator = "eq"
	Ne Operator = "ne"
	Gt Operator = "gt"
	Ge Operator = "ge"
	Lt Operator = "lt"
	Le Operator = "le"
)

var numberPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

// Params tunes a rule
type Params struct {
	CaseSensitive bool     `json:"case_sensitive,omitempty"`
	Operator      Operator `json:"operator,omitempty"`
}

// Spec is the persisted form of a rule
type Spec struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Kind    Kind   `json:"kind"`
	Content string `json:"content"`
	Params  Params `json:"params"`
}

// State is the last-match record of a rule within one scope
type State struct {
	LastMatchTime time.Time `json:"last_match_time"`
	LastMatchText string    `json:"last_match_text"`
	Matched       bool      `json:"matched"`
}

// Rule is a compiled, immutable predicate plus its global last-match state.
// Per-area state lives in the Engine.
type Rule struct {
	spec    Spec
	pattern *regexp.Regexp
	number  float64

	mu    sync.Mutex
	state State
	now   func() time.Time
}

// New validates spec and compiles it
func New(spec Spec) (*Rule, error) {
	if spec.ID == "" {
		return nil, errs.New(errs.ErrRuleConfig, "rule id is required")
	}
	r := &Rule{spec: spec, now: time.Now}

	switch spec.Kind {
	case Contains, Exact, NotContains, Changed:
	case Regex:
		expr := spec.Content
		if !spec.Params.CaseSensitive {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, errs.Wrapf(err, errs.ErrRuleConfig, "rule %s: invalid regex %q", spec.ID, spec.Content)
		}
		r.pattern = re
	case Numeric:
		n, err := strconv.ParseFloat(strings.TrimSpace(spec.Content), 64)
		if err != nil {
			return nil, errs.Wrapf(err, errs.ErrRuleConfig, "rule %s: numeric content %q", spec.ID, spec.Content)
		}
		r.number = n
		if r.spec.Params.Operator == "" {
			r.spec.Params.Operator = Eq
		}
		switch r.spec.Params.Operator {
		case Eq, Ne, Gt, Ge, Lt, Le:
		default:
			return nil, errs.Newf(errs.ErrRuleConfig, "rule %s: unknown operator %q", spec.ID, spec.Params.Operator)
		}
	default:
		return nil, errs.Newf(errs.ErrRuleConfig, "rule %s: unknown kind %q", spec.ID, spec.Kind)
	}
	return r, nil
}

func (r *Rule) ID() string { return r.spec.ID }

// Spec returns the definition the rule was compiled from
func (r *Rule) Spec() Spec { return r.spec }

// Match tests text against the rule using its global state
func (r *Rule) Match(text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.apply(text, &r.state, r.now())
}

// State returns a copy of the global last-match state
func (r *Rule) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// apply evaluates the predicate against st and records a match in it.
// The caller serializes access to st.
func (r *Rule) apply(text string, st *State, now time.Time) bool {
	ok := r.test(text, st)
	if ok {
		st.LastMatchTime = now
		st.LastMatchText = text
		st.Matched = true
	}
	return ok
}

func (r *Rule) test(text string, st *State) bool {
	switch r.spec.Kind {
	case Contains:
		return contains(text, r.spec.Content, r.spec.Params.CaseSensitive)
	case NotContains:
		return !contains(text, r.spec.Content, r.spec.Params.CaseSensitive)
	case Exact:
		if r.spec.Params.CaseSensitive {
			return text == r.spec.Content
		}
		return strings.EqualFold(text, r.spec.Content)
	case Regex:
		return r.pattern.MatchString(text)
	case Numeric:
		v, ok := ExtractNumber(text)
		if !ok {
			return false
		}
		return compare(v, r.number, r.spec.Params.Operator)
	case Changed:
		return !st.Matched || st.LastMatchText != text
	}
	return false
}

// ExtractNumber returns the first integer or decimal token in text
func ExtractNumber(text string) (float64, bool) {
	tok := numberPattern.FindString(text)
	if tok == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func contains(text, sub string, caseSensitive bool) bool {
	if caseSensitive {
		return strings.Contains(text, sub)
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(sub))
}

func compare(v, target float64, op Operator) bool {
	switch op {
	case Eq:
		return v == target
	case Ne:
		return v != target
	case Gt:
		return v > target
	case Ge:
		return v >= target
	case Lt:
		return v < target
	case Le:
		return v <= target
	}
	return false
}
