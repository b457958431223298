package rule

import (
	"ocr-watch/internal/errs"
)

// Mode combines the results of a set's member rules
type Mode string

const (
	All    Mode = "AND"
	Any    Mode = "OR"
	Custom Mode = "CUSTOM"
)

// SetSpec is the persisted form of a rule set
type SetSpec struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	RuleIDs    []string `json:"rule_ids"`
	Mode       Mode     `json:"mode"`
	Expression string   `json:"expression,omitempty"`
}

// Set is a validated rule set. For CUSTOM sets every rule named in the
// expression is a member.
type Set struct {
	spec SetSpec
	expr Expr
}

func newSet(spec SetSpec, known func(string) bool) (*Set, error) {
	if spec.ID == "" {
		return nil, errs.New(errs.ErrRuleConfig, "rule set id is required")
	}
	if spec.Mode == "" {
		spec.Mode = All
	}
	seen := make(map[string]bool, len(spec.RuleIDs))
	for _, id := range spec.RuleIDs {
		if !known(id) {
			return nil, errs.Newf(errs.ErrRuleConfig, "rule set %s: unknown rule %q", spec.ID, id)
		}
		if seen[id] {
			return nil, errs.Newf(errs.ErrRuleConfig, "rule set %s: rule %q listed twice", spec.ID, id)
		}
		seen[id] = true
	}
	s := &Set{spec: spec}

	switch spec.Mode {
	case All, Any:
	case Custom:
		expr, idents, err := CompileExpression(spec.Expression, known)
		if err != nil {
			return nil, errs.Wrapf(err, errs.ErrRuleConfig, "rule set %s", spec.ID)
		}
		s.expr = expr
		members := make(map[string]bool, len(spec.RuleIDs))
		ids := append([]string(nil), spec.RuleIDs...)
		for _, id := range ids {
			members[id] = true
		}
		for _, id := range idents {
			if !members[id] {
				members[id] = true
				ids = append(ids, id)
			}
		}
		s.spec.RuleIDs = ids
	default:
		return nil, errs.Newf(errs.ErrRuleConfig, "rule set %s: unknown mode %q", spec.ID, spec.Mode)
	}
	return s, nil
}

func (s *Set) ID() string { return s.spec.ID }

// Spec returns a copy of the set definition
func (s *Set) Spec() SetSpec {
	out := s.spec
	out.RuleIDs = append([]string(nil), s.spec.RuleIDs...)
	return out
}

// references reports whether the set's expression names ruleID
func (s *Set) references(ruleID string) bool {
	if s.spec.Mode != Custom {
		return false
	}
	_, idents, err := CompileExpression(s.spec.Expression, nil)
	if err != nil {
		return false
	}
	for _, id := range idents {
		if id == ruleID {
			return true
		}
	}
	return false
}

// combine folds member results keyed by rule id
func (s *Set) combine(ids []string, results map[string]bool) bool {
	if len(ids) == 0 {
		return false
	}
	switch s.spec.Mode {
	case Any:
		for _, id := range ids {
			if results[id] {
				return true
			}
		}
		return false
	case Custom:
		return s.expr.Eval(results)
	default:
		for _, id := range ids {
			if !results[id] {
				return false
			}
		}
		return true
	}
}
