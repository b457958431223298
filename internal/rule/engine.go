// Package rule evaluates recognized text against configurable predicates and
// combines them into rule sets.
package rule

import (
	"slices"
	"sync"
	"time"

	"ocr-watch/internal/errs"
)

type stateKey struct {
	scope  string
	ruleID string
}

type scopedState struct {
	mu sync.Mutex
	st State
}

// Engine owns the rule and rule-set tables. Last-match state is kept per
// (scope, rule) so that one rule attached to several areas tracks each
// area separately. The empty scope is the rule's own global state.
type Engine struct {
	mu       sync.RWMutex
	rules    map[string]*Rule
	order    []string
	sets     map[string]*Set
	setOrder []string

	stateMu sync.Mutex
	states  map[stateKey]*scopedState

	now func() time.Time
}

func NewEngine() *Engine {
	return &Engine{
		rules:  make(map[string]*Rule),
		sets:   make(map[string]*Set),
		states: make(map[stateKey]*scopedState),
		now:    time.Now,
	}
}

// AddRule compiles spec and registers it
func (e *Engine) AddRule(spec Spec) (*Rule, error) {
	r, err := New(spec)
	if err != nil {
		return nil, err
	}
	r.now = e.now

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.rules[spec.ID]; exists {
		return nil, errs.Newf(errs.ErrAlreadyExists, "rule %s already exists", spec.ID)
	}
	e.rules[spec.ID] = r
	e.order = append(e.order, spec.ID)
	return r, nil
}

// ReplaceRule recompiles an existing rule in place. Its state is reset.
func (e *Engine) ReplaceRule(spec Spec) (*Rule, error) {
	r, err := New(spec)
	if err != nil {
		return nil, err
	}
	r.now = e.now

	e.mu.Lock()
	if _, exists := e.rules[spec.ID]; !exists {
		e.mu.Unlock()
		return nil, errs.Newf(errs.ErrNotFound, "rule %s", spec.ID)
	}
	e.rules[spec.ID] = r
	e.mu.Unlock()

	e.dropStates(func(k stateKey) bool { return k.ruleID == spec.ID })
	return r, nil
}

// RemoveRule deletes a rule and detaches it from AND/OR sets. A rule still
// named by a CUSTOM expression cannot be removed.
func (e *Engine) RemoveRule(id string) error {
	e.mu.Lock()
	if _, exists := e.rules[id]; !exists {
		e.mu.Unlock()
		return errs.Newf(errs.ErrNotFound, "rule %s", id)
	}
	for _, sid := range e.setOrder {
		if e.sets[sid].references(id) {
			e.mu.Unlock()
			return errs.Newf(errs.ErrRuleConfig, "rule %s is used by the expression of rule set %s", id, sid)
		}
	}
	delete(e.rules, id)
	e.order = slices.DeleteFunc(e.order, func(s string) bool { return s == id })
	for _, set := range e.sets {
		set.spec.RuleIDs = slices.DeleteFunc(slices.Clone(set.spec.RuleIDs), func(rid string) bool { return rid == id })
	}
	e.mu.Unlock()

	e.dropStates(func(k stateKey) bool { return k.ruleID == id })
	return nil
}

func (e *Engine) GetRule(id string) (*Rule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.rules[id]
	return r, ok
}

// HasRule reports whether a rule with id is registered
func (e *Engine) HasRule(id string) bool {
	_, ok := e.GetRule(id)
	return ok
}

// Rules returns all rules in insertion order
func (e *Engine) Rules() []*Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Rule, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.rules[id])
	}
	return out
}

// AddSet validates spec against the registered rules and stores it
func (e *Engine) AddSet(spec SetSpec) (*Set, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.sets[spec.ID]; exists {
		return nil, errs.Newf(errs.ErrAlreadyExists, "rule set %s already exists", spec.ID)
	}
	s, err := newSet(spec, func(id string) bool { _, ok := e.rules[id]; return ok })
	if err != nil {
		return nil, err
	}
	e.sets[spec.ID] = s
	e.setOrder = append(e.setOrder, spec.ID)
	return s, nil
}

func (e *Engine) RemoveSet(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.sets[id]; !exists {
		return false
	}
	delete(e.sets, id)
	e.setOrder = slices.DeleteFunc(e.setOrder, func(s string) bool { return s == id })
	return true
}

// GetSet returns a snapshot of a set's definition. Membership changes when
// member rules are removed, so the live set is never handed out.
func (e *Engine) GetSet(id string) (SetSpec, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sets[id]
	if !ok {
		return SetSpec{}, false
	}
	return s.Spec(), true
}

// Match tests text against a rule's global state
func (e *Engine) Match(ruleID, text string) (bool, error) {
	return e.MatchScoped("", ruleID, text)
}

// MatchScoped tests text against ruleID using the state kept for scope
func (e *Engine) MatchScoped(scope, ruleID, text string) (bool, error) {
	r, ok := e.GetRule(ruleID)
	if !ok {
		return false, errs.Newf(errs.ErrNotFound, "rule %s", ruleID)
	}
	return e.matchRule(scope, r, text), nil
}

func (e *Engine) matchRule(scope string, r *Rule, text string) bool {
	if scope == "" {
		return r.Match(text)
	}
	ss := e.scoped(scope, r.ID())
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return r.apply(text, &ss.st, e.now())
}

// EvaluateSet evaluates a set against the global rule states
func (e *Engine) EvaluateSet(setID, text string) (bool, error) {
	return e.EvaluateSetScoped("", setID, text)
}

// EvaluateSetScoped matches every member rule exactly once, so each member's
// state is updated even when the outcome is already decided, then combines
// the results by the set's mode. An empty set never matches.
func (e *Engine) EvaluateSetScoped(scope, setID, text string) (bool, error) {
	e.mu.RLock()
	s, ok := e.sets[setID]
	if !ok {
		e.mu.RUnlock()
		return false, errs.Newf(errs.ErrNotFound, "rule set %s", setID)
	}
	ids := slices.Clone(s.spec.RuleIDs)
	members := make([]*Rule, 0, len(ids))
	for _, id := range ids {
		if r, ok := e.rules[id]; ok {
			members = append(members, r)
		}
	}
	e.mu.RUnlock()

	results := make(map[string]bool, len(members))
	for _, r := range members {
		results[r.ID()] = e.matchRule(scope, r, text)
	}
	return s.combine(ids, results), nil
}

// State returns the last-match state of ruleID within scope
func (e *Engine) State(scope, ruleID string) (State, bool) {
	if scope == "" {
		r, ok := e.GetRule(ruleID)
		if !ok {
			return State{}, false
		}
		return r.State(), true
	}
	e.stateMu.Lock()
	ss, ok := e.states[stateKey{scope, ruleID}]
	e.stateMu.Unlock()
	if !ok {
		return State{}, false
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.st, true
}

// ResetScope forgets every state kept for scope
func (e *Engine) ResetScope(scope string) {
	e.dropStates(func(k stateKey) bool { return k.scope == scope })
}

func (e *Engine) scoped(scope, ruleID string) *scopedState {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	k := stateKey{scope, ruleID}
	ss, ok := e.states[k]
	if !ok {
		ss = &scopedState{}
		e.states[k] = ss
	}
	return ss
}

func (e *Engine) dropStates(match func(stateKey) bool) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	for k := range e.states {
		if match(k) {
			delete(e.states, k)
		}
	}
}

// RuleSpecs returns the definitions of all rules in insertion order
func (e *Engine) RuleSpecs() []Spec {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Spec, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.rules[id].Spec())
	}
	return out
}

// Sets returns snapshots of all rule set definitions in insertion order
func (e *Engine) Sets() []SetSpec {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]SetSpec, 0, len(e.setOrder))
	for _, id := range e.setOrder {
		out = append(out, e.sets[id].Spec())
	}
	return out
}
