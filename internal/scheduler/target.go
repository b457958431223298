package scheduler

import (
	"context"
	"fmt"
	"maps"

	"ocr-watch/internal/action"
	"ocr-watch/internal/errs"
)

// TargetType tags the persisted form of a target
type TargetType string

const (
	ActionType   TargetType = "action"
	SequenceType TargetType = "sequence"
	RuleType     TargetType = "rule"
	CallbackType TargetType = "callback"
)

// ActionRunner executes actions and sequences
type ActionRunner interface {
	ExecuteAction(ctx context.Context, id string) action.Result
	ExecuteSequence(ctx context.Context, id string) action.Result
}

// RuleMatcher tests text against a single rule
type RuleMatcher interface {
	Match(ruleID, text string) (bool, error)
}

// Callback is a named function a task can dispatch to
type Callback func(ctx context.Context, params map[string]interface{}) (string, error)

// Env is what targets dispatch against
type Env struct {
	Actions  ActionRunner
	Rules    RuleMatcher
	Callback func(name string) (Callback, bool)
}

// Target is something a task can dispatch
type Target interface {
	Dispatch(ctx context.Context, env Env) (action.Result, error)
}

type ActionTarget struct{ ActionID string }

func (t ActionTarget) Dispatch(ctx context.Context, env Env) (action.Result, error) {
	if env.Actions == nil {
		return action.Result{}, errs.New(errs.ErrDispatch, "no action executor")
	}
	return env.Actions.ExecuteAction(ctx, t.ActionID), nil
}

type SequenceTarget struct{ SequenceID string }

func (t SequenceTarget) Dispatch(ctx context.Context, env Env) (action.Result, error) {
	if env.Actions == nil {
		return action.Result{}, errs.New(errs.ErrDispatch, "no action executor")
	}
	return env.Actions.ExecuteSequence(ctx, t.SequenceID), nil
}

// RuleTarget matches Text against a rule. It always succeeds; the match
// outcome is the output.
type RuleTarget struct {
	RuleID string
	Text   string
}

func (t RuleTarget) Dispatch(_ context.Context, env Env) (action.Result, error) {
	if env.Rules == nil {
		return action.Result{}, errs.New(errs.ErrDispatch, "no rule engine")
	}
	matched, err := env.Rules.Match(t.RuleID, t.Text)
	if err != nil {
		return action.Result{}, errs.Wrap(err, errs.ErrDispatch, "rule target")
	}
	return action.Result{Success: true, Output: fmt.Sprintf("matched=%t", matched)}, nil
}

type CallbackTarget struct {
	Name   string
	Params map[string]interface{}
}

func (t CallbackTarget) Dispatch(ctx context.Context, env Env) (action.Result, error) {
	var fn Callback
	if env.Callback != nil {
		fn, _ = env.Callback(t.Name)
	}
	if fn == nil {
		return action.Result{}, errs.Newf(errs.ErrDispatch, "callback %q is not registered", t.Name)
	}
	out, err := fn(ctx, t.Params)
	if err != nil {
		return action.Result{Success: false, Output: out, Error: err.Error()}, nil
	}
	return action.Result{Success: true, Output: out}, nil
}

// TargetSpec is the persisted, tagged form of a target
type TargetSpec struct {
	Type   TargetType             `json:"type"`
	ID     string                 `json:"id"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// Bind builds the concrete target. Event payload entries are merged into
// the params without overriding configured values.
func (s TargetSpec) Bind(payload map[string]string) (Target, error) {
	params := maps.Clone(s.Params)
	if params == nil {
		params = make(map[string]interface{})
	}
	for k, v := range payload {
		if _, set := params[k]; !set {
			params[k] = v
		}
	}

	switch s.Type {
	case ActionType:
		return ActionTarget{ActionID: s.ID}, nil
	case SequenceType:
		return SequenceTarget{SequenceID: s.ID}, nil
	case RuleType:
		text, _ := params["text"].(string)
		return RuleTarget{RuleID: s.ID, Text: text}, nil
	case CallbackType:
		return CallbackTarget{Name: s.ID, Params: params}, nil
	default:
		return nil, errs.Newf(errs.ErrDispatch, "unknown target type %q", s.Type).WithDetail("type", s.Type)
	}
}
