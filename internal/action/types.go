package action

import (
	"fmt"
	"strconv"
	"time"
)

// Kind selects the effector an action drives
type Kind string

const (
	Keyboard     Kind = "keyboard"
	Mouse        Kind = "mouse"
	Delay        Kind = "delay"
	Command      Kind = "command"
	Script       Kind = "script"
	Screenshot   Kind = "screenshot"
	Notification Kind = "notification"
)

// Action is a single side effect with kind specific params
type Action struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Kind         Kind      `json:"kind"`
	Params       Params    `json:"params,omitempty"`
	LastExecuted time.Time `json:"last_executed,omitempty"`
}

// Sequence is an ordered list of action ids
type Sequence struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	ActionIDs []string `json:"action_ids"`
}

// Result reports the outcome of an action or a sequence
type Result struct {
	Success   bool          `json:"success"`
	Cancelled bool          `json:"cancelled,omitempty"`
	Output    string        `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

func failed(start time.Time, err error) Result {
	return Result{Success: false, Error: err.Error(), Duration: time.Since(start)}
}

// Params are decoded from JSON or YAML, so numbers may arrive as float64,
// int or string. The getters accept all of them.
type Params map[string]interface{}

func (p Params) String(key, def string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func (p Params) Float(key string, def float64) float64 {
	switch t := p[key].(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return f
		}
	}
	return def
}

func (p Params) Int(key string, def int) int {
	if _, ok := p[key]; !ok {
		return def
	}
	return int(p.Float(key, float64(def)))
}

func (p Params) Bool(key string, def bool) bool {
	switch t := p[key].(type) {
	case bool:
		return t
	case string:
		if b, err := strconv.ParseBool(t); err == nil {
			return b
		}
	}
	return def
}

// Has reports whether key is present and non-nil
func (p Params) Has(key string) bool {
	v, ok := p[key]
	return ok && v != nil
}

// Strings reads a list of strings, also accepting a single string
func (p Params) Strings(key string) []string {
	switch t := p[key].(type) {
	case []string:
		return t
	case string:
		return []string{t}
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, v := range t {
			out = append(out, fmt.Sprint(v))
		}
		return out
	}
	return nil
}

// Ints reads a list of numbers
func (p Params) Ints(key string) []int {
	switch t := p[key].(type) {
	case []int:
		return t
	case []interface{}:
		out := make([]int, 0, len(t))
		for i := range t {
			out = append(out, Params{"v": t[i]}.Int("v", 0))
		}
		return out
	}
	return nil
}

// Seconds reads a duration given in (fractional) seconds
func (p Params) Seconds(key string, def time.Duration) time.Duration {
	if !p.Has(key) {
		return def
	}
	return time.Duration(p.Float(key, def.Seconds()) * float64(time.Second))
}
