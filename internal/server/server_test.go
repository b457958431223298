package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocr-watch/internal/action"
	"ocr-watch/internal/config"
	"ocr-watch/internal/monitor"
	"ocr-watch/internal/ocr"
	"ocr-watch/internal/rule"
	"ocr-watch/internal/scheduler"
)

type staticRecognizer struct{ text string }

func (r staticRecognizer) Recognize(context.Context, image.Rectangle, ocr.Options) (ocr.Result, error) {
	return ocr.Result{Text: r.text, Confidence: 88}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *monitor.Engine) {
	t.Helper()
	log := zerolog.Nop()
	rules := rule.NewEngine()
	exec := action.NewExecutor(config.Executor{}, action.Effectors{}, nil, log)
	sched := scheduler.New(config.Scheduler{
		CheckInterval:      time.Hour,
		MaxConcurrentTasks: 2,
		StopTimeout:        time.Second,
	}, exec, rules, nil, log)
	engine, err := monitor.New(config.Engine{
		DefaultArea: config.Area{RefreshRate: time.Hour, Language: "eng"},
	}, monitor.Deps{
		Recognizer: staticRecognizer{text: "Total: 120"},
		Rules:      rules,
		Actions:    exec,
		Scheduler:  sched,
		Log:        log,
	})
	require.NoError(t, err)
	t.Cleanup(func() { engine.Stop() })

	srv := httptest.NewServer(New(engine, nil, log))
	t.Cleanup(srv.Close)
	return srv, engine
}

func call(t *testing.T, srv *httptest.Server, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestRuleEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	var created idResponse
	code := call(t, srv, http.MethodPost, "/rules", rule.Spec{ID: "big", Kind: rule.Numeric, Content: "100", Params: rule.Params{Operator: rule.Gt}}, &created)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "big", created.ID)

	var errBody map[string]string
	code = call(t, srv, http.MethodPost, "/rules", rule.Spec{ID: "bad", Kind: rule.Regex, Content: "("}, &errBody)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "RULE_CONFIG", errBody["code"])

	code = call(t, srv, http.MethodPost, "/rules", rule.Spec{ID: "big", Kind: rule.Contains}, &errBody)
	assert.Equal(t, http.StatusConflict, code)

	var match map[string]bool
	code = call(t, srv, http.MethodPost, "/rules/big/match", textRequest{Text: "Total: 120"}, &match)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, match["matched"])

	var view ruleView
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/rules/big", nil, &view))
	assert.Equal(t, "Total: 120", view.State.LastMatchText)

	var set idResponse
	code = call(t, srv, http.MethodPost, "/rulesets", rule.SetSpec{ID: "s", Mode: rule.Custom, Expression: "not big"}, &set)
	require.Equal(t, http.StatusCreated, code)
	code = call(t, srv, http.MethodPost, "/rulesets/s/evaluate", textRequest{Text: "Total: 5"}, &match)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, match["matched"])

	// referenced by a custom expression
	assert.Equal(t, http.StatusBadRequest, call(t, srv, http.MethodDelete, "/rules/big", nil, nil))
	assert.Equal(t, http.StatusNoContent, call(t, srv, http.MethodDelete, "/rulesets/s", nil, nil))
	assert.Equal(t, http.StatusNoContent, call(t, srv, http.MethodDelete, "/rules/big", nil, nil))
	assert.Equal(t, http.StatusNotFound, call(t, srv, http.MethodGet, "/rules/big", nil, nil))
}

func TestAreaEndpoints(t *testing.T) {
	srv, engine := newTestServer(t)
	_, err := engine.Rules().AddRule(rule.Spec{ID: "total", Kind: rule.Contains, Content: "total"})
	require.NoError(t, err)

	var created idResponse
	code := call(t, srv, http.MethodPost, "/areas", monitor.Area{
		ID:      "a1",
		Name:    "counter",
		Rect:    monitor.Rect{Width: 100, Height: 20},
		Enabled: true,
	}, &created)
	require.Equal(t, http.StatusCreated, code)

	assert.Equal(t, http.StatusOK, call(t, srv, http.MethodPost, "/areas/a1/rules/total", nil, nil))
	assert.Equal(t, http.StatusNotFound, call(t, srv, http.MethodPost, "/areas/a1/rules/missing", nil, nil))

	var res ocr.Result
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodPost, "/areas/a1/capture", nil, &res))
	assert.Equal(t, "Total: 120", res.Text)

	var a monitor.Area
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/areas/a1", nil, &a))
	assert.Equal(t, []string{"total"}, a.RuleIDs)
	assert.Equal(t, "Total: 120", a.Status.LastText)

	assert.Equal(t, http.StatusOK, call(t, srv, http.MethodPost, "/areas/a1/disable", nil, nil))
	assert.Equal(t, http.StatusNotFound, call(t, srv, http.MethodPost, "/areas/zz/enable", nil, nil))

	var list []monitor.Area
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/areas", nil, &list))
	require.Len(t, list, 1)
	assert.False(t, list[0].Enabled)

	assert.Equal(t, http.StatusBadRequest, call(t, srv, http.MethodPut, "/areas/a1", monitor.Area{Name: "flat"}, nil))
	assert.Equal(t, http.StatusNoContent, call(t, srv, http.MethodDelete, "/areas/a1", nil, nil))
}

func TestEngineAndTaskEndpoints(t *testing.T) {
	srv, engine := newTestServer(t)

	got := make(chan map[string]interface{}, 1)
	engine.Scheduler().RegisterCallback("record", func(_ context.Context, params map[string]interface{}) (string, error) {
		got <- params
		return "ok", nil
	})

	var created idResponse
	code := call(t, srv, http.MethodPost, "/tasks", scheduler.Task{
		ID:       "on-deploy",
		Kind:     scheduler.Event,
		Enabled:  true,
		Schedule: scheduler.Schedule{EventType: "deploy"},
		Target:   scheduler.TargetSpec{Type: scheduler.CallbackType, ID: "record"},
	}, &created)
	require.Equal(t, http.StatusCreated, code)

	// the scheduler ignores events until the engine runs
	assert.Equal(t, http.StatusConflict, call(t, srv, http.MethodPost, "/tasks/on-deploy/run", nil, nil))
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodPost, "/engine/start", nil, nil))
	assert.Equal(t, http.StatusConflict, call(t, srv, http.MethodPost, "/engine/start", nil, nil))

	var status map[string]any
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/engine/status", nil, &status))
	assert.Equal(t, true, status["running"])

	var dispatched map[string]int
	code = call(t, srv, http.MethodPost, "/events/deploy", map[string]string{"env": "prod"}, &dispatched)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, dispatched["dispatched"])

	select {
	case params := <-got:
		assert.Equal(t, "prod", params["env"])
	case <-time.After(5 * time.Second):
		t.Fatal("callback was not dispatched")
	}

	assert.Equal(t, http.StatusOK, call(t, srv, http.MethodPost, "/tasks/on-deploy/disable", nil, nil))
	assert.Equal(t, http.StatusNotFound, call(t, srv, http.MethodPost, "/tasks/missing/cancel", nil, nil))

	require.Equal(t, http.StatusOK, call(t, srv, http.MethodPost, "/engine/stop", nil, nil))
	assert.False(t, engine.IsRunning())
}

func TestActionEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	var created idResponse
	code := call(t, srv, http.MethodPost, "/actions", action.Action{ID: "pause", Kind: action.Delay, Params: action.Params{"delay": 0}}, &created)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, http.StatusBadRequest, call(t, srv, http.MethodPost, "/actions", action.Action{Kind: "teleport"}, nil))

	code = call(t, srv, http.MethodPost, "/sequences", action.Sequence{ID: "seq", ActionIDs: []string{"pause", "pause"}}, &created)
	require.Equal(t, http.StatusCreated, code)

	var res action.Result
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodPost, "/sequences/seq/execute", nil, &res))
	assert.True(t, res.Success, res.Error)

	var stopped map[string]bool
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodPost, "/sequences/stop", nil, &stopped))
	assert.False(t, stopped["stopped"])

	assert.Equal(t, http.StatusNoContent, call(t, srv, http.MethodDelete, "/actions/pause", nil, nil))
	var seq action.Sequence
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/sequences/seq", nil, &seq))
	assert.Empty(t, seq.ActionIDs)
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t)
	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/areas", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
