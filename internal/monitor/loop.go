package monitor

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"time"

	"ocr-watch/internal/errs"
	"ocr-watch/internal/events"
	"ocr-watch/internal/ocr"
)

const defaultBackoff = time.Second

// runArea is the per-area worker. It exits only when ctx is cancelled.
func (e *Engine) runArea(ctx context.Context, st *areaState, done chan struct{}) {
	defer e.loops.Done()
	defer close(done)
	defer func() {
		st.mu.Lock()
		st.area.Status.Running = false
		st.mu.Unlock()
	}()

	for {
		wait := e.iterate(ctx, st)
		if !sleep(ctx, wait) {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// iterate runs one capture cycle and returns how long to wait before the
// next one.
func (e *Engine) iterate(ctx context.Context, st *areaState) time.Duration {
	a := st.snapshot()

	res, rect, err := e.recognizeArea(ctx, a)
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		st.mu.Lock()
		st.area.Status.LastError = err.Error()
		st.mu.Unlock()
		e.reportError("recognition", a.ID, err)
		return e.backoff()
	}

	now := e.record(st, a, res)

	for _, ruleID := range a.RuleIDs {
		matched, err := e.rules.MatchScoped(a.ID, ruleID, res.Text)
		if err != nil {
			e.reportError("rule", a.ID, err)
			continue
		}
		if !matched {
			continue
		}
		st.mu.Lock()
		st.area.Status.MatchCount++
		st.mu.Unlock()

		e.log.Info().Str("area", a.ID).Str("rule", ruleID).Str("text", res.Text).Msg("Rule matched")
		e.bus.Publish(events.RuleMatched, map[string]interface{}{
			"area_id": a.ID,
			"rule_id": ruleID,
			"text":    res.Text,
		})
		n := e.sched.TriggerEvent("rule_matched", map[string]string{
			"area_id": a.ID,
			"rule_id": ruleID,
			"text":    res.Text,
		})
		if n > 0 {
			e.log.Debug().Str("area", a.ID).Str("rule", ruleID).Int("tasks", n).Msg("Tasks triggered")
		}
	}

	if a.Config.SaveImages {
		e.saveCapture(a, rect, now)
	}
	return time.Duration(a.Config.RefreshRate)
}

func (e *Engine) backoff() time.Duration {
	if e.cfg.ErrorBackoff > 0 {
		return e.cfg.ErrorBackoff
	}
	return defaultBackoff
}

// recognizeArea resolves the area's screen rectangle and runs the
// recognizer on it. A panicking recognizer is reported as an error.
func (e *Engine) recognizeArea(ctx context.Context, a Area) (res ocr.Result, rect image.Rectangle, err error) {
	rect = a.Rect.Rectangle()
	if a.Config.WindowTitle != "" {
		if e.windows == nil {
			return res, rect, errs.Newf(errs.ErrRecognition, "area %s: window lookup is unavailable", a.ID)
		}
		rect, err = e.windows.Resolve(a.Config.WindowTitle, rect)
		if err != nil {
			return res, rect, errs.Wrapf(err, errs.ErrRecognition, "area %s: resolve window %q", a.ID, a.Config.WindowTitle)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			err = errs.Newf(errs.ErrRecognition, "area %s: recognizer panic: %v", a.ID, r)
		}
	}()
	res, err = e.recognizer.Recognize(ctx, rect, ocr.Options{
		Language:   a.Config.Language,
		Preprocess: a.Config.Preprocessing,
	})
	if err != nil && !errs.HasCode(err, errs.ErrRecognition) {
		err = errs.Wrapf(err, errs.ErrRecognition, "area %s", a.ID)
	}
	return res, rect, err
}

// record stores a successful recognition in the area's status and publishes
// it together with the word level changes since the previous one.
func (e *Engine) record(st *areaState, a Area, res ocr.Result) time.Time {
	now := e.now()
	st.mu.Lock()
	prev := st.words
	st.words = res.Words
	st.area.Status.LastText = res.Text
	st.area.Status.LastCaptureTime = now
	st.area.Status.LastConfidence = res.Confidence
	st.area.Status.LastError = ""
	st.mu.Unlock()

	delta := ocr.Diff(prev, res.Words)
	e.log.Debug().
		Str("area", a.ID).
		Float64("confidence", res.Confidence).
		Dur("took", res.ProcessingTime).
		Bool("changed", !delta.Empty()).
		Msg("Text recognized")
	e.bus.Publish(events.TextRecognized, map[string]interface{}{
		"area_id":         a.ID,
		"text":            res.Text,
		"confidence":      res.Confidence,
		"processing_time": res.ProcessingTime.Milliseconds(),
		"delta":           delta,
	})
	return now
}

func (e *Engine) saveCapture(a Area, rect image.Rectangle, at time.Time) {
	if e.saver == nil {
		return
	}
	name := fmt.Sprintf("%s_%s.png", a.ID, at.Format("20060102_150405"))
	path := filepath.Join(a.Config.SaveDir, name)
	if err := e.saver.SaveCapture(rect, path, a.Name); err != nil {
		e.reportError("capture", a.ID, errs.Wrapf(err, errs.ErrRecognition, "save capture %s", path))
	}
}

// CaptureArea runs one recognition of the area outside its loop. The status
// is updated but rules are not evaluated.
func (e *Engine) CaptureArea(ctx context.Context, id string) (ocr.Result, error) {
	st, err := e.state(id)
	if err != nil {
		return ocr.Result{}, err
	}
	a := st.snapshot()
	res, rect, err := e.recognizeArea(ctx, a)
	if err != nil {
		e.reportError("recognition", id, err)
		return ocr.Result{}, err
	}
	now := e.record(st, a, res)
	if a.Config.SaveImages {
		e.saveCapture(a, rect, now)
	}
	return res, nil
}

// captureCallback captures one area, or every enabled area without an
// area_id param.
func (e *Engine) captureCallback(ctx context.Context, params map[string]interface{}) (string, error) {
	if id, _ := params["area_id"].(string); id != "" {
		res, err := e.CaptureArea(ctx, id)
		if err != nil {
			return "", err
		}
		return res.Text, nil
	}

	var captured, failed int
	for _, a := range e.Areas() {
		if !a.Enabled {
			continue
		}
		if _, err := e.CaptureArea(ctx, a.ID); err != nil {
			failed++
			continue
		}
		captured++
	}
	out := fmt.Sprintf("captured %d areas", captured)
	if failed > 0 {
		return out, errs.Newf(errs.ErrRecognition, "%d of %d captures failed", failed, captured+failed)
	}
	return out, nil
}

func (e *Engine) autoSave(ctx context.Context, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(e.cfg.SaveInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := e.Save(ctx); err != nil {
				e.reportError("persistence", "", err)
			}
		}
	}
}
