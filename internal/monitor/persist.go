package monitor

import (
	"context"
	"errors"

	"ocr-watch/internal/action"
	"ocr-watch/internal/errs"
	"ocr-watch/internal/rule"
	"ocr-watch/internal/scheduler"
	"ocr-watch/internal/store"
)

// Load restores every collection from the store, dependencies first. Items
// that already exist are replaced. A broken item is reported and skipped;
// the rest still load, and the joined failures are returned.
func (e *Engine) Load(ctx context.Context) error {
	var failures []error
	fail := func(collection, id string, err error) {
		err = errs.Wrapf(err, errs.ErrPersistence, "load %s %s", collection, id)
		e.reportError("persistence", "", err)
		failures = append(failures, err)
	}

	for _, c := range store.Collections {
		records, err := e.store.Load(ctx, c)
		if err != nil {
			fail(c, "", err)
			continue
		}
		var n int
		switch c {
		case store.Rules:
			n = loadEach(records, c, fail, e.restoreRule)
		case store.RuleSets:
			n = loadEach(records, c, fail, e.restoreSet)
		case store.Actions:
			n = loadEach(records, c, fail, e.restoreAction)
		case store.Sequences:
			n = loadEach(records, c, fail, e.restoreSequence)
		case store.Areas:
			n = loadEach(records, c, fail, e.restoreArea)
		case store.Tasks:
			n = loadEach(records, c, fail, e.restoreTask)
		}
		e.log.Debug().Str("collection", c).Int("loaded", n).Int("stored", len(records)).Msg("Collection loaded")
	}

	if len(failures) > 0 {
		return errs.Wrap(errors.Join(failures...), errs.ErrPersistence, "load")
	}
	return nil
}

func loadEach[T any](records []store.Record, collection string, fail func(string, string, error), restore func(T) error) int {
	var n int
	for _, r := range records {
		items, err := store.Decode[T]([]store.Record{r})
		if err != nil {
			fail(collection, r.ID, err)
			continue
		}
		if err := restore(items[0]); err != nil {
			fail(collection, r.ID, err)
			continue
		}
		n++
	}
	return n
}

func (e *Engine) restoreRule(spec rule.Spec) error {
	if e.rules.HasRule(spec.ID) {
		_, err := e.rules.ReplaceRule(spec)
		return err
	}
	_, err := e.rules.AddRule(spec)
	return err
}

func (e *Engine) restoreSet(spec rule.SetSpec) error {
	e.rules.RemoveSet(spec.ID)
	_, err := e.rules.AddSet(spec)
	return err
}

func (e *Engine) restoreAction(a action.Action) error {
	if _, ok := e.actions.GetAction(a.ID); ok {
		return e.actions.UpdateAction(a)
	}
	_, err := e.actions.AddAction(a)
	return err
}

func (e *Engine) restoreSequence(s action.Sequence) error {
	e.actions.RemoveSequence(s.ID)
	_, err := e.actions.CreateSequence(s)
	return err
}

func (e *Engine) restoreArea(a Area) error {
	if _, ok := e.GetArea(a.ID); ok {
		return e.UpdateArea(a)
	}
	_, err := e.AddArea(a)
	return err
}

func (e *Engine) restoreTask(t scheduler.Task) error {
	e.sched.RemoveTask(t.ID)
	_, err := e.sched.AddTask(t)
	return err
}

// Save writes every collection to the store. Area status is runtime state
// and is not persisted.
func (e *Engine) Save(ctx context.Context) error {
	areas := e.Areas()
	for i := range areas {
		areas[i].Status = Status{}
	}

	var failures []error
	save := func(collection string, records []store.Record, err error) {
		if err == nil {
			err = e.store.Save(ctx, collection, records)
		}
		if err != nil {
			failures = append(failures, errs.Wrapf(err, errs.ErrPersistence, "save %s", collection))
		}
	}

	recs, err := store.Encode(e.rules.RuleSpecs(), func(s rule.Spec) string { return s.ID })
	save(store.Rules, recs, err)
	recs, err = store.Encode(e.rules.Sets(), func(s rule.SetSpec) string { return s.ID })
	save(store.RuleSets, recs, err)
	recs, err = store.Encode(e.actions.Actions(), func(a action.Action) string { return a.ID })
	save(store.Actions, recs, err)
	recs, err = store.Encode(e.actions.Sequences(), func(s action.Sequence) string { return s.ID })
	save(store.Sequences, recs, err)
	recs, err = store.Encode(areas, func(a Area) string { return a.ID })
	save(store.Areas, recs, err)
	recs, err = store.Encode(e.sched.Tasks(), func(t scheduler.Task) string { return t.ID })
	save(store.Tasks, recs, err)

	if len(failures) > 0 {
		return errors.Join(failures...)
	}
	e.log.Info().Int("areas", len(areas)).Msg("State saved")
	return nil
}
