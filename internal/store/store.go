// Package store persists the engine's rules, areas, actions and tasks as
// ordered collections of JSON records.
package store

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"ocr-watch/internal/config"
	"ocr-watch/internal/errs"
)

// Collection names used by the engine
const (
	Rules     = "rules"
	RuleSets  = "rulesets"
	Areas     = "areas"
	Actions   = "actions"
	Sequences = "sequences"
	Tasks     = "tasks"
)

// Collections lists every collection in load order: dependencies first.
var Collections = []string{Rules, RuleSets, Actions, Sequences, Areas, Tasks}

// Record is one stored item. Data is the item's JSON encoding.
type Record struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// Store loads and saves whole collections. Save replaces the stored
// collection with records, keeping their order.
type Store interface {
	Load(ctx context.Context, collection string) ([]Record, error)
	Save(ctx context.Context, collection string, records []Record) error
	Close() error
}

// Open returns the store selected by cfg.Driver
func Open(cfg config.Store) (Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return OpenSQLite(cfg.Path)
	case "file":
		return OpenFile(cfg.Path)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errs.Newf(errs.ErrConfig, "unknown store driver %q", cfg.Driver)
	}
}

// Encode marshals items into records, taking each id from id
func Encode[T any](items []T, id func(T) string) ([]Record, error) {
	out := make([]Record, 0, len(items))
	for _, it := range items {
		data, err := json.Marshal(it)
		if err != nil {
			return nil, errs.Wrapf(err, errs.ErrPersistence, "encode %s", id(it))
		}
		out = append(out, Record{ID: id(it), Data: data})
	}
	return out, nil
}

// Decode unmarshals records into items
func Decode[T any](records []Record) ([]T, error) {
	out := make([]T, 0, len(records))
	for _, r := range records {
		var v T
		if err := json.Unmarshal(r.Data, &v); err != nil {
			return nil, errs.Wrapf(err, errs.ErrPersistence, "decode %s", r.ID)
		}
		out = append(out, v)
	}
	return out, nil
}

// Memory keeps collections in process. Used for tests and store.driver=memory.
type Memory struct {
	mu   sync.Mutex
	data map[string][]Record
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]Record)}
}

func (m *Memory) Load(_ context.Context, collection string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneRecords(m.data[collection]), nil
}

func (m *Memory) Save(_ context.Context, collection string, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[collection] = cloneRecords(records)
	return nil
}

func (m *Memory) Close() error { return nil }

func cloneRecords(in []Record) []Record {
	out := make([]Record, len(in))
	for i, r := range in {
		out[i] = Record{ID: r.ID, Data: slices.Clone(r.Data)}
	}
	return out
}
