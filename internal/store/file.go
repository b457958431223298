package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"ocr-watch/internal/errs"
)

// File keeps one YAML document per collection under a directory, so the
// configuration can be edited by hand.
type File struct {
	dir string
	mu  sync.Mutex
}

func OpenFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrapf(err, errs.ErrPersistence, "create store directory %s", dir)
	}
	return &File{dir: dir}, nil
}

func (f *File) path(collection string) string {
	return filepath.Join(f.dir, collection+".yaml")
}

// Load reads the collection. A missing file is an empty collection.
func (f *File) Load(_ context.Context, collection string) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := os.ReadFile(f.path(collection))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrapf(err, errs.ErrPersistence, "read %s", collection)
	}

	var items []map[string]interface{}
	if err := yaml.Unmarshal(raw, &items); err != nil {
		return nil, errs.Wrapf(err, errs.ErrPersistence, "parse %s", f.path(collection))
	}
	out := make([]Record, 0, len(items))
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return nil, errs.Wrapf(err, errs.ErrPersistence, "convert %s", collection)
		}
		id, _ := item["id"].(string)
		out = append(out, Record{ID: id, Data: data})
	}
	return out, nil
}

// Save writes the collection to a temporary file and renames it into place
func (f *File) Save(_ context.Context, collection string, records []Record) error {
	items := make([]interface{}, 0, len(records))
	for _, r := range records {
		var v interface{}
		if err := json.Unmarshal(r.Data, &v); err != nil {
			return errs.Wrapf(err, errs.ErrPersistence, "convert %s/%s", collection, r.ID)
		}
		items = append(items, v)
	}
	out, err := yaml.Marshal(items)
	if err != nil {
		return errs.Wrapf(err, errs.ErrPersistence, "encode %s", collection)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	tmp, err := os.CreateTemp(f.dir, collection+".*.tmp")
	if err != nil {
		return errs.Wrapf(err, errs.ErrPersistence, "save %s", collection)
	}
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errs.Wrapf(err, errs.ErrPersistence, "write %s", collection)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errs.Wrapf(err, errs.ErrPersistence, "write %s", collection)
	}
	if err := os.Rename(tmp.Name(), f.path(collection)); err != nil {
		os.Remove(tmp.Name())
		return errs.Wrapf(err, errs.ErrPersistence, "replace %s", collection)
	}
	return nil
}

func (f *File) Close() error { return nil }
