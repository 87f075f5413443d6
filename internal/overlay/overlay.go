// Package overlay merges bundled read-only datasets with local edits.
//
// The bundled records come from a Loader. Edits are stored in full under
// one local key: after the first edit the local copy holds every record of
// the merged collection and wins over the bundled version of each of them.
package overlay

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/zot/shopsync/internal/config"
	"github.com/zot/shopsync/internal/local"
)

// Record is anything with a stable id.
type Record interface {
	GetID() string
}

// Overlay is one dataset with its local edits.
type Overlay[T Record] struct {
	config *config.Config
	loader *Loader
	store  *local.Store
	name   string
	key    string

	mu      sync.Mutex
	bundled []T
	loaded  bool
}

// New creates an overlay of dataset name edited under local key.
func New[T Record](cfg *config.Config, loader *Loader, store *local.Store, name, key string) *Overlay[T] {
	return &Overlay[T]{config: cfg, loader: loader, store: store, name: name, key: key}
}

// Load fetches the bundled dataset on first call. Failures are logged and
// give an empty dataset.
func (o *Overlay[T]) Load(ctx context.Context) []T {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.loaded {
		return o.bundled
	}
	o.loaded = true

	data, err := o.loader.Fetch(ctx, o.name)
	if err != nil {
		o.config.Log(0, "overlay: failed to load repository data from %s: %v", o.name, err)
		o.bundled = nil
		return nil
	}
	records, err := Decode[T](o.name, data)
	if err != nil {
		o.config.Log(0, "overlay: error loading repository data from %s: %v", o.name, err)
		o.bundled = nil
		return nil
	}
	o.bundled = records
	o.config.Log(2, "overlay: loaded %d records from %s", len(records), o.name)
	return records
}

// Loaded reports whether Load has run.
func (o *Overlay[T]) Loaded() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.loaded
}

// Bundled returns the dataset as loaded.
func (o *Overlay[T]) Bundled() []T {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.bundled
}

// Edits returns the locally stored records.
func (o *Overlay[T]) Edits() []T {
	var edits []T
	if !o.store.ReadInto(o.key, &edits) {
		return nil
	}
	return edits
}

// MergedView returns the bundled records with local versions substituted
// and local-only records appended. It is nil until Load has run.
func (o *Overlay[T]) MergedView() []T {
	o.mu.Lock()
	loaded, bundled := o.loaded, o.bundled
	o.mu.Unlock()
	if !loaded {
		return nil
	}
	return Merge(bundled, o.Edits())
}

// Merge overlays edits on bundled by id.
func Merge[T Record](bundled, edits []T) []T {
	byID := make(map[string]int, len(edits))
	for i, rec := range edits {
		byID[rec.GetID()] = i
	}
	used := make([]bool, len(edits))

	merged := make([]T, 0, len(bundled)+len(edits))
	for _, rec := range bundled {
		if i, ok := byID[rec.GetID()]; ok {
			merged = append(merged, edits[i])
			used[i] = true
			continue
		}
		merged = append(merged, rec)
	}
	for i, rec := range edits {
		if !used[i] && byID[rec.GetID()] == i {
			merged = append(merged, rec)
		}
	}
	return merged
}

// Set stores records as the complete local copy.
func (o *Overlay[T]) Set(records []T) error {
	if records == nil {
		records = []T{}
	}
	return o.store.Write(o.key, records)
}

// Update computes the new collection from the current merged view.
func (o *Overlay[T]) Update(fn func(current []T) []T) error {
	return o.Set(fn(o.MergedView()))
}

// Reset drops every local edit.
func (o *Overlay[T]) Reset() error {
	return o.store.Remove(o.key)
}

// OnChange observes edits made by other writers and reports the new merged view.
func (o *Overlay[T]) OnChange(fn func([]T)) func() {
	return o.store.Subscribe(o.key, func(json.RawMessage) {
		fn(o.MergedView())
	})
}
