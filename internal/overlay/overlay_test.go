package overlay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"
	"testing/fstest"

	"github.com/zot/shopsync/internal/config"
	"github.com/zot/shopsync/internal/local"
)

type item struct {
	ID string `json:"id"`
	X  string `json:"x"`
}

func (i item) GetID() string { return i.ID }

func newOverlay(t *testing.T, files fstest.MapFS, name string) (*Overlay[item], *local.Store) {
	t.Helper()
	cfg := config.DefaultConfig()
	store := local.NewStore(cfg, local.NewProfile().Open())
	t.Cleanup(func() { store.Close() })
	return New[item](cfg, NewFSLoader(cfg, files), store, name, "items"), store
}

var bundledItems = fstest.MapFS{
	"items.json": {Data: []byte(`[{"id":"1","x":"a"},{"id":"2","x":"b"}]`)},
	"items.yaml": {Data: []byte("- id: \"1\"\n  x: a\n- id: \"2\"\n  x: b\n")},
	"broken.json": {Data: []byte(`{"id":`)},
}

// TestMergedView verifies substitution by id and appending of new records
func TestMergedView(t *testing.T) {
	o, _ := newOverlay(t, bundledItems, "items.json")
	if o.MergedView() != nil {
		t.Error("Expected nil view before Load")
	}
	o.Load(context.Background())

	if err := o.Set([]item{{"2", "B"}, {"3", "c"}}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	want := []item{{"1", "a"}, {"2", "B"}, {"3", "c"}}
	if got := o.MergedView(); !reflect.DeepEqual(got, want) {
		t.Errorf("MergedView = %v, want %v", got, want)
	}
}

// TestReset verifies reset restores the bundled dataset exactly
func TestReset(t *testing.T) {
	o, _ := newOverlay(t, bundledItems, "items.json")
	bundled := o.Load(context.Background())
	o.Update(func(cur []item) []item {
		cur[0].X = "edited"
		return append(cur, item{"9", "z"})
	})
	if got := o.MergedView(); len(got) != 3 || got[0].X != "edited" {
		t.Fatalf("Unexpected edited view %v", got)
	}

	if err := o.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if got := o.MergedView(); !reflect.DeepEqual(got, bundled) {
		t.Errorf("Expected bundled %v after reset, got %v", bundled, got)
	}
	if o.Edits() != nil {
		t.Errorf("Expected no edits after reset, got %v", o.Edits())
	}
}

// TestFullShadowCopy verifies the local copy keeps winning after the bundle changes
func TestFullShadowCopy(t *testing.T) {
	o, store := newOverlay(t, bundledItems, "items.json")
	o.Load(context.Background())
	o.Update(func(cur []item) []item { return cur })

	var edits []item
	if !store.ReadInto("items", &edits) || len(edits) != 2 {
		t.Fatalf("Expected full copy of 2 records, got %v", edits)
	}

	merged := Merge([]item{{"1", "new"}, {"2", "new"}, {"4", "d"}}, edits)
	want := []item{{"1", "a"}, {"2", "b"}, {"4", "d"}}
	if !reflect.DeepEqual(merged, want) {
		t.Errorf("Merge = %v, want %v", merged, want)
	}
}

// TestLoadFailure verifies missing or broken datasets merge as empty
func TestLoadFailure(t *testing.T) {
	for _, name := range []string{"missing.json", "broken.json"} {
		o, _ := newOverlay(t, bundledItems, name)
		if got := o.Load(context.Background()); len(got) != 0 {
			t.Errorf("%s: expected empty dataset, got %v", name, got)
		}
		o.Set([]item{{"5", "e"}})
		if got := o.MergedView(); len(got) != 1 || got[0].ID != "5" {
			t.Errorf("%s: expected edits only, got %v", name, got)
		}
	}
}

// TestLoadYAML verifies YAML datasets decode like JSON
func TestLoadYAML(t *testing.T) {
	o, _ := newOverlay(t, bundledItems, "items.yaml")
	want := []item{{"1", "a"}, {"2", "b"}}
	if got := o.Load(context.Background()); !reflect.DeepEqual(got, want) {
		t.Errorf("Load = %v, want %v", got, want)
	}
}

// TestLoadHTTP verifies fetching over HTTP and status failures
func TestLoadHTTP(t *testing.T) {
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		if r.URL.Path != "/data/items.json" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`[{"id":"1","x":"a"}]`))
	}))
	defer srv.Close()

	cfg := config.DefaultConfig()
	cfg.Dataset.BaseURL = srv.URL + "/data/"
	loader := NewLoader(cfg)
	store := local.NewStore(cfg, local.NewProfile().Open())

	o := New[item](cfg, loader, store, "items.json", "items")
	o.Load(context.Background())
	o.Load(context.Background())
	if got := o.MergedView(); len(got) != 1 || got[0].X != "a" {
		t.Errorf("Unexpected view %v", got)
	}
	if n := fetches.Load(); n != 1 {
		t.Errorf("Expected one fetch, got %d", n)
	}

	missing := New[item](cfg, loader, store, "nope.json", "nope")
	if got := missing.Load(context.Background()); got != nil {
		t.Errorf("Expected nil on 404, got %v", got)
	}
}
