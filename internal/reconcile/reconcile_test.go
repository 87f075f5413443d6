package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/zot/shopsync/internal/config"
	"github.com/zot/shopsync/internal/local"
	"github.com/zot/shopsync/internal/remote"
)

// fixture shares one remote store and one local profile between any
// number of engines, each standing for a separate process.
type fixture struct {
	t       *testing.T
	cfg     *config.Config
	mem     *remote.Memory
	profile *local.Profile
	remote  bool
}

func newFixture(t *testing.T, remoteOn bool) *fixture {
	cfg := config.DefaultConfig()
	if remoteOn {
		cfg.Remote.URL = "http://hub.invalid"
		cfg.Remote.Project = "shop"
		cfg.Remote.AccessKey = "secret"
	}
	return &fixture{t: t, cfg: cfg, mem: remote.NewMemory(), profile: local.NewProfile(), remote: remoteOn}
}

func (f *fixture) engine() *Engine {
	store := local.NewStore(f.cfg, f.profile.Open())
	adapter := remote.NewAdapterWith(f.cfg, f.mem.Dialer())
	e := New(f.cfg, adapter, store)
	f.t.Cleanup(func() {
		e.Close()
		store.Close()
	})
	return e
}

func (f *fixture) seedLocal(key, value string) {
	f.t.Helper()
	if err := f.profile.Open().Set(f.cfg.Local.Prefix+key, value); err != nil {
		f.t.Fatalf("seed local: %v", err)
	}
}

func (f *fixture) localValue(key string) (string, bool) {
	v, ok, _ := f.profile.Open().Get(f.cfg.Local.Prefix + key)
	return v, ok
}

// TestIsEmpty verifies the empty classification
func TestIsEmpty(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  bool
	}{
		{"nil", nil, true},
		{"empty slice", []any{}, true},
		{"nil slice", []string(nil), true},
		{"empty map", map[string]any{}, true},
		{"slice of nil", []any{nil}, false},
		{"map with nil value", map[string]any{"a": nil}, false},
		{"zero", 0, false},
		{"false", false, false},
		{"empty string", "", false},
		{"nil pointer", (*int)(nil), true},
		{"populated", []int{0}, false},
	}
	for _, tt := range tests {
		if got := IsEmpty(tt.value); got != tt.want {
			t.Errorf("IsEmpty(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}

	raw := []struct {
		data string
		want bool
	}{
		{"", true},
		{"null", true},
		{"[]", true},
		{" { } ", true},
		{"[null]", false},
		{`{"a":null}`, false},
		{"0", false},
		{"false", false},
		{`""`, false},
		{"[", true},
	}
	for _, tt := range raw {
		if got := IsEmptyRaw(json.RawMessage(tt.data)); got != tt.want {
			t.Errorf("IsEmptyRaw(%q) = %v, want %v", tt.data, got, tt.want)
		}
	}
}

// TestReadYourWrite verifies Set is visible before the remote write completes
func TestReadYourWrite(t *testing.T) {
	f := newFixture(t, true)
	e := f.engine()
	cart := Use(e, "cart", []string{})
	e.Settle()

	release := f.mem.HoldWrites()
	cart.Set([]string{"p1"})
	if got := cart.Get(); len(got) != 1 || got[0] != "p1" {
		t.Errorf("Expected [p1] immediately, got %v", got)
	}
	if v, _ := f.localValue("cart"); v != `["p1"]` {
		t.Errorf("Expected local write-through, got %q", v)
	}
	if f.mem.Get("spookiki/cart") != nil {
		t.Error("Remote write should still be held")
	}

	release()
	e.Settle()
	if string(f.mem.Get("spookiki/cart")) != `["p1"]` {
		t.Errorf("Expected remote value after release, got %s", f.mem.Get("spookiki/cart"))
	}
	if got := cart.Get(); len(got) != 1 || got[0] != "p1" {
		t.Errorf("Expected [p1] after push, got %v", got)
	}
}

// TestColdRestartLocalOnly verifies a later process reads what an earlier one wrote
func TestColdRestartLocalOnly(t *testing.T) {
	f := newFixture(t, false)
	first := f.engine()
	orders := Use(first, "orders", []string(nil))
	if orders.Mode() != LocalFallback {
		t.Fatalf("Expected local mode, got %s", orders.Mode())
	}
	orders.Set([]string{"SPK1"})
	first.Close()

	second := f.engine()
	again := Use(second, "orders", []string(nil))
	if got := again.Get(); len(got) != 1 || got[0] != "SPK1" {
		t.Errorf("Expected [SPK1] after restart, got %v", got)
	}
}

// TestMigrationOnce verifies local data is written to an empty remote key exactly once
func TestMigrationOnce(t *testing.T) {
	f := newFixture(t, true)
	f.seedLocal("products", `[{"id":"1"}]`)
	e := f.engine()

	release := f.mem.HoldWrites()
	first := e.Bind("products", json.RawMessage(`[]`))
	e.svc.Idle()
	if first.Mode() != Migrating {
		t.Errorf("Expected migrating, got %s", first.Mode())
	}
	if string(first.Get()) != `[{"id":"1"}]` {
		t.Errorf("Expected local value during migration, got %s", first.Get())
	}

	for i := 0; i < 3; i++ {
		again := e.Bind("products", json.RawMessage(`[]`))
		e.svc.Idle()
		again.Close()
	}

	release()
	e.Settle()

	if n := f.mem.Writes("spookiki/products"); n != 1 {
		t.Errorf("Expected exactly 1 migration write, got %d", n)
	}
	if string(f.mem.Get("spookiki/products")) != `[{"id":"1"}]` {
		t.Errorf("Expected migrated remote value, got %s", f.mem.Get("spookiki/products"))
	}
	if first.Mode() != RemoteSubscribed {
		t.Errorf("Expected remote mode after migration, got %s", first.Mode())
	}
	if !e.Migrated("products") {
		t.Error("Expected key to be marked migrated")
	}

	later := e.Bind("products", json.RawMessage(`[]`))
	e.Settle()
	if string(later.Get()) != `[{"id":"1"}]` {
		t.Errorf("Expected remote value for later binding, got %s", later.Get())
	}
	if n := f.mem.Writes("spookiki/products"); n != 1 {
		t.Errorf("Expected no further writes, got %d", n)
	}
}

// TestFailedMigrationUnmarks verifies a failed migration can be attempted again
func TestFailedMigrationUnmarks(t *testing.T) {
	f := newFixture(t, true)
	f.seedLocal("orders", `["SPK1"]`)
	e := f.engine()

	f.mem.FailWrites(errors.New("permission denied"))
	b := e.Bind("orders", nil)
	e.Settle()

	if e.Migrated("orders") {
		t.Error("Expected failed migration to unmark the key")
	}
	if string(b.Get()) != `["SPK1"]` {
		t.Errorf("Expected local value to stand, got %s", b.Get())
	}
	if b.Mode() != RemoteSubscribed {
		t.Errorf("Expected remote mode after failed migration, got %s", b.Mode())
	}
	if f.mem.Writes("spookiki/orders") != 1 {
		t.Errorf("Expected 1 attempt, got %d", f.mem.Writes("spookiki/orders"))
	}

	f.mem.FailWrites(nil)
	b.Close()
	e.Bind("orders", nil)
	e.Settle()
	if f.mem.Writes("spookiki/orders") != 2 {
		t.Errorf("Expected a second attempt on re-subscribe, got %d", f.mem.Writes("spookiki/orders"))
	}
	if !e.Migrated("orders") {
		t.Error("Expected key marked after successful migration")
	}
}

// TestNoMigrationOfEmptyLocal verifies empty local data is not pushed
func TestNoMigrationOfEmptyLocal(t *testing.T) {
	f := newFixture(t, true)
	f.seedLocal("cart", `[]`)
	e := f.engine()

	cart := Use(e, "cart", []string{"default"})
	e.Settle()
	if got := cart.Get(); len(got) != 1 || got[0] != "default" {
		t.Errorf("Expected initial value, got %v", got)
	}
	if f.mem.Writes("spookiki/cart") != 0 {
		t.Errorf("Expected no writes, got %d", f.mem.Writes("spookiki/cart"))
	}
}

// TestRemotePushMirrorsLocal verifies pushes replace the value and refresh the local copy
func TestRemotePushMirrorsLocal(t *testing.T) {
	f := newFixture(t, true)
	e := f.engine()
	settings := Use(e, "website-settings", map[string]string{})
	e.Settle()

	f.mem.Set("spookiki/website-settings", json.RawMessage(`{"title":"Spookiki"}`))
	e.Settle()
	if got := settings.Get(); got["title"] != "Spookiki" {
		t.Errorf("Expected pushed settings, got %v", got)
	}
	if v, _ := f.localValue("website-settings"); v != `{"title":"Spookiki"}` {
		t.Errorf("Expected mirrored local value, got %q", v)
	}

	f.mem.Set("spookiki/website-settings", nil)
	e.Settle()
	if got := settings.Get(); len(got) != 0 {
		t.Errorf("Expected initial value after remote delete, got %v", got)
	}
	if v, _ := f.localValue("website-settings"); v != `{"title":"Spookiki"}` {
		t.Errorf("Expected local backup kept after remote delete, got %q", v)
	}
	if f.mem.Writes("spookiki/website-settings") != 0 {
		t.Error("A remote delete must not trigger a migration")
	}
}

// TestRemoteClearKeepsBackup verifies another device clearing the key leaves
// this process's local copy in place
func TestRemoteClearKeepsBackup(t *testing.T) {
	f := newFixture(t, true)
	e := f.engine()
	orders := e.Bind("orders", json.RawMessage(`[]`))
	e.Settle()
	orders.Set(json.RawMessage(`[{"id":"SPK1"}]`))
	e.Settle()

	f.mem.Set("spookiki/orders", nil)
	e.Settle()
	if string(orders.Get()) != `[]` {
		t.Errorf("Expected initial value after remote clear, got %s", orders.Get())
	}
	if v, ok := f.localValue("orders"); !ok || v != `[{"id":"SPK1"}]` {
		t.Errorf("Expected local backup kept, got ok=%v value=%q", ok, v)
	}

	f.mem.Set("spookiki/orders", json.RawMessage(`[]`))
	e.Settle()
	if v, _ := f.localValue("orders"); v != `[{"id":"SPK1"}]` {
		t.Errorf("Empty push must not overwrite the backup, got %q", v)
	}
}

// TestSequentialSetsKeepLastValue verifies remote writes of one key are
// applied in call order
func TestSequentialSetsKeepLastValue(t *testing.T) {
	for round := 0; round < 20; round++ {
		f := newFixture(t, true)
		e := f.engine()
		b := e.Bind("cart", nil)
		e.Settle()

		for i := 0; i < 20; i++ {
			b.Set(json.RawMessage(fmt.Sprintf("[%d]", i)))
		}
		e.Settle()

		if got := string(f.mem.Get("spookiki/cart")); got != "[19]" {
			t.Fatalf("round %d: expected remote [19], got %s", round, got)
		}
		if got := string(b.Get()); got != "[19]" {
			t.Fatalf("round %d: expected binding [19], got %s", round, got)
		}
		if v, _ := f.localValue("cart"); v != "[19]" {
			t.Fatalf("round %d: expected local [19], got %q", round, v)
		}
		if f.mem.Writes("spookiki/cart") != 20 {
			t.Errorf("round %d: expected 20 writes, got %d", round, f.mem.Writes("spookiki/cart"))
		}
	}
}

// TestWritesQueueBehindHeldWrite verifies later writes wait for the one in flight
func TestWritesQueueBehindHeldWrite(t *testing.T) {
	f := newFixture(t, true)
	e := f.engine()
	b := e.Bind("cart", nil)
	e.Settle()

	release := f.mem.HoldWrites()
	b.Set(json.RawMessage(`[1]`))
	b.Set(json.RawMessage(`[2]`))
	b.Set(json.RawMessage(`[3]`))
	release()
	e.Settle()

	if got := string(f.mem.Get("spookiki/cart")); got != "[3]" {
		t.Errorf("Expected remote [3], got %s", got)
	}
	if got := string(b.Get()); got != "[3]" {
		t.Errorf("Expected binding [3], got %s", got)
	}
}

// TestTransportErrorFallsBack verifies a broken subscription switches to local data
func TestTransportErrorFallsBack(t *testing.T) {
	f := newFixture(t, true)
	e := f.engine()
	cart := Use(e, "cart", []string(nil))
	other := Use(e, "orders", []string(nil))
	e.Settle()
	cart.Set([]string{"p1"})
	e.Settle()

	f.mem.Break("spookiki/cart", errors.New("network down"))
	e.Settle()
	if cart.Mode() != LocalFallback {
		t.Fatalf("Expected local mode, got %s", cart.Mode())
	}
	if other.Mode() != RemoteSubscribed {
		t.Errorf("Other keys must stay remote, got %s", other.Mode())
	}
	if got := cart.Get(); len(got) != 1 || got[0] != "p1" {
		t.Errorf("Expected local value after fallback, got %v", got)
	}

	tab := local.NewStore(f.cfg, f.profile.Open())
	tab.Write("cart", []string{"p2"})
	e.Settle()
	if got := cart.Get(); len(got) != 1 || got[0] != "p2" {
		t.Errorf("Expected other tab's write to be observed, got %v", got)
	}

	before := f.mem.Writes("spookiki/cart")
	cart.Set([]string{"p3"})
	e.Settle()
	if f.mem.Writes("spookiki/cart") != before+1 {
		t.Error("Expected writes to keep going to the remote handle")
	}
}

// TestRemoteUnavailable verifies incomplete parameters mean local-only operation
func TestRemoteUnavailable(t *testing.T) {
	f := newFixture(t, false)
	f.seedLocal("cart", `["p1"]`)
	e := f.engine()
	if e.RemoteEnabled() {
		t.Fatal("Expected remote disabled")
	}
	cart := Use(e, "cart", []string(nil))
	if cart.Mode() != LocalFallback {
		t.Errorf("Expected local mode, got %s", cart.Mode())
	}
	if got := cart.Get(); len(got) != 1 || got[0] != "p1" {
		t.Errorf("Expected local value, got %v", got)
	}
	cart.Set(nil)
	e.Settle()
	if len(f.mem.Paths()) != 0 {
		t.Errorf("Expected no remote traffic, got %v", f.mem.Paths())
	}
}

// TestCrossTabPropagation verifies a local-only write reaches another process
func TestCrossTabPropagation(t *testing.T) {
	f := newFixture(t, false)
	a := f.engine()
	b := f.engine()
	cartA := Use(a, "cart", []string{})
	cartB := Use(b, "cart", []string{})

	var seen []string
	var mu sync.Mutex
	cartB.OnChange(func(v []string) {
		mu.Lock()
		seen = append(seen, v...)
		mu.Unlock()
	})

	cartA.Set([]string{"p1"})
	b.Settle()
	if got := cartB.Get(); len(got) != 1 || got[0] != "p1" {
		t.Errorf("Expected [p1] in second process, got %v", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != "p1" {
		t.Errorf("Expected one change notification, got %v", seen)
	}
}

// TestTeardownSafety verifies Close is idempotent and silences callbacks
func TestTeardownSafety(t *testing.T) {
	f := newFixture(t, true)
	e := f.engine()
	b := e.Bind("cart", nil)
	e.Settle()

	calls := 0
	b.OnChange(func(json.RawMessage) { calls++ })
	b.Close()
	b.Close()

	f.mem.Set("spookiki/cart", json.RawMessage(`[1]`))
	b.Set(json.RawMessage(`[2]`))
	e.Settle()
	if calls != 0 {
		t.Errorf("Expected no callbacks after close, got %d", calls)
	}
	if n := f.mem.Subscribers("spookiki/cart"); n != 0 {
		t.Errorf("Expected listener detached, got %d", n)
	}
	if f.mem.Writes("spookiki/cart") != 0 {
		t.Error("Set after close must not write")
	}
}

// TestWriteResultAfterClose verifies a settling migration does not touch a closed binding
func TestWriteResultAfterClose(t *testing.T) {
	f := newFixture(t, true)
	f.seedLocal("blog_posts", `[{"id":"b1"}]`)
	e := f.engine()

	release := f.mem.HoldWrites()
	b := e.Bind("blog_posts", nil)
	e.svc.Idle()
	b.Close()
	release()
	e.Settle()

	if b.Mode() != Migrating {
		t.Errorf("Closed binding must keep its last mode, got %s", b.Mode())
	}
	if string(f.mem.Get("spookiki/blog_posts")) != `[{"id":"b1"}]` {
		t.Errorf("In-flight write must still complete, got %s", f.mem.Get("spookiki/blog_posts"))
	}
}

// TestUpdateAndDelete verifies the updater form and per-key delete
func TestUpdateAndDelete(t *testing.T) {
	f := newFixture(t, true)
	e := f.engine()
	counter := Use(e, "visits", 0)
	e.Settle()

	for i := 0; i < 3; i++ {
		counter.Update(func(n int) int { return n + 1 })
		if counter.Get() != i+1 {
			t.Errorf("Expected %d, got %d", i+1, counter.Get())
		}
		e.Settle()
	}
	if string(f.mem.Get("spookiki/visits")) != "3" {
		t.Errorf("Expected remote 3, got %s", f.mem.Get("spookiki/visits"))
	}

	counter.Delete()
	if counter.Get() != 0 {
		t.Errorf("Expected initial value after delete, got %d", counter.Get())
	}
	e.Settle()
	if f.mem.Get("spookiki/visits") != nil {
		t.Error("Expected remote key deleted")
	}
	if _, ok := f.localValue("visits"); ok {
		t.Error("Expected local key deleted")
	}
}

// TestKeySanitized verifies reserved characters are replaced in both stores
func TestKeySanitized(t *testing.T) {
	f := newFixture(t, true)
	e := f.engine()
	b := e.Bind("blog.posts", nil)
	if b.Path() != "spookiki/blog_posts" {
		t.Errorf("Expected sanitized path, got %q", b.Path())
	}
	b.Set(json.RawMessage(`[1]`))
	e.Settle()
	if _, ok := f.localValue("blog_posts"); !ok {
		t.Error("Expected sanitized local key")
	}
	if f.mem.Get("spookiki/blog_posts") == nil {
		t.Error("Expected sanitized remote path")
	}
}

// TestOnChangeOrder verifies listeners see values in write order
func TestOnChangeOrder(t *testing.T) {
	f := newFixture(t, false)
	e := f.engine()
	s := Use(e, "n", 0)

	var got []int
	cancel := s.OnChange(func(n int) { got = append(got, n) })
	for i := 1; i <= 5; i++ {
		s.Set(i)
	}
	e.Settle()
	cancel()
	s.Set(6)
	e.Settle()

	if len(got) != 5 {
		t.Fatalf("Expected 5 notifications, got %v", got)
	}
	for i, n := range got {
		if n != i+1 {
			t.Errorf("Notification %d = %d, want %d", i, n, i+1)
		}
	}
}

// TestDecodeMismatch verifies undecodable data yields the initial value
func TestDecodeMismatch(t *testing.T) {
	f := newFixture(t, false)
	f.seedLocal("settings", `"not a map"`)
	e := f.engine()
	s := Use(e, "settings", map[string]string{"k": "v"})
	if got := s.Get(); got["k"] != "v" {
		t.Errorf("Expected initial map, got %v", got)
	}
}
