package hub

import "testing"

// TestWatchUnwatch verifies counts and active transitions
func TestWatchUnwatch(t *testing.T) {
	wm := NewWatchManager()
	var transitions []bool
	wm.OnActiveChanged = func(path string, active bool) {
		transitions = append(transitions, active)
	}

	if n := wm.Watch("p/cart", "c1"); n != 1 {
		t.Errorf("Expected 1 watcher, got %d", n)
	}
	if n := wm.Watch("p/cart", "c1"); n != 1 {
		t.Errorf("Duplicate watch should not count twice, got %d", n)
	}
	if n := wm.Watch("p/cart", "c2"); n != 2 {
		t.Errorf("Expected 2 watchers, got %d", n)
	}

	if n := wm.Unwatch("p/cart", "c1"); n != 1 {
		t.Errorf("Expected 1 watcher after unwatch, got %d", n)
	}
	if n := wm.Unwatch("p/cart", "c1"); n != 1 {
		t.Errorf("Repeated unwatch should be a no-op, got %d", n)
	}
	wm.Unwatch("p/cart", "c2")

	if len(transitions) != 2 || !transitions[0] || transitions[1] {
		t.Errorf("Expected [true false] transitions, got %v", transitions)
	}
	if wm.WatcherCount("p/cart") != 0 {
		t.Error("Expected no watchers")
	}
}

// TestUnwatchAll verifies disconnect cleanup
func TestUnwatchAll(t *testing.T) {
	wm := NewWatchManager()
	wm.Watch("p/cart", "c1")
	wm.Watch("p/orders", "c1")
	wm.Watch("p/orders", "c2")

	paths := wm.UnwatchAll("c1")
	if len(paths) != 2 || paths[0] != "p/cart" || paths[1] != "p/orders" {
		t.Errorf("Expected [p/cart p/orders], got %v", paths)
	}
	if got := wm.Watchers("p/orders"); len(got) != 1 || got[0] != "c2" {
		t.Errorf("Expected c2 to remain, got %v", got)
	}
	if got := wm.Watchers("p/cart"); got != nil {
		t.Errorf("Expected no cart watchers, got %v", got)
	}
	if paths := wm.UnwatchAll("c1"); len(paths) != 0 {
		t.Errorf("Second UnwatchAll should be empty, got %v", paths)
	}
}
