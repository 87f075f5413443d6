package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zot/shopsync/internal/bundle"
	"github.com/zot/shopsync/internal/remote"
)

// syncBuffer is a bytes.Buffer safe for the watch and serve goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	t    *testing.T
	dir  string
	mem  *remote.Memory
	base []string
}

func newHarness(t *testing.T, remoteOn bool) *harness {
	dir := t.TempDir()
	h := &harness{
		t:   t,
		dir: dir,
		mem: remote.NewMemory(),
		base: []string{
			"-config", filepath.Join(dir, "none.toml"),
			"-local", "file",
			"-local-dir", filepath.Join(dir, "local"),
		},
	}
	if remoteOn {
		h.base = append(h.base, "-remote-url", "http://hub.invalid", "-project", "shop", "-access-key", "k")
	}
	return h
}

// run executes one command in a fresh process-like CLI.
func (h *harness) run(ctx context.Context, command string, args ...string) (int, string, string) {
	var out, errOut syncBuffer
	return h.runWith(ctx, &out, &errOut, command, args...), out.String(), errOut.String()
}

func (h *harness) runWith(ctx context.Context, out, errOut *syncBuffer, command string, args ...string) int {
	c := newCLI(out, errOut, nil)
	c.dial = h.mem.Dialer()
	full := append([]string{command}, h.base...)
	return c.run(ctx, append(full, args...))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// TestSetGetDelete verifies key commands against the remote store
func TestSetGetDelete(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	if code, _, errOut := h.run(ctx, "set", "cart", `[1,2]`); code != 0 {
		t.Fatalf("set exited %d: %s", code, errOut)
	}
	if got := string(h.mem.Get("spookiki/cart")); got != "[1,2]" {
		t.Errorf("Expected remote value [1,2], got %s", got)
	}

	_, out, _ := h.run(ctx, "get", "cart")
	if out != "[\n  1,\n  2\n]\n" {
		t.Errorf("Unexpected get output %q", out)
	}

	if code, _, _ := h.run(ctx, "delete", "cart"); code != 0 {
		t.Fatalf("delete exited %d", code)
	}
	if h.mem.Get("spookiki/cart") != nil {
		t.Error("Expected remote value to be deleted")
	}
	if _, out, _ := h.run(ctx, "get", "cart"); out != "null\n" {
		t.Errorf("Expected null after delete, got %q", out)
	}
}

// TestSetLocalOnly verifies values persist in the local store between runs
func TestSetLocalOnly(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	if code, _, errOut := h.run(ctx, "set", "website-settings", `{"siteName":"Spookiki"}`); code != 0 {
		t.Fatalf("set exited %d: %s", code, errOut)
	}
	_, out, _ := h.run(ctx, "get", "website-settings")
	if !strings.Contains(out, `"siteName": "Spookiki"`) {
		t.Errorf("Unexpected get output %q", out)
	}
	if len(h.mem.Paths()) != 0 {
		t.Errorf("Expected no remote writes, got %v", h.mem.Paths())
	}
}

// TestSetValidation verifies bad JSON and argument counts are rejected
func TestSetValidation(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	if code, _, errOut := h.run(ctx, "set", "cart", "{nope"); code != 1 || !strings.Contains(errOut, "not valid JSON") {
		t.Errorf("Expected invalid JSON error, got %d %q", code, errOut)
	}
	if code, _, errOut := h.run(ctx, "get"); code != 1 || !strings.Contains(errOut, "Usage") {
		t.Errorf("Expected usage error, got %d %q", code, errOut)
	}
}

// TestSetStdin verifies "-" reads the value from stdin
func TestSetStdin(t *testing.T) {
	h := newHarness(t, true)
	var out, errOut syncBuffer
	c := newCLI(&out, &errOut, nil)
	c.dial = h.mem.Dialer()
	c.stdin = strings.NewReader("  {\"a\":1}\n")
	args := append(append([]string{"set"}, h.base...), "orders", "-")
	if code := c.run(context.Background(), args); code != 0 {
		t.Fatalf("set exited %d: %s", code, errOut.String())
	}
	if got := string(h.mem.Get("spookiki/orders")); got != `{"a":1}` {
		t.Errorf("Expected stdin value, got %s", got)
	}
}

// TestKeys verifies local and remote listings
func TestKeys(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.run(ctx, "set", "cart", `[1]`)

	_, out, _ := h.run(ctx, "keys")
	want := "local:\n  cart\nremote:\n  spookiki/cart\n"
	if out != want {
		t.Errorf("keys = %q, want %q", out, want)
	}
}

// TestWatch verifies the initial value and later pushes are printed
func TestWatch(t *testing.T) {
	h := newHarness(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	var out, errOut syncBuffer
	done := make(chan int, 1)
	go func() { done <- h.runWith(ctx, &out, &errOut, "watch", "cart") }()

	waitFor(t, "initial value", func() bool { return strings.Contains(out.String(), "null\n") })
	waitFor(t, "subscription", func() bool { return h.mem.Subscribers("spookiki/cart") > 0 })
	h.mem.Set("spookiki/cart", []byte(`["moonstone"]`))
	waitFor(t, "pushed value", func() bool { return strings.Contains(out.String(), `"moonstone"`) })

	cancel()
	select {
	case code := <-done:
		if code != 0 {
			t.Errorf("watch exited %d: %s", code, errOut.String())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

// TestDataset verifies the merged dataset dump
func TestDataset(t *testing.T) {
	h := newHarness(t, false)
	data := filepath.Join(h.dir, "data")
	os.MkdirAll(data, 0o755)
	os.WriteFile(filepath.Join(data, "products.json"), []byte(`[{"id":"1","name":"Ring","status":"active"}]`), 0o644)

	code, out, errOut := h.run(context.Background(), "dataset", "-datasets", data, "products")
	if code != 0 {
		t.Fatalf("dataset exited %d: %s", code, errOut)
	}
	if !strings.Contains(out, `"name": "Ring"`) {
		t.Errorf("Unexpected dataset output %q", out)
	}
	if code, _, _ := h.run(context.Background(), "dataset", "-datasets", data, "users"); code != 1 {
		t.Errorf("Expected unknown dataset to fail, got %d", code)
	}
}

// TestServe verifies the hub starts and stops with the context
func TestServe(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "hub.toml")
	os.WriteFile(cfgPath, []byte("[hub]\nhost = \"127.0.0.1\"\nport = 0\n"), 0o644)

	ctx, cancel := context.WithCancel(context.Background())
	var out, errOut syncBuffer
	done := make(chan int, 1)
	go func() {
		done <- newCLI(&out, &errOut, nil).run(ctx, []string{"serve", "-config", cfgPath})
	}()

	waitFor(t, "hub start", func() bool { return strings.Contains(out.String(), "Hub listening on 127.0.0.1:") })
	cancel()
	select {
	case code := <-done:
		if code != 0 {
			t.Errorf("serve exited %d: %s", code, errOut.String())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}

// TestBundleCommand verifies datasets are attached to a binary
func TestBundleCommand(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "shopctl")
	data := filepath.Join(dir, "data")
	os.WriteFile(src, []byte("binary"), 0o755)
	os.MkdirAll(data, 0o755)
	os.WriteFile(filepath.Join(data, "products.json"), []byte("[]"), 0o644)

	out := filepath.Join(dir, "bundled")
	var stdout, stderr syncBuffer
	if code := newCLI(&stdout, &stderr, nil).run(context.Background(), []string{"bundle", "-src", src, "-o", out, data}); code != 0 {
		t.Fatalf("bundle exited %d: %s", code, stderr.String())
	}
	r, err := bundle.Open(out)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if names := bundle.List(r); len(names) != 1 || names[0] != "products.json" {
		t.Errorf("Unexpected bundled files %v", names)
	}
}

// TestDispatch verifies hooks, help, version and unknown commands
func TestDispatch(t *testing.T) {
	var seen string
	hooks := &Hooks{
		BeforeDispatch: func(command string, args []string) (bool, int) {
			seen = command
			return command == "custom", 7
		},
		CustomVersion: func() string { return "with extras" },
	}
	var out, errOut syncBuffer
	c := newCLI(&out, &errOut, hooks)
	ctx := context.Background()

	if code := c.run(ctx, []string{"custom"}); code != 7 || seen != "custom" {
		t.Errorf("Expected hook to handle custom, got %d", code)
	}
	if code := c.run(ctx, []string{"version"}); code != 0 || !strings.Contains(out.String(), "shopsync v0.1.0\nwith extras") {
		t.Errorf("Unexpected version output %q", out.String())
	}
	if code := c.run(ctx, []string{"frobnicate"}); code != 1 || !strings.Contains(errOut.String(), "Unknown command: frobnicate") {
		t.Errorf("Expected unknown command error, got %d %q", code, errOut.String())
	}
	if code := c.run(ctx, nil); code != 1 {
		t.Errorf("Expected usage exit code, got %d", code)
	}
}
