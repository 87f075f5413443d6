package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/zot/shopsync/internal/admin"
	"github.com/zot/shopsync/internal/bundle"
	"github.com/zot/shopsync/internal/config"
	"github.com/zot/shopsync/internal/hub"
	"github.com/zot/shopsync/internal/local"
	"github.com/zot/shopsync/internal/overlay"
	"github.com/zot/shopsync/internal/reconcile"
	"github.com/zot/shopsync/internal/remote"
	"github.com/zot/shopsync/internal/shop"
	"github.com/zot/shopsync/internal/storage"
)

// session is one engine over the configured local and remote stores.
type session struct {
	config  *config.Config
	store   *local.Store
	adapter *remote.Adapter
	engine  *reconcile.Engine
}

func (c *cli) openSession(cfg *config.Config) (*session, error) {
	backend, err := local.Open(cfg)
	if err != nil {
		return nil, err
	}
	store := local.NewStore(cfg, backend)
	adapter := remote.NewAdapter(cfg)
	if c.dial != nil {
		adapter = remote.NewAdapterWith(cfg, c.dial)
	}
	return &session{
		config:  cfg,
		store:   store,
		adapter: adapter,
		engine:  reconcile.New(cfg, adapter, store),
	}, nil
}

func (s *session) Close() {
	s.engine.Close()
	s.adapter.Close()
	s.store.Close()
}

// load parses flags for command and requires exactly n positional args.
func (c *cli) load(command string, args []string, n int, usage string) (*config.Config, []string, bool) {
	cfg, rest, err := config.Load(command, args)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(c.errOut, "Error: %v\n", err)
		}
		return nil, nil, false
	}
	if n >= 0 && len(rest) != n {
		fmt.Fprintf(c.errOut, "Usage: shopctl %s\n", usage)
		return nil, nil, false
	}
	return cfg, rest, true
}

func (c *cli) runServe(ctx context.Context, args []string) int {
	cfg, _, ok := c.load("serve", args, 0, "serve [options]")
	if !ok {
		return 1
	}
	store, err := storage.Open(cfg.Storage)
	if err != nil {
		return c.fail("failed to open storage: %v", err)
	}
	defer store.Close()

	h := hub.New(cfg, store)
	if err := h.Start(); err != nil {
		return c.fail("%v", err)
	}
	fmt.Fprintf(c.out, "Hub listening on %s\n", h.Addr())

	<-ctx.Done()
	cfg.Log(0, "Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.Shutdown(shutdownCtx); err != nil {
		return c.fail("%v", err)
	}
	return 0
}

func (c *cli) runGet(ctx context.Context, args []string) int {
	cfg, rest, ok := c.load("get", args, 1, "get [options] <key>")
	if !ok {
		return 1
	}
	s, err := c.openSession(cfg)
	if err != nil {
		return c.fail("%v", err)
	}
	defer s.Close()

	b := s.engine.Bind(rest[0], nil)
	s.engine.Settle()
	c.printJSON(b.Get())
	return 0
}

func (c *cli) runSet(ctx context.Context, args []string) int {
	cfg, rest, ok := c.load("set", args, 2, "set [options] <key> <json|->")
	if !ok {
		return 1
	}
	value := []byte(rest[1])
	if rest[1] == "-" {
		data, err := io.ReadAll(c.stdin)
		if err != nil {
			return c.fail("failed to read stdin: %v", err)
		}
		value = bytes.TrimSpace(data)
	}
	if !json.Valid(value) {
		return c.fail("value is not valid JSON")
	}

	s, err := c.openSession(cfg)
	if err != nil {
		return c.fail("%v", err)
	}
	defer s.Close()

	b := s.engine.Bind(rest[0], nil)
	s.engine.Settle()
	b.Set(json.RawMessage(value))
	s.engine.Settle()
	return 0
}

func (c *cli) runDelete(ctx context.Context, args []string) int {
	cfg, rest, ok := c.load("delete", args, 1, "delete [options] <key>")
	if !ok {
		return 1
	}
	s, err := c.openSession(cfg)
	if err != nil {
		return c.fail("%v", err)
	}
	defer s.Close()

	b := s.engine.Bind(rest[0], nil)
	s.engine.Settle()
	b.Delete()
	s.engine.Settle()
	return 0
}

func (c *cli) runWatch(ctx context.Context, args []string) int {
	cfg, rest, ok := c.load("watch", args, 1, "watch [options] <key>")
	if !ok {
		return 1
	}
	s, err := c.openSession(cfg)
	if err != nil {
		return c.fail("%v", err)
	}
	defer s.Close()

	b := s.engine.Bind(rest[0], nil)
	s.engine.Settle()
	c.printJSON(b.Get())
	cancel := b.OnChange(func(value json.RawMessage) {
		c.printJSON(value)
	})
	defer cancel()

	<-ctx.Done()
	return 0
}

// keyLister is implemented by handles that can enumerate stored paths.
type keyLister interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}

func (c *cli) runKeys(ctx context.Context, args []string) int {
	cfg, _, ok := c.load("keys", args, 0, "keys [options]")
	if !ok {
		return 1
	}
	s, err := c.openSession(cfg)
	if err != nil {
		return c.fail("%v", err)
	}
	defer s.Close()

	keys, err := s.store.Keys()
	if err != nil {
		return c.fail("%v", err)
	}
	slices.Sort(keys)
	fmt.Fprintln(c.out, "local:")
	for _, k := range keys {
		fmt.Fprintf(c.out, "  %s\n", k)
	}

	if !s.adapter.Available() {
		return 0
	}
	h, err := s.adapter.Connect()
	if err != nil {
		return c.fail("%v", err)
	}
	lister, ok := h.(keyLister)
	if !ok {
		return 0
	}
	prefix := ""
	if cfg.Remote.Namespace != "" {
		prefix = cfg.Remote.Namespace + "/"
	}
	remoteKeys, err := lister.Keys(ctx, prefix)
	if err != nil {
		return c.fail("%v", err)
	}
	slices.Sort(remoteKeys)
	fmt.Fprintln(c.out, "remote:")
	for _, k := range remoteKeys {
		fmt.Fprintf(c.out, "  %s\n", k)
	}
	return 0
}

func (c *cli) runDataset(ctx context.Context, args []string) int {
	cfg, rest, ok := c.load("dataset", args, 1, "dataset [options] <products|blog_posts>")
	if !ok {
		return 1
	}
	backend, err := local.Open(cfg)
	if err != nil {
		return c.fail("%v", err)
	}
	store := local.NewStore(cfg, backend)
	defer store.Close()

	catalog := shop.NewCatalog(cfg, overlay.NewLoader(cfg), store)
	catalog.Load(ctx)
	switch rest[0] {
	case "products":
		return c.printValue(catalog.Products())
	case "blog_posts":
		return c.printValue(catalog.PostOverlay().MergedView())
	default:
		return c.fail("unknown dataset %q", rest[0])
	}
}

func (c *cli) runMCP(ctx context.Context, args []string) int {
	cfg, _, ok := c.load("mcp", args, 0, "mcp [options]")
	if !ok {
		return 1
	}
	s, err := c.openSession(cfg)
	if err != nil {
		return c.fail("%v", err)
	}
	defer s.Close()

	sh := shop.Open(ctx, cfg, s.engine, overlay.NewLoader(cfg))
	defer sh.Close()
	if err := admin.New(cfg, s.engine, sh).ServeStdio(); err != nil {
		return c.fail("%v", err)
	}
	return 0
}

func (c *cli) runBundle(args []string) int {
	fs := flag.NewFlagSet("bundle", flag.ContinueOnError)
	fs.SetOutput(c.errOut)
	output := fs.String("o", "", "Output path for bundled binary (required)")
	source := fs.String("src", "", "Source binary to bundle (default: current executable)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *output == "" || fs.NArg() != 1 {
		fmt.Fprintln(c.errOut, "Usage: shopctl bundle [-src <binary>] -o <output> <data-dir>")
		return 1
	}
	dataDir := fs.Arg(0)
	if info, err := os.Stat(dataDir); err != nil || !info.IsDir() {
		return c.fail("data directory %s does not exist", dataDir)
	}

	sourcePath := *source
	if sourcePath == "" {
		exe, err := os.Executable()
		if err != nil {
			return c.fail("failed to get executable path: %v", err)
		}
		sourcePath = exe
	}
	if err := bundle.Create(sourcePath, dataDir, *output); err != nil {
		return c.fail("failed to create bundle: %v", err)
	}
	fmt.Fprintf(c.out, "Created bundled binary: %s\n", *output)
	return 0
}

func (c *cli) runExtract(args []string) int {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}
	r, err := bundle.Self()
	if err != nil {
		return c.fail("%v", err)
	}
	if err := bundle.Extract(r, targetDir); err != nil {
		return c.fail("%v", err)
	}
	fmt.Fprintf(c.out, "Extracted datasets to: %s\n", targetDir)
	return 0
}

func (c *cli) runLs(args []string) int {
	r, err := bundle.Self()
	if err != nil {
		return c.fail("%v", err)
	}
	for _, name := range bundle.List(r) {
		fmt.Fprintln(c.out, name)
	}
	return 0
}

// printJSON writes value indented, or null.
func (c *cli) printJSON(value json.RawMessage) {
	if len(value) == 0 {
		fmt.Fprintln(c.out, "null")
		return
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, value, "", "  "); err != nil {
		fmt.Fprintln(c.out, string(value))
		return
	}
	fmt.Fprintln(c.out, buf.String())
}

func (c *cli) printValue(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return c.fail("%v", err)
	}
	fmt.Fprintln(c.out, string(data))
	return 0
}
