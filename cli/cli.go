// Package cli provides the command-line interface of shopsync.
// It exports Run() and RunWithHooks() to allow extension by wrapper projects.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/zot/shopsync/internal/remote"
)

// Hooks allows extending the CLI with additional commands.
type Hooks struct {
	// BeforeDispatch is called before command dispatch.
	// Return (handled=true, exitCode) to skip normal dispatch.
	BeforeDispatch func(command string, args []string) (handled bool, exitCode int)

	// CustomHelp returns additional help text to append.
	CustomHelp func() string

	// CustomVersion returns version info to append (optional).
	CustomVersion func() string
}

const version = "0.1.0"

// Run executes the CLI with the given arguments.
// Returns exit code (0 = success, non-zero = error).
func Run(args []string) int {
	return RunWithHooks(args, nil)
}

// RunWithHooks executes CLI with extension hooks.
func RunWithHooks(args []string, hooks *Hooks) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newCLI(os.Stdout, os.Stderr, hooks).run(ctx, args)
}

// RunServer runs the hub until SIGINT or SIGTERM.
func RunServer(args []string) int {
	return Run(append([]string{"serve"}, args...))
}

type cli struct {
	out    io.Writer
	errOut io.Writer
	hooks  *Hooks
	stdin  io.Reader
	dial   remote.Dialer // nil dials the hub client
}

func newCLI(out, errOut io.Writer, hooks *Hooks) *cli {
	return &cli{out: out, errOut: errOut, hooks: hooks, stdin: os.Stdin}
}

func (c *cli) run(ctx context.Context, args []string) int {
	if len(args) < 1 {
		c.printHelp()
		return 1
	}

	command := args[0]
	cmdArgs := args[1:]

	// Let hooks intercept first
	if c.hooks != nil && c.hooks.BeforeDispatch != nil {
		if handled, code := c.hooks.BeforeDispatch(command, cmdArgs); handled {
			return code
		}
	}

	switch command {
	case "serve":
		return c.runServe(ctx, cmdArgs)
	case "get":
		return c.runGet(ctx, cmdArgs)
	case "set":
		return c.runSet(ctx, cmdArgs)
	case "delete":
		return c.runDelete(ctx, cmdArgs)
	case "watch":
		return c.runWatch(ctx, cmdArgs)
	case "keys":
		return c.runKeys(ctx, cmdArgs)
	case "dataset":
		return c.runDataset(ctx, cmdArgs)
	case "mcp":
		return c.runMCP(ctx, cmdArgs)
	case "bundle":
		return c.runBundle(cmdArgs)
	case "extract":
		return c.runExtract(cmdArgs)
	case "ls":
		return c.runLs(cmdArgs)
	case "help", "-h", "--help":
		c.printHelp()
		return 0
	case "version", "--version":
		c.printVersion()
		return 0
	default:
		fmt.Fprintf(c.errOut, "Unknown command: %s\n", command)
		c.printHelp()
		return 1
	}
}

func (c *cli) fail(format string, args ...interface{}) int {
	fmt.Fprintf(c.errOut, "Error: "+format+"\n", args...)
	return 1
}

func (c *cli) printHelp() {
	fmt.Fprintln(c.out, `shopsync - storefront state synchronization

Usage: shopctl <command> [options] [args]

Hub:
  serve                 Run the realtime hub (shopsyncd)

Keys:
  get <key>             Print the reconciled value of a key
  set <key> <json>      Replace a key ("-" reads the value from stdin)
  delete <key>          Delete a key from both stores
  watch <key>           Print every new value of a key until interrupted
  keys                  List local keys, and remote keys when connected

Datasets:
  dataset <name>        Print a merged dataset: products or blog_posts
  bundle -o <out> <dir> Create a binary with the datasets in <dir> attached
  extract [dir]         Extract the attached datasets
  ls                    List the attached datasets

Admin:
  mcp                   Serve MCP admin tools on stdin/stdout

Options:
  -config         TOML configuration file (default: config/shopsync.toml)
  -remote-url     Realtime store endpoint URL
  -project        Realtime store project id
  -access-key     Realtime store access key
  -namespace      Remote key namespace (default: spookiki)
  -local          Local store type: memory, file, sqlite
  -local-dir      Local file store directory
  -local-path     Local SQLite store path
  -host, -port    Hub listen address
  -storage        Hub storage type: memory, sqlite, postgresql
  -storage-path   Hub SQLite database path
  -storage-url    Hub PostgreSQL connection URL
  -datasets       Dataset base URL, directory or "bundle:"
  -v, -vv, -vvv   Verbosity

Examples:
  shopsyncd -port 8085 -storage sqlite
  shopctl get -remote-url http://localhost:8085 -project shop -access-key k cart
  shopctl set cart '[]'
  shopctl dataset -datasets public/data products`)

	if c.hooks != nil && c.hooks.CustomHelp != nil {
		fmt.Fprintln(c.out, c.hooks.CustomHelp())
	}
}

func (c *cli) printVersion() {
	fmt.Fprintf(c.out, "shopsync v%s\n", version)
	if c.hooks != nil && c.hooks.CustomVersion != nil {
		fmt.Fprintln(c.out, c.hooks.CustomVersion())
	}
}
