// Package main is the entry point for the shopsync command-line tool.
// This is a thin wrapper around the cli package.
package main

import (
	"os"

	"github.com/zot/shopsync/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
