// Package main runs the shopsync realtime hub.
package main

import (
	"os"

	"github.com/zot/shopsync/cli"
)

func main() {
	os.Exit(cli.RunServer(os.Args[1:]))
}
