// Package main provides the entry point for the jeeves-watcher daemon.
package main

import (
	"os"

	"github.com/karmaniverous/jeeves-watcher/cmd/jeeves-watcher/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
