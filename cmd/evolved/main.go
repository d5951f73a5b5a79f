// Command evolved runs the autonomous code evolution pipeline: a daemon that
// scans for improvement proposals, validates them in a sandbox, gates them
// through perception and review checks, commits the survivors, and watches
// the result for regressions. One-shot subcommands drive the same pipeline
// from the terminal.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "evolved: %v\n", err)
		os.Exit(1)
	}
}
