package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var scanJSON bool

func init() {
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "Output as JSON")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runScan lists the queued spool entries without consuming them, so an
// operator can see what the next daemon pass would pick up.
func runScan(cmd *cobra.Command, args []string) {
	source := newSpoolSource(cfg.ProposalDir, nil)
	candidates, err := source.Pending()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read spool %s: %v\n", cfg.ProposalDir, err)
		os.Exit(1)
	}

	if scanJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(candidates); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode candidates: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if len(candidates) == 0 {
		fmt.Printf("Spool %s is empty\n", cfg.ProposalDir)
		return
	}

	fmt.Printf("Spool %s: %d queued\n", cfg.ProposalDir, len(candidates))
	for _, c := range candidates {
		if c.Error != "" {
			fmt.Printf("  %s  (malformed: %s)\n", c.File, c.Error)
			continue
		}
		marker := ""
		if c.AffectsPerception {
			marker = "  [perception]"
		}
		fmt.Printf("  %s  %s -> %s%s\n", c.File, c.Goal, strings.Join(c.TargetArtifacts, ", "), marker)
	}

	if len(cfg.ScanTargets) > 0 {
		fmt.Printf("Daemon scan targets: %s\n", strings.Join(cfg.ScanTargets, ", "))
	}
}
