package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeeves-cluster-organization/evolvecore/evoengine/config"
)

// =============================================================================
// COMMAND TREE
// =============================================================================

var (
	configPath string
	cfg        *config.DaemonConfig

	rootCmd = &cobra.Command{
		Use:   "evolved",
		Short: "Autonomous code evolution daemon",
		Long: `evolved watches a repository for improvement proposals and runs each one
through the evolution pipeline: sandbox validation, perception checks for
self-model changes, reviewer gating, tier routing, commit, and post-commit
monitoring with automatic revert on regression.

The daemon picks proposals up from a spool directory; the one-shot
subcommands drive the same pipeline directly from the terminal.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			loaded, err := config.LoadDaemonConfig(configPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Invalid configuration %q: %v\n", configPath, err)
				os.Exit(1)
			}
			cfg = loaded
		},
	}

	// --- Daemon ---
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the evolution daemon until interrupted",
		Run:   runDaemon, // Defined in cmd_run.go
	}

	// --- One-shot pipeline ---
	submitCmd = &cobra.Command{
		Use:   "submit",
		Short: "Submit one proposal and run it through the pipeline",
		Run:   runSubmit, // Defined in cmd_submit.go
	}

	// --- Spool ---
	scanCmd = &cobra.Command{
		Use:   "scan",
		Short: "List spooled proposals without consuming them",
		Run:   runScan, // Defined in cmd_scan.go
	}

	// --- Introspection ---
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show daemon health and evolution history",
		Run:   runStatus, // Defined in cmd_status.go
	}
	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "List recent evolutions from the history store",
		Run:   runHistory, // Defined in cmd_status.go
	}

	// --- Approval queue ---
	approvalsCmd = &cobra.Command{
		Use:   "approvals",
		Short: "List tasks parked for human review",
		Run:   runApprovals, // Defined in cmd_approve.go
	}
	approveCmd = &cobra.Command{
		Use:   "approve [task-id]",
		Short: "Approve a task parked for human review",
		Args:  cobra.ExactArgs(1),
		Run:   runApprove, // Defined in cmd_approve.go
	}
	rejectCmd = &cobra.Command{
		Use:   "reject [task-id]",
		Short: "Reject a task parked for human review",
		Args:  cobra.ExactArgs(1),
		Run:   runReject, // Defined in cmd_approve.go
	}
	pauseCmd = &cobra.Command{
		Use:   "pause",
		Short: "Pause the running daemon's pipeline",
		Run:   runPause, // Defined in cmd_approve.go
	}
	resumeCmd = &cobra.Command{
		Use:   "resume",
		Short: "Resume a paused pipeline",
		Run:   runResume, // Defined in cmd_approve.go
	}

	// --- Tectonic ---
	tectonicCmd = &cobra.Command{
		Use:   "tectonic [artifact]",
		Short: "Run a genetic optimization shift over one artifact",
		Args:  cobra.ExactArgs(1),
		Run:   runTectonic, // Defined in cmd_tectonic.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "evolvecore.yaml",
		"Path to the daemon configuration file (missing file uses defaults)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(approvalsCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(tectonicCmd)
}
