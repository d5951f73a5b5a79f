package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeeves-cluster-organization/evolvecore/commbus"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/history"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	statusJSON   bool
	historyJSON  bool
	historyLimit int
)

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Output as JSON")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of evolutions to list")
}

// =============================================================================
// STATUS COMMAND
// =============================================================================

// statusReport is what the status command gathers from the daemon's control
// surfaces and the history store.
type statusReport struct {
	Daemon         string                         `json:"daemon"`
	ControlAddr    string                         `json:"control_addr"`
	Stats          *commbus.PipelineStatsResponse `json:"stats,omitempty"`
	History        *history.Summary               `json:"history,omitempty"`
	RecentFailures []history.EvolutionRecord      `json:"recent_failures,omitempty"`
}

// runStatus probes the running daemon and summarizes the history store.
// Both surfaces are optional: a stopped daemon still has history to show.
func runStatus(cmd *cobra.Command, args []string) {
	report := statusReport{
		Daemon:      probeDaemonHealth(context.Background()),
		ControlAddr: cfg.ControlAddr,
	}

	var stats commbus.PipelineStatsResponse
	if code, err := adminGet("/api/stats", &stats); err == nil && code == http.StatusOK {
		report.Stats = &stats
	}

	if _, err := os.Stat(cfg.HistoryPath); err == nil {
		store, err := history.NewStore(cfg.HistoryPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open history %s: %v\n", cfg.HistoryPath, err)
			os.Exit(1)
		}
		defer store.Close()

		summary, err := store.Summarize()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to summarize history: %v\n", err)
			os.Exit(1)
		}
		report.History = &summary
		if failures, err := store.RecentFailures(5); err == nil {
			report.RecentFailures = failures
		}
	}

	if statusJSON {
		printJSON(report)
		return
	}
	printStatusReport(report)
}

func printStatusReport(report statusReport) {
	fmt.Printf("Daemon:  %s (%s)\n", report.Daemon, report.ControlAddr)

	if report.Stats != nil {
		fmt.Printf("Pipeline: %d evolutions, %d active, %d queued for review\n",
			report.Stats.EvolutionCount, report.Stats.ActiveTasks, report.Stats.QueueDepth)
		if report.Stats.Paused {
			fmt.Printf("Paused:  %s\n", report.Stats.PauseReason)
		}
	}

	if report.History == nil {
		fmt.Println("History: none recorded yet")
		return
	}

	fmt.Printf("History: %d evolutions%s, %d recovery actions, %d shifts (%d improved)\n",
		report.History.TotalEvolutions,
		formatByStatus(report.History.ByStatus),
		report.History.RecoveryActions,
		report.History.TectonicShifts,
		report.History.SuccessfulShifts)

	if len(report.RecentFailures) > 0 {
		fmt.Println("Recent failures:")
		for _, rec := range report.RecentFailures {
			fmt.Printf("  %s  %s  %s\n", rec.TaskID, rec.Status, truncate(rec.Result, 70))
		}
	}
}

func formatByStatus(byStatus map[string]int) string {
	if len(byStatus) == 0 {
		return ""
	}
	statuses := make([]string, 0, len(byStatus))
	for status := range byStatus {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)

	out := " ("
	for i, status := range statuses {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s %d", status, byStatus[status])
	}
	return out + ")"
}

// =============================================================================
// HISTORY COMMAND
// =============================================================================

// runHistory lists recent evolutions straight from the history store.
func runHistory(cmd *cobra.Command, args []string) {
	store, err := history.NewStore(cfg.HistoryPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open history %s: %v\n", cfg.HistoryPath, err)
		os.Exit(1)
	}
	defer store.Close()

	records, err := store.RecentEvolutions(historyLimit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read history: %v\n", err)
		os.Exit(1)
	}

	if historyJSON {
		printJSON(records)
		return
	}

	if len(records) == 0 {
		fmt.Println("No evolutions recorded")
		return
	}
	for _, rec := range records {
		sha := rec.CommitSHA
		if len(sha) > 8 {
			sha = sha[:8]
		}
		fmt.Printf("%s  %-22s tier %d  %-10s %s  %s\n",
			rec.FinishedAt.Local().Format(time.DateTime),
			rec.TaskID, rec.Tier, rec.Status, sha, truncate(rec.Goal, 50))
	}
}

// =============================================================================
// OUTPUT HELPERS
// =============================================================================

func printJSON(v any) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
		os.Exit(1)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
