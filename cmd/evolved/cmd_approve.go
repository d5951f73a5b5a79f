package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeeves-cluster-organization/evolvecore/commbus"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	approveBy      string
	rejectBy       string
	rejectReason   string
	pauseReason    string
	resumeOperator string
)

func init() {
	operator := defaultOperator()
	approveCmd.Flags().StringVar(&approveBy, "approver", operator, "Name recorded as the approver")
	rejectCmd.Flags().StringVar(&rejectBy, "approver", operator, "Name recorded as the reviewer")
	rejectCmd.Flags().StringVar(&rejectReason, "reason", "", "Why the change was rejected")
	rejectCmd.MarkFlagRequired("reason")
	pauseCmd.Flags().StringVar(&pauseReason, "reason", "operator pause", "Why the pipeline is pausing")
	resumeCmd.Flags().StringVar(&resumeOperator, "operator", operator, "Name recorded as the resuming operator")
}

func defaultOperator() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "operator"
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runApprovals lists the running daemon's review queue.
func runApprovals(cmd *cobra.Command, args []string) {
	var queue commbus.ApprovalQueueResponse
	if _, err := adminGet("/api/approvals", &queue); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list approvals: %v\n", err)
		os.Exit(1)
	}
	if len(queue.TaskIDs) == 0 {
		fmt.Println("No tasks awaiting review")
		return
	}
	for _, id := range queue.TaskIDs {
		fmt.Println(id)
	}
}

// runApprove resolves a parked task through the running daemon.
func runApprove(cmd *cobra.Command, args []string) {
	var status commbus.TaskStatusResponse
	_, err := adminPost("/api/approvals/"+args[0]+"/approve",
		map[string]string{"approver": approveBy}, &status)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Approve failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Task %s: %s\n", args[0], status.Status)
	if status.Result != "" {
		fmt.Println(status.Result)
	}
}

// runReject marks a parked task rejected.
func runReject(cmd *cobra.Command, args []string) {
	var status commbus.TaskStatusResponse
	_, err := adminPost("/api/approvals/"+args[0]+"/reject",
		map[string]string{"approver": rejectBy, "reason": rejectReason}, &status)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Reject failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Task %s: %s\n", args[0], status.Status)
}

// runPause stops the running daemon from starting new evolutions.
func runPause(cmd *cobra.Command, args []string) {
	if _, err := adminPost("/api/pause", map[string]string{"reason": pauseReason}, nil); err != nil {
		fmt.Fprintf(os.Stderr, "Pause failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Pipeline paused")
}

// runResume lifts a pause.
func runResume(cmd *cobra.Command, args []string) {
	if _, err := adminPost("/api/resume", map[string]string{"operator": resumeOperator}, nil); err != nil {
		fmt.Fprintf(os.Stderr, "Resume failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Pipeline resumed")
}
