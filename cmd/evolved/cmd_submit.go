package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jeeves-cluster-organization/evolvecore/evoengine/daemon"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/proposal"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	submitGoal           string
	submitTargets        []string
	submitDiffFile       string   // "-" reads the diff from stdin
	submitAffects        bool     // Marks the proposal perception-affecting
	submitSpool          bool     // Queue for the daemon instead of evolving now
	submitVisualDesc     string   // Declares a visual intent to verify live
	submitVisualScene    string   // Scene the intent applies to
	submitVisualElements []string // Elements expected in the scene
	submitJSON           bool
)

func init() {
	submitCmd.Flags().StringVar(&submitGoal, "goal", "", "What the change is meant to improve")
	submitCmd.Flags().StringArrayVar(&submitTargets, "target", nil, "Artifact the change touches (repeatable)")
	submitCmd.Flags().StringVar(&submitDiffFile, "diff-file", "-", "Unified diff file, - for stdin")
	submitCmd.Flags().BoolVar(&submitAffects, "affects-perception", false,
		"Route the change through perception validation")
	submitCmd.Flags().BoolVar(&submitSpool, "spool", false,
		"Write the proposal to the spool directory for a running daemon instead of evolving it now")
	submitCmd.Flags().StringVar(&submitVisualDesc, "visual-check", "",
		"Expected visual outcome to verify against the live scene after commit")
	submitCmd.Flags().StringVar(&submitVisualScene, "visual-scene", "", "Scene name for the visual check")
	submitCmd.Flags().StringArrayVar(&submitVisualElements, "visual-element", nil,
		"Element expected in the scene (repeatable)")
	submitCmd.Flags().BoolVar(&submitJSON, "json", false, "Output the finished task as JSON")
	submitCmd.MarkFlagRequired("goal")
	submitCmd.MarkFlagRequired("target")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runSubmit builds a proposal from the flags and either spools it for the
// running daemon or drives it through the pipeline in-process.
func runSubmit(cmd *cobra.Command, args []string) {
	diff, err := readDiff(submitDiffFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read diff: %v\n", err)
		os.Exit(1)
	}

	if submitSpool {
		path, err := spoolProposal(cfg.ProposalDir, spoolEntry{
			Goal:              submitGoal,
			TargetArtifacts:   submitTargets,
			Diff:              diff,
			AffectsPerception: submitAffects,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to spool proposal: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Queued %s\n", path)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.Close(flushCtx); err != nil {
			rt.logger.Warn("shutdown_incomplete", "error", err.Error())
		}
	}()

	p := proposal.NewProposal(submitGoal, submitTargets, diff)
	if submitAffects {
		p.Metadata["affects_perception"] = true
	}

	var opts []daemon.SubmitOption
	if submitVisualDesc != "" {
		opts = append(opts, daemon.WithVisualIntent(&proposal.VisualIntent{
			Description:      submitVisualDesc,
			Scene:            submitVisualScene,
			ExpectedElements: submitVisualElements,
		}))
	}

	task, err := rt.daemon.Evolve(ctx, p, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Submission refused: %v\n", err)
		os.Exit(1)
	}

	printTask(task, submitJSON)
	if !task.Status.IsSuccess() {
		os.Exit(1)
	}
}

// spoolProposal writes one spool entry with a time-ordered name so the
// daemon drains the queue oldest first.
func spoolProposal(dir string, entry spoolEntry) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s-%s.json", time.Now().UTC().Format("20060102T150405"), shortID())
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func shortID() string {
	id := uuid.NewString()
	return strings.SplitN(id, "-", 2)[0]
}

func readDiff(source string) (string, error) {
	var data []byte
	var err error
	if source == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(source)
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", fmt.Errorf("diff is empty")
	}
	return string(data), nil
}

// printTask renders a finished task for the terminal.
func printTask(task *proposal.Task, asJSON bool) {
	if asJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(task); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode task: %v\n", err)
		}
		return
	}

	fmt.Printf("Task:   %s\n", task.ID)
	fmt.Printf("Status: %s\n", task.Status)
	if task.Result != "" {
		fmt.Printf("Result: %s\n", task.Result)
	}
	for _, change := range task.ChangesMade {
		fmt.Printf("  - %s\n", change)
	}
}
