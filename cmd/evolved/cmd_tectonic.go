package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jeeves-cluster-organization/evolvecore/evoengine/config"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/history"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/tectonic"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	tectonicBenchmark   string // Harness command, candidate on stdin, metrics JSON on stdout
	tectonicBenchDir    string
	tectonicGenerations int     // <= 0 keeps the configured value
	tectonicPopulation  int     // <= 0 keeps the configured value
	tectonicTarget      float64 // < 0 keeps the configured value
	tectonicOut         string  // Champion destination, empty prints summary only
	tectonicWrite       bool    // Overwrite the artifact with the champion
	tectonicJSON        bool
)

func init() {
	tectonicCmd.Flags().StringVar(&tectonicBenchmark, "benchmark", "",
		"Benchmark harness command; receives a candidate on stdin and prints metrics JSON")
	tectonicCmd.Flags().StringVar(&tectonicBenchDir, "benchmark-dir", "",
		"Working directory for the harness (defaults to repo_path)")
	tectonicCmd.Flags().IntVar(&tectonicGenerations, "generations", 0, "Maximum generations to run (overrides config)")
	tectonicCmd.Flags().IntVar(&tectonicPopulation, "population", 0, "Candidates per generation (overrides config)")
	tectonicCmd.Flags().Float64Var(&tectonicTarget, "target", -1, "Early-stop improvement fraction (overrides config)")
	tectonicCmd.Flags().StringVar(&tectonicOut, "out", "", "Write the champion to this file")
	tectonicCmd.Flags().BoolVar(&tectonicWrite, "write", false, "Overwrite the artifact with the champion")
	tectonicCmd.Flags().BoolVar(&tectonicJSON, "json", false, "Output the shift result as JSON")
	tectonicCmd.MarkFlagRequired("benchmark")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runTectonic evolves one artifact through generations of mutation and
// scoring, records the shift, and optionally writes the champion back.
func runTectonic(cmd *cobra.Command, args []string) {
	artifact := args[0]
	source, err := os.ReadFile(artifact)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read artifact: %v\n", err)
		os.Exit(1)
	}

	harness := strings.Fields(tectonicBenchmark)
	if len(harness) == 0 {
		fmt.Fprintln(os.Stderr, "A benchmark harness command is required")
		os.Exit(1)
	}
	workDir := tectonicBenchDir
	if workDir == "" {
		workDir = cfg.RepoPath
	}

	tcfg := tectonicRunConfig()
	logger := newCLILogger(cfg.Evolution.LogLevel)
	benchmark := tectonic.NewExecBenchmark(harness[0], harness[1:]...).WithBenchmarkDir(workDir)
	engine := tectonic.NewEngine(tcfg,
		tectonic.NewMutationEngine(tcfg.MutationRate),
		tectonic.NewScorer(tcfg, benchmark, tectonic.WithScorerLogger(logger)),
		tectonic.WithEngineLogger(logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := engine.Run(ctx, string(source))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Shift failed: %v\n", err)
		os.Exit(1)
	}

	recordShift(artifact, result, logger)

	if result.Improvement > 0 {
		if err := writeChampion(artifact, result.ChampionSource); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write champion: %v\n", err)
			os.Exit(1)
		}
	}

	if tectonicJSON {
		printJSON(result)
		return
	}
	printShiftResult(artifact, result)
}

// tectonicRunConfig layers the run flags over the configured optimizer
// parameters without touching the shared config.
func tectonicRunConfig() *config.TectonicConfig {
	tcfg := *cfg.Tectonic
	if tectonicGenerations > 0 {
		tcfg.MaxGenerations = tectonicGenerations
	}
	if tectonicPopulation > 0 {
		tcfg.PopulationSize = tectonicPopulation
		if tcfg.ElitismCount >= tcfg.PopulationSize {
			tcfg.ElitismCount = tcfg.PopulationSize - 1
		}
	}
	if tectonicTarget >= 0 {
		tcfg.TargetImprovement = tectonicTarget
	}
	return &tcfg
}

func recordShift(artifact string, result *tectonic.ShiftResult, logger *cliLogger) {
	store, err := history.NewStore(cfg.HistoryPath)
	if err != nil {
		logger.Warn("shift_history_unavailable", "error", err.Error())
		return
	}
	defer store.Close()

	err = store.RecordShift(history.ShiftRecord{
		ArtifactID:     artifact,
		Success:        result.Success,
		GenerationsRun: result.GenerationsRun,
		BaselineMetric: result.BaselineMetric,
		FinalMetric:    result.FinalMetric,
		Improvement:    result.Improvement,
		ChampionID:     result.ChampionID,
		StartedAt:      result.StartedAt,
		FinishedAt:     result.FinishedAt,
	})
	if err != nil {
		logger.Warn("shift_history_write_failed", "error", err.Error())
	}
}

// writeChampion replaces the artifact or writes to --out, preserving the
// artifact's file mode when overwriting in place.
func writeChampion(artifact, champion string) error {
	if !tectonicWrite && tectonicOut == "" {
		return nil
	}
	path := tectonicOut
	mode := fs.FileMode(0o644)
	if tectonicWrite {
		path = artifact
		if info, err := os.Stat(artifact); err == nil {
			mode = info.Mode()
		}
	}
	return os.WriteFile(path, []byte(champion), mode)
}

func printShiftResult(artifact string, result *tectonic.ShiftResult) {
	verdict := "no improvement found"
	if result.Success {
		verdict = fmt.Sprintf("improved %.1f%%", result.Improvement*100)
	}
	fmt.Printf("Shift on %s: %s\n", artifact, verdict)
	fmt.Printf("  baseline %.4f -> final %.4f over %d generations\n",
		result.BaselineMetric, result.FinalMetric, result.GenerationsRun)
	if result.Success {
		fmt.Printf("  champion %s\n", result.ChampionID)
	}
	switch {
	case tectonicWrite && result.Improvement > 0:
		fmt.Printf("  wrote champion to %s\n", artifact)
	case tectonicOut != "" && result.Improvement > 0:
		fmt.Printf("  wrote champion to %s\n", tectonicOut)
	case result.Improvement > 0:
		fmt.Println("  champion not written (use --write or --out)")
	}
}
