package main

import (
	"context"
	"fmt"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/jeeves-cluster-organization/evolvecore/commbus"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/config"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/daemon"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/events"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/gitops"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/history"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/monitor"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/perception"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/recovery"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/review"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/sandbox"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/tier"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/verify"
)

// busQueryTimeout bounds synchronous queries against the in-process bus.
const busQueryTimeout = 5 * time.Second

// =============================================================================
// RUNTIME WIRING
// =============================================================================

// runtime is one fully wired pipeline: repository, history store, bus,
// daemon, and the optional event emitter. Both the long-running daemon and
// the one-shot submit command build one.
type runtime struct {
	cfg     *config.DaemonConfig
	logger  *cliLogger
	repo    *gitops.Repo
	store   *history.Store
	bus     commbus.CommBus
	daemon  *daemon.Daemon
	emitter *events.Emitter

	detachers []func()
}

// buildRuntime wires the daemon and its collaborators from configuration.
// Optional collaborators stay nil when their endpoint or binary is not
// configured; the pipeline skips the matching phases.
func buildRuntime(cfg *config.DaemonConfig) (*runtime, error) {
	logger := newCLILogger(cfg.Evolution.LogLevel)
	config.SetEvolutionConfig(cfg.Evolution)

	repo, err := gitops.Open(cfg.RepoPath,
		gitops.WithRequireCleanWorktree(cfg.Evolution.RequireCleanWorktree),
		gitops.WithRepoLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", cfg.RepoPath, err)
	}

	store, err := history.NewStore(cfg.HistoryPath)
	if err != nil {
		return nil, fmt.Errorf("open history store %s: %w", cfg.HistoryPath, err)
	}

	breaker := recovery.NewCircuitBreaker(
		cfg.Evolution.MaxConsecutiveFailures,
		time.Duration(cfg.Evolution.BreakerCooldownMs)*time.Millisecond,
		recovery.WithBreakerLogger(logger))

	collab := daemon.Collaborators{
		Sandbox:        sandbox.NewValidator(repo, sandbox.WithLogger(logger)),
		Reviewer:       buildReviewer(cfg, logger),
		VersionControl: repo,
		Artifacts:      repo,
		Monitor:        buildMonitor(cfg, repo, logger),
		Recovery:       recovery.NewManager(breaker, recovery.WithAutoRevert(cfg.Evolution.AutoRevertEnabled), recovery.WithManagerLogger(logger)),
		Source:         newSpoolSource(cfg.ProposalDir, logger),
	}
	if cfg.PerceptionValidator != "" {
		collab.Perception = perception.NewRunner(cfg.PerceptionValidator, cfg.Evolution.PerceptionThreshold,
			perception.WithWorkDir(cfg.RepoPath),
			perception.WithRunnerLogger(logger))
	}
	if cfg.SceneEndpoint != "" {
		collab.Verifier = verify.NewVerifier(verify.NewWSSceneReader(cfg.SceneEndpoint),
			cfg.Evolution.VisualConfidenceThreshold,
			cfg.Evolution.MaxVisualAttempts,
			verify.WithVerifierLogger(logger))
	}

	d, err := daemon.NewDaemon(cfg.Evolution, tier.NewRouter(cfg.Tier), breaker, collab, daemon.WithDaemonLogger(logger))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build daemon: %w", err)
	}

	rt := &runtime{
		cfg:    cfg,
		logger: logger,
		repo:   repo,
		store:  store,
		bus:    commbus.NewInMemoryCommBus(busQueryTimeout, logger),
		daemon: d,
	}
	if err := d.AttachBus(rt.bus); err != nil {
		store.Close()
		return nil, fmt.Errorf("attach bus: %w", err)
	}

	recorder := history.NewRecorder(store, d.Task, history.WithRecorderLogger(logger))
	rt.detachers = append(rt.detachers, recorder.Attach(rt.bus))

	if cfg.EventsEndpoint != "" {
		rt.emitter = events.NewEmitter(
			events.NewWSSink(cfg.EventsEndpoint, emitterAgentID(), events.WithSinkLogger(logger)),
			events.WithEmitterLogger(logger))
		rt.detachers = append(rt.detachers, events.AttachBus(rt.bus, rt.emitter))
	}

	logger.Info("pipeline_wired",
		"repo", cfg.RepoPath,
		"history", cfg.HistoryPath,
		"perception", cfg.PerceptionValidator != "",
		"live_verification", cfg.SceneEndpoint != "",
		"events", cfg.EventsEndpoint != "")
	return rt, nil
}

// shutdownError aggregates failures from the teardown sequence so a partial
// teardown still reports everything that went wrong.
type shutdownError struct {
	errs []error
}

func (e *shutdownError) Error() string {
	if len(e.errs) == 1 {
		return fmt.Sprintf("shutdown error: %v", e.errs[0])
	}
	return fmt.Sprintf("shutdown completed with %d errors", len(e.errs))
}

// Unwrap returns the first error for errors.Is/As compatibility.
func (e *shutdownError) Unwrap() error { return e.errs[0] }

// Close detaches the bus bridges, flushes the emitter, and closes the
// history store. Safe to call once after the daemon has stopped.
func (rt *runtime) Close(ctx context.Context) error {
	for _, detach := range rt.detachers {
		detach()
	}

	var errs []error
	if rt.emitter != nil {
		if err := rt.emitter.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("emitter: %w", err))
		}
	}
	if err := rt.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("history store: %w", err))
	}
	if len(errs) > 0 {
		return &shutdownError{errs: errs}
	}
	return nil
}

// buildReviewer selects the model reviewer when a model and API key are
// configured, and the built-in rule reviewer otherwise.
func buildReviewer(cfg *config.DaemonConfig, logger *cliLogger) daemon.ReviewerCollaborator {
	if cfg.ReviewModel == "" {
		return review.NewRuleReviewer()
	}
	token := os.Getenv("OPENAI_API_KEY")
	if token == "" {
		logger.Warn("review_model_configured_without_api_key", "model", cfg.ReviewModel)
		return review.NewRuleReviewer()
	}
	return review.NewModelReviewer(openai.NewClient(token), cfg.ReviewModel, review.WithModelLogger(logger))
}

// buildMonitor wires the post-commit monitor with the configured regression
// command as its probe.
func buildMonitor(cfg *config.DaemonConfig, repo *gitops.Repo, logger *cliLogger) *monitor.Monitor {
	command := cfg.RegressionCommand
	if len(command) == 0 {
		command = []string{"go", "test", "./..."}
	}
	return monitor.NewMonitor(repo,
		monitor.NewCommandRegressionProber(cfg.RepoPath, command[0], command[1:]...),
		monitor.WithObservationWindow(cfg.Evolution.MonitorChecks, time.Duration(cfg.Evolution.MonitorIntervalMs)*time.Millisecond),
		monitor.WithMonitorLogger(logger))
}

func emitterAgentID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "evolved"
	}
	return "evolved-" + host
}
