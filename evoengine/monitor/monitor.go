// Package monitor watches system health after an evolution commit.
//
// A baseline is captured once per daemon session before the first commit.
// After each commit the monitor runs the regression suite and, for tiers
// whose requirements include visual monitoring, holds an observation window
// comparing live heartbeats and resource samples against that baseline.
// Anything off folds into an unhealthy MonitoringResult; the orchestrator
// reacts to that, the monitor itself never mutates the tree.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/evolvecore/evoengine/proposal"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/tier"
)

// Logger is the minimal logging interface this package needs.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// HeadReader reports the repository position a baseline is captured at.
// *gitops.Repo satisfies it.
type HeadReader interface {
	HeadSHA() (string, error)
	CurrentBranch() (string, error)
}

// Baseline is the healthy reference state captured before the first commit
// of a session.
type Baseline struct {
	CapturedAt   time.Time       `json:"captured_at"`
	CommitSHA    string          `json:"commit_sha"`
	Branch       string          `json:"branch"`
	TestsHealthy bool            `json:"tests_healthy"`
	Heartbeat    *Heartbeat      `json:"heartbeat,omitempty"`
	Resources    *ResourceSample `json:"resources,omitempty"`
}

// Monitor runs tier-appropriate post-commit health checks.
type Monitor struct {
	mu         sync.Mutex
	head       HeadReader
	regression RegressionProber
	heartbeat  HeartbeatProber
	resources  ResourceProber
	checks     int
	interval   time.Duration
	logger     Logger

	baseline *Baseline
	history  []*proposal.MonitoringResult
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithHeartbeatProber wires the live-scene observer used on tier 2+.
func WithHeartbeatProber(p HeartbeatProber) Option {
	return func(m *Monitor) { m.heartbeat = p }
}

// WithResourceProber wires the host resource sampler used on tier 2+.
func WithResourceProber(p ResourceProber) Option {
	return func(m *Monitor) { m.resources = p }
}

// WithObservationWindow sets how many probe rounds the extended window runs
// and the delay between them.
func WithObservationWindow(checks int, interval time.Duration) Option {
	return func(m *Monitor) {
		if checks > 0 {
			m.checks = checks
		}
		m.interval = interval
	}
}

// WithMonitorLogger sets the monitor logger.
func WithMonitorLogger(logger Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

// NewMonitor builds a Monitor over the given repository head and regression
// suite. Heartbeat and resource probes are optional; without them the
// extended window degrades to the regression path.
func NewMonitor(head HeadReader, regression RegressionProber, opts ...Option) *Monitor {
	m := &Monitor{
		head:       head,
		regression: regression,
		checks:     3,
		interval:   2 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CaptureBaseline records the healthy reference state. Capturing is
// idempotent per session: repeated calls return the first baseline.
func (m *Monitor) CaptureBaseline(ctx context.Context) (*Baseline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.baseline != nil {
		return m.baseline, nil
	}

	sha, err := m.head.HeadSHA()
	if err != nil {
		return nil, fmt.Errorf("capture baseline: %w", err)
	}
	branch, err := m.head.CurrentBranch()
	if err != nil {
		return nil, fmt.Errorf("capture baseline: %w", err)
	}

	baseline := &Baseline{
		CapturedAt: time.Now().UTC(),
		CommitSHA:  sha,
		Branch:     branch,
	}

	healthy, _, err := m.regression.RunRegression(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("capture baseline: %w", ctx.Err())
		}
		m.logWarn("baseline_tests_unavailable", "error", err.Error())
	}
	baseline.TestsHealthy = healthy

	if m.heartbeat != nil {
		hb, err := m.heartbeat.Heartbeat(ctx)
		if err != nil {
			m.logWarn("baseline_heartbeat_unavailable", "error", err.Error())
			hb = &Heartbeat{Available: false, Reason: err.Error()}
		}
		baseline.Heartbeat = hb
	}
	if m.resources != nil {
		sample, err := m.resources.Resources(ctx)
		if err != nil {
			m.logWarn("baseline_resources_unavailable", "error", err.Error())
		} else {
			baseline.Resources = sample
		}
	}

	m.baseline = baseline
	m.logInfo("baseline_captured", "commit", shortSHA(sha), "branch", branch)
	return baseline, nil
}

// Baseline returns the captured baseline, or nil before capture.
func (m *Monitor) Baseline() *Baseline {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.baseline
}

// Monitor runs the health checks the tier's requirements call for and folds
// everything found into one MonitoringResult. Probe infrastructure failures
// on the extended window are logged and skipped; a regression suite that
// cannot run at all is itself a health issue.
func (m *Monitor) Monitor(ctx context.Context, commitSHA string, t proposal.Tier) (*proposal.MonitoringResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reqs := tier.MonitoringRequirements(t)
	m.logInfo("monitoring_started", "commit", shortSHA(commitSHA), "tier", t.String(), "window", reqs.Duration)

	var issues []string

	healthy, failures, err := m.regression.RunRegression(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("regression suite: %w", ctx.Err())
		}
		healthy = false
		issues = append(issues, fmt.Sprintf("regression suite error: %v", err))
	}
	issues = append(issues, failures...)
	if !healthy && len(issues) == 0 {
		issues = append(issues, "regression suite failed")
	}

	if reqs.VisualMonitoring {
		windowIssues, err := m.observe(ctx)
		if err != nil {
			return nil, err
		}
		issues = append(issues, windowIssues...)
	}

	result := &proposal.MonitoringResult{
		Healthy: healthy && len(issues) == 0,
		Issues:  issues,
	}

	m.mu.Lock()
	m.history = append(m.history, result)
	m.mu.Unlock()

	if result.Healthy {
		m.logInfo("monitoring_healthy", "commit", shortSHA(commitSHA), "tier", t.String())
	} else {
		m.logWarn("monitoring_unhealthy", "commit", shortSHA(commitSHA), "tier", t.String(), "issues", result.IssueSummary())
	}
	return result, nil
}

// History returns the most recent monitoring results, newest last.
func (m *Monitor) History(limit int) []*proposal.MonitoringResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 || limit > len(m.history) {
		limit = len(m.history)
	}
	out := make([]*proposal.MonitoringResult, limit)
	copy(out, m.history[len(m.history)-limit:])
	return out
}

// observe holds the extended observation window: checks rounds of heartbeat
// comparison and resource sampling, deduplicated across rounds.
func (m *Monitor) observe(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	baseline := m.baseline
	m.mu.Unlock()

	var baseHeartbeat *Heartbeat
	if baseline != nil {
		baseHeartbeat = baseline.Heartbeat
	}

	seen := make(map[string]struct{})
	var issues []string
	record := func(issue string) {
		if _, dup := seen[issue]; dup {
			return
		}
		seen[issue] = struct{}{}
		issues = append(issues, issue)
	}

	for round := 0; round < m.checks; round++ {
		if round > 0 && m.interval > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("observation window: %w", ctx.Err())
			case <-time.After(m.interval):
			}
		}

		if m.heartbeat != nil {
			hb, err := m.heartbeat.Heartbeat(ctx)
			if err != nil {
				m.logWarn("heartbeat_probe_failed", "error", err.Error())
			} else {
				for _, anomaly := range compareHeartbeats(hb, baseHeartbeat) {
					record(anomaly)
				}
			}
		}
		if m.resources != nil {
			sample, err := m.resources.Resources(ctx)
			if err != nil {
				m.logWarn("resource_probe_failed", "error", err.Error())
			} else {
				for _, warning := range sample.Warnings() {
					record(warning)
				}
			}
		}
	}
	return issues, nil
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}

func (m *Monitor) logInfo(msg string, keysAndValues ...any) {
	if m.logger != nil {
		m.logger.Info(msg, keysAndValues...)
	}
}

func (m *Monitor) logWarn(msg string, keysAndValues ...any) {
	if m.logger != nil {
		m.logger.Warn(msg, keysAndValues...)
	}
}
