package recovery

import (
	"strings"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/evolvecore/evoengine/proposal"
)

// Issue classes steering the decision tree. Matching is case-insensitive
// substring matching over the monitoring issues.
var (
	criticalPatterns = []string{
		"security", "injection", "exploit", "vulnerability",
		"crash", "segfault", "memory leak", "data loss",
	}
	visualPatterns      = []string{"interface element", "position jump", "surfaced on scene", "visual"}
	performancePatterns = []string{"high cpu", "high memory", "high disk"}
)

// RecoveryRecord is one audited recovery decision.
type RecoveryRecord struct {
	CommitSHA string                  `json:"commit_sha"`
	Action    proposal.RecoveryAction `json:"action"`
	Issues    []string                `json:"issues"`
	At        time.Time               `json:"at"`
}

// Manager chooses the follow-up posture after a post-commit regression. The
// snapshot rollback itself is the orchestrator's job and has already happened
// by the time the manager is consulted; the manager decides what the loop
// does next and keeps the audit trail.
type Manager struct {
	mu         sync.Mutex
	breaker    *CircuitBreaker
	autoRevert bool
	history    []RecoveryRecord
	logger     Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithAutoRevert toggles whether the quiet tier-1 path may settle for a bare
// revert. Disabled, every regression at least pauses the loop.
func WithAutoRevert(enabled bool) ManagerOption {
	return func(m *Manager) { m.autoRevert = enabled }
}

// WithManagerLogger sets the manager logger.
func WithManagerLogger(logger Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// NewManager builds a Manager owning the given breaker.
func NewManager(breaker *CircuitBreaker, opts ...ManagerOption) *Manager {
	m := &Manager{
		breaker:    breaker,
		autoRevert: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Breaker returns the breaker the manager owns.
func (m *Manager) Breaker() *CircuitBreaker {
	return m.breaker
}

// HandleRegression picks exactly one recovery action for an unhealthy
// monitoring result:
//
//	critical issue text        -> escalate_to_human, loop paused
//	quiet tier 1 regression    -> auto_revert, loop keeps running
//	anything else              -> pause_evolution
func (m *Manager) HandleRegression(commitSHA string, result *proposal.MonitoringResult, t proposal.Tier) proposal.RecoveryAction {
	action := m.decide(result.Issues, t)

	switch action {
	case proposal.RecoveryEscalate:
		m.logError("regression_escalated", "commit", commitSHA, "issues", result.IssueSummary())
		m.breaker.Pause("human review required: " + result.IssueSummary())
	case proposal.RecoveryPause:
		m.breaker.Pause("regression detected: " + result.IssueSummary())
	default:
		m.logWarn("regression_auto_reverted", "commit", commitSHA, "issues", result.IssueSummary())
	}

	m.mu.Lock()
	m.history = append(m.history, RecoveryRecord{
		CommitSHA: commitSHA,
		Action:    action,
		Issues:    result.Issues,
		At:        time.Now().UTC(),
	})
	m.mu.Unlock()

	return action
}

// History returns the most recent recovery records, newest last.
func (m *Manager) History(limit int) []RecoveryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 || limit > len(m.history) {
		limit = len(m.history)
	}
	out := make([]RecoveryRecord, limit)
	copy(out, m.history[len(m.history)-limit:])
	return out
}

func (m *Manager) decide(issues []string, t proposal.Tier) proposal.RecoveryAction {
	if matchesAny(issues, criticalPatterns) {
		return proposal.RecoveryEscalate
	}
	quiet := !matchesAny(issues, visualPatterns) && !matchesAny(issues, performancePatterns)
	if t == proposal.TierLowRisk && quiet && m.autoRevert {
		return proposal.RecoveryAutoRevert
	}
	return proposal.RecoveryPause
}

func matchesAny(issues, patterns []string) bool {
	for _, issue := range issues {
		lower := strings.ToLower(issue)
		for _, pattern := range patterns {
			if strings.Contains(lower, pattern) {
				return true
			}
		}
	}
	return false
}

func (m *Manager) logWarn(msg string, keysAndValues ...any) {
	if m.logger != nil {
		m.logger.Warn(msg, keysAndValues...)
	}
}

func (m *Manager) logError(msg string, keysAndValues ...any) {
	if m.logger != nil {
		m.logger.Error(msg, keysAndValues...)
	}
}
