// Package history persists pipeline outcomes in SQLite: one row per
// evolution task, every recovery decision, and every tectonic shift.
// The daemon records rows as tasks settle; summary queries back the
// status surface.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS evolutions (
	task_id         TEXT PRIMARY KEY,
	goal            TEXT NOT NULL,
	target_artifact TEXT NOT NULL,
	status          TEXT NOT NULL,
	tier            INTEGER NOT NULL DEFAULT 0,
	result          TEXT,
	changes_json    TEXT,
	commit_sha      TEXT,
	created_at      TEXT NOT NULL,
	finished_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS recovery_actions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id     TEXT NOT NULL,
	commit_sha  TEXT,
	action      TEXT NOT NULL,
	issues_json TEXT,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tectonic_shifts (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	artifact_id     TEXT NOT NULL,
	success         INTEGER NOT NULL,
	generations_run INTEGER NOT NULL,
	baseline_metric REAL NOT NULL,
	final_metric    REAL NOT NULL,
	improvement     REAL NOT NULL,
	champion_id     TEXT,
	started_at      TEXT NOT NULL,
	finished_at     TEXT NOT NULL
);
`

// EvolutionRecord is the durable outcome of one evolution task.
type EvolutionRecord struct {
	TaskID         string    `json:"task_id"`
	Goal           string    `json:"goal"`
	TargetArtifact string    `json:"target_artifact"`
	Status         string    `json:"status"`
	Tier           int       `json:"tier"`
	Result         string    `json:"result,omitempty"`
	ChangesMade    []string  `json:"changes_made,omitempty"`
	CommitSHA      string    `json:"commit_sha,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// RecoveryActionRecord is one audited recovery decision.
type RecoveryActionRecord struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id"`
	CommitSHA string    `json:"commit_sha,omitempty"`
	Action    string    `json:"action"`
	Issues    []string  `json:"issues,omitempty"`
	At        time.Time `json:"at"`
}

// ShiftRecord is the durable outcome of one tectonic optimization run.
type ShiftRecord struct {
	ID             int64     `json:"id"`
	ArtifactID     string    `json:"artifact_id"`
	Success        bool      `json:"success"`
	GenerationsRun int       `json:"generations_run"`
	BaselineMetric float64   `json:"baseline_metric"`
	FinalMetric    float64   `json:"final_metric"`
	Improvement    float64   `json:"improvement"`
	ChampionID     string    `json:"champion_id,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Summary aggregates the stored history for the status surface.
type Summary struct {
	TotalEvolutions  int            `json:"total_evolutions"`
	ByStatus         map[string]int `json:"by_status"`
	RecoveryActions  int            `json:"recovery_actions"`
	TectonicShifts   int            `json:"tectonic_shifts"`
	SuccessfulShifts int            `json:"successful_shifts"`
}

// Statuses counted as failures by RecentFailures.
var failureStatuses = []string{"rejected", "reverted", "error"}

// Store manages the evolution history in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an already-open database. The caller keeps
// ownership of the connection and must have applied the schema.
func NewStoreWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// OpenMemory opens a throwaway in-memory store with migrations applied.
func OpenMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages.
func (s *Store) DB() *sql.DB {
	return s.db
}

// RecordEvolution upserts the outcome row for a task. Re-recording the
// same task id overwrites the previous row, so the stored status always
// reflects where the task last settled.
func (s *Store) RecordEvolution(rec EvolutionRecord) error {
	if rec.TaskID == "" {
		return fmt.Errorf("record evolution: task id required")
	}

	changesPtr, err := jsonPtr(rec.ChangesMade)
	if err != nil {
		return fmt.Errorf("marshal changes: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO evolutions (task_id, goal, target_artifact, status, tier, result, changes_json, commit_sha, created_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(task_id) DO UPDATE SET
			status = excluded.status,
			tier = excluded.tier,
			result = excluded.result,
			changes_json = excluded.changes_json,
			commit_sha = excluded.commit_sha,
			finished_at = excluded.finished_at`,
		rec.TaskID, rec.Goal, rec.TargetArtifact, rec.Status, rec.Tier,
		nullableText(rec.Result), changesPtr, nullableText(rec.CommitSHA),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano), rec.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert evolution: %w", err)
	}
	return nil
}

// Evolution retrieves one task outcome by id.
func (s *Store) Evolution(taskID string) (EvolutionRecord, error) {
	row := s.db.QueryRow(
		`SELECT task_id, goal, target_artifact, status, tier, result, changes_json, commit_sha, created_at, finished_at
		 FROM evolutions WHERE task_id = ?`, taskID,
	)
	rec, err := scanEvolution(row)
	if err != nil {
		return EvolutionRecord{}, fmt.Errorf("get evolution %s: %w", taskID, err)
	}
	return rec, nil
}

// RecentEvolutions returns the most recently finished task outcomes.
func (s *Store) RecentEvolutions(limit int) ([]EvolutionRecord, error) {
	rows, err := s.db.Query(
		`SELECT task_id, goal, target_artifact, status, tier, result, changes_json, commit_sha, created_at, finished_at
		 FROM evolutions ORDER BY finished_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list evolutions: %w", err)
	}
	defer rows.Close()
	return collectEvolutions(rows)
}

// RecentFailures returns the most recent rejected, reverted, or errored
// task outcomes.
func (s *Store) RecentFailures(limit int) ([]EvolutionRecord, error) {
	rows, err := s.db.Query(
		`SELECT task_id, goal, target_artifact, status, tier, result, changes_json, commit_sha, created_at, finished_at
		 FROM evolutions WHERE status IN (?, ?, ?) ORDER BY finished_at DESC LIMIT ?`,
		failureStatuses[0], failureStatuses[1], failureStatuses[2], limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	defer rows.Close()
	return collectEvolutions(rows)
}

// RecordRecoveryAction appends one recovery decision.
func (s *Store) RecordRecoveryAction(rec RecoveryActionRecord) error {
	if rec.TaskID == "" {
		return fmt.Errorf("record recovery: task id required")
	}

	issuesPtr, err := jsonPtr(rec.Issues)
	if err != nil {
		return fmt.Errorf("marshal issues: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO recovery_actions (task_id, commit_sha, action, issues_json, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.TaskID, nullableText(rec.CommitSHA), rec.Action, issuesPtr,
		rec.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert recovery: %w", err)
	}
	return nil
}

// RecoveryActions returns the most recent recovery decisions, newest first.
func (s *Store) RecoveryActions(limit int) ([]RecoveryActionRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, task_id, commit_sha, action, issues_json, created_at
		 FROM recovery_actions ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list recoveries: %w", err)
	}
	defer rows.Close()

	var records []RecoveryActionRecord
	for rows.Next() {
		var rec RecoveryActionRecord
		var commitSHA, issuesJSON sql.NullString
		var createdStr string

		if err := rows.Scan(&rec.ID, &rec.TaskID, &commitSHA, &rec.Action, &issuesJSON, &createdStr); err != nil {
			return nil, fmt.Errorf("scan recovery: %w", err)
		}
		if commitSHA.Valid {
			rec.CommitSHA = commitSHA.String
		}
		if issuesJSON.Valid {
			if err := json.Unmarshal([]byte(issuesJSON.String), &rec.Issues); err != nil {
				return nil, fmt.Errorf("unmarshal issues: %w", err)
			}
		}
		rec.At, _ = time.Parse(time.RFC3339Nano, createdStr)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// RecordShift appends one tectonic shift outcome.
func (s *Store) RecordShift(rec ShiftRecord) error {
	if rec.ArtifactID == "" {
		return fmt.Errorf("record shift: artifact id required")
	}

	success := 0
	if rec.Success {
		success = 1
	}

	_, err := s.db.Exec(
		`INSERT INTO tectonic_shifts (artifact_id, success, generations_run, baseline_metric, final_metric, improvement, champion_id, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ArtifactID, success, rec.GenerationsRun, rec.BaselineMetric, rec.FinalMetric,
		rec.Improvement, nullableText(rec.ChampionID),
		rec.StartedAt.UTC().Format(time.RFC3339Nano), rec.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert shift: %w", err)
	}
	return nil
}

// Shifts returns the most recent tectonic shift outcomes, newest first.
// An empty artifactID matches every artifact.
func (s *Store) Shifts(artifactID string, limit int) ([]ShiftRecord, error) {
	query := `SELECT id, artifact_id, success, generations_run, baseline_metric, final_metric, improvement, champion_id, started_at, finished_at
		 FROM tectonic_shifts`
	args := []any{}
	if artifactID != "" {
		query += ` WHERE artifact_id = ?`
		args = append(args, artifactID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list shifts: %w", err)
	}
	defer rows.Close()

	var records []ShiftRecord
	for rows.Next() {
		var rec ShiftRecord
		var success int
		var championID sql.NullString
		var startedStr, finishedStr string

		if err := rows.Scan(&rec.ID, &rec.ArtifactID, &success, &rec.GenerationsRun,
			&rec.BaselineMetric, &rec.FinalMetric, &rec.Improvement,
			&championID, &startedStr, &finishedStr); err != nil {
			return nil, fmt.Errorf("scan shift: %w", err)
		}
		rec.Success = success == 1
		if championID.Valid {
			rec.ChampionID = championID.String
		}
		rec.StartedAt, _ = time.Parse(time.RFC3339Nano, startedStr)
		rec.FinishedAt, _ = time.Parse(time.RFC3339Nano, finishedStr)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Summarize aggregates counts across all three tables.
func (s *Store) Summarize() (Summary, error) {
	summary := Summary{ByStatus: make(map[string]int)}

	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM evolutions GROUP BY status`)
	if err != nil {
		return Summary{}, fmt.Errorf("count statuses: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Summary{}, fmt.Errorf("scan status count: %w", err)
		}
		summary.ByStatus[status] = count
		summary.TotalEvolutions += count
	}
	if err := rows.Err(); err != nil {
		return Summary{}, fmt.Errorf("count statuses: %w", err)
	}

	err = s.db.QueryRow(`SELECT COUNT(*) FROM recovery_actions`).Scan(&summary.RecoveryActions)
	if err != nil {
		return Summary{}, fmt.Errorf("count recoveries: %w", err)
	}

	err = s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(success), 0) FROM tectonic_shifts`,
	).Scan(&summary.TectonicShifts, &summary.SuccessfulShifts)
	if err != nil {
		return Summary{}, fmt.Errorf("count shifts: %w", err)
	}

	return summary, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvolution(row rowScanner) (EvolutionRecord, error) {
	var rec EvolutionRecord
	var result, changesJSON, commitSHA sql.NullString
	var createdStr, finishedStr string

	err := row.Scan(&rec.TaskID, &rec.Goal, &rec.TargetArtifact, &rec.Status, &rec.Tier,
		&result, &changesJSON, &commitSHA, &createdStr, &finishedStr)
	if err != nil {
		return EvolutionRecord{}, err
	}

	if result.Valid {
		rec.Result = result.String
	}
	if changesJSON.Valid {
		if err := json.Unmarshal([]byte(changesJSON.String), &rec.ChangesMade); err != nil {
			return EvolutionRecord{}, fmt.Errorf("unmarshal changes: %w", err)
		}
	}
	if commitSHA.Valid {
		rec.CommitSHA = commitSHA.String
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	rec.FinishedAt, _ = time.Parse(time.RFC3339Nano, finishedStr)
	return rec, nil
}

func collectEvolutions(rows *sql.Rows) ([]EvolutionRecord, error) {
	var records []EvolutionRecord
	for rows.Next() {
		rec, err := scanEvolution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan evolution: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// jsonPtr marshals a non-empty slice, or returns nil so the column stays NULL.
func jsonPtr(values []string) (any, error) {
	if len(values) == 0 {
		return nil, nil
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

func nullableText(v string) any {
	if v == "" {
		return nil
	}
	return v
}
