package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/paigeant/paigeant/common/contracts"
	"github.com/paigeant/paigeant/common/logger"
)

// SQLiteRepository persists workflow state in a single SQLite file. The
// schema is created on first use.
type SQLiteRepository struct {
	db  *sql.DB
	log *logger.Logger
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS workflows (
	correlation_id TEXT PRIMARY KEY,
	routing_slip   TEXT NOT NULL,
	payload        TEXT,
	status         TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS step_history (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	correlation_id TEXT NOT NULL,
	step_name      TEXT NOT NULL,
	run_id         INTEGER NOT NULL DEFAULT 1,
	started_at     TEXT,
	completed_at   TEXT,
	status         TEXT,
	output         TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_step_history_run
	ON step_history (correlation_id, step_name, run_id);
`

// NewSQLiteRepository opens (and if needed creates) the database at path.
// Use ":memory:" for an ephemeral database.
func NewSQLiteRepository(path string, log *logger.Logger) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %s: %w", path, err)
	}
	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent step writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}

	log.Info("sqlite repository ready", "path", path)
	return &SQLiteRepository{db: db, log: log}, nil
}

func (r *SQLiteRepository) CreateWorkflow(ctx context.Context, correlationID string, slip *contracts.RoutingSlip, payload map[string]any) error {
	slipJSON, err := json.Marshal(slip)
	if err != nil {
		return fmt.Errorf("encode routing slip: %w", err)
	}
	payloadJSON, err := json.Marshal(orEmpty(payload))
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO workflows (correlation_id, routing_slip, payload, status) VALUES (?, ?, ?, ?)`,
		correlationID, string(slipJSON), string(payloadJSON), WorkflowInProgress,
	)
	if err != nil {
		return fmt.Errorf("failed to create workflow: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) UpdateRoutingSlip(ctx context.Context, correlationID string, slip *contracts.RoutingSlip) error {
	slipJSON, err := json.Marshal(slip)
	if err != nil {
		return fmt.Errorf("encode routing slip: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`UPDATE workflows SET routing_slip = ? WHERE correlation_id = ?`,
		string(slipJSON), correlationID,
	)
	if err != nil {
		return fmt.Errorf("failed to update routing slip: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) UpdatePayload(ctx context.Context, correlationID string, payload map[string]any) error {
	payloadJSON, err := json.Marshal(orEmpty(payload))
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`UPDATE workflows SET payload = ? WHERE correlation_id = ?`,
		string(payloadJSON), correlationID,
	)
	if err != nil {
		return fmt.Errorf("failed to update payload: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) MarkStepStarted(ctx context.Context, correlationID, stepName string, runID int) error {
	runID = normalizeRunID(runID)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO step_history (correlation_id, step_name, run_id, started_at, status)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (correlation_id, step_name, run_id) DO NOTHING`,
		correlationID, stepName, runID, time.Now().UTC().Format(time.RFC3339Nano), StepStarted,
	)
	if err != nil {
		return fmt.Errorf("failed to mark step started: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) MarkStepCompleted(ctx context.Context, correlationID, stepName, status string, output map[string]any, runID int) error {
	runID = normalizeRunID(runID)
	outputJSON, err := json.Marshal(orEmpty(output))
	if err != nil {
		return fmt.Errorf("encode step output: %w", err)
	}
	// Only the open record matches; re-assertion of a terminal state is a
	// no-op on completion time.
	_, err = r.db.ExecContext(ctx,
		`UPDATE step_history
		 SET completed_at = ?, status = ?, output = ?
		 WHERE correlation_id = ? AND step_name = ? AND run_id = ? AND completed_at IS NULL`,
		time.Now().UTC().Format(time.RFC3339Nano), status, string(outputJSON),
		correlationID, stepName, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark step completed: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) MarkWorkflowCompleted(ctx context.Context, correlationID, status string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE workflows SET status = ? WHERE correlation_id = ?`,
		status, correlationID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark workflow completed: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetWorkflow(ctx context.Context, correlationID string) (*WorkflowInstance, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT correlation_id, routing_slip, payload, status FROM workflows WHERE correlation_id = ?`,
		correlationID,
	)
	wf, err := scanWorkflow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, correlation_id, step_name, run_id, started_at, completed_at, status, output
		 FROM step_history WHERE correlation_id = ? ORDER BY id`,
		correlationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			step                   StepRecord
			startedAt, completedAt sql.NullString
			status, output         sql.NullString
		)
		if err := rows.Scan(&step.ID, &step.CorrelationID, &step.StepName, &step.RunID,
			&startedAt, &completedAt, &status, &output); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		step.StartedAt = parseSQLiteTime(startedAt)
		step.CompletedAt = parseSQLiteTime(completedAt)
		step.Status = status.String
		if output.Valid && output.String != "" {
			if err := json.Unmarshal([]byte(output.String), &step.Output); err != nil {
				return nil, fmt.Errorf("decode step output: %w", err)
			}
		}
		wf.Steps = append(wf.Steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}

	return wf, nil
}

func (r *SQLiteRepository) ListWorkflows(ctx context.Context) ([]*WorkflowInstance, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT correlation_id, routing_slip, payload, status FROM workflows`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var out []*WorkflowInstance
	for rows.Next() {
		wf, err := scanWorkflow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		out = append(out, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func scanWorkflow(scan func(...any) error) (*WorkflowInstance, error) {
	var (
		wf          WorkflowInstance
		slipJSON    string
		payloadJSON sql.NullString
	)
	if err := scan(&wf.CorrelationID, &slipJSON, &payloadJSON, &wf.Status); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(slipJSON), &wf.RoutingSlip); err != nil {
		return nil, fmt.Errorf("decode routing slip: %w", err)
	}
	if payloadJSON.Valid && payloadJSON.String != "" {
		if err := json.Unmarshal([]byte(payloadJSON.String), &wf.Payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}
	return &wf, nil
}

func parseSQLiteTime(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil
	}
	return &t
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
