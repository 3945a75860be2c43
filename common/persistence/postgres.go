package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paigeant/paigeant/common/contracts"
	"github.com/paigeant/paigeant/common/logger"
)

// PostgresRepository persists workflow state in Postgres with JSONB
// columns. Concurrent step writes for a workflow are serialized by the
// unique index on (correlation_id, step_name, run_id).
type PostgresRepository struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS workflows (
	correlation_id TEXT PRIMARY KEY,
	routing_slip   JSONB NOT NULL,
	payload        JSONB,
	status         TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS step_history (
	id             BIGSERIAL PRIMARY KEY,
	correlation_id TEXT NOT NULL REFERENCES workflows (correlation_id),
	step_name      TEXT NOT NULL,
	run_id         INT NOT NULL DEFAULT 1,
	started_at     TIMESTAMPTZ,
	completed_at   TIMESTAMPTZ,
	status         TEXT,
	output         JSONB
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_step_history_run
	ON step_history (correlation_id, step_name, run_id);
`

// NewPostgresRepository connects to the database at url and ensures the
// schema exists.
func NewPostgresRepository(ctx context.Context, url string, log *logger.Logger) (*PostgresRepository, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create postgres schema: %w", err)
	}

	log.Info("postgres repository ready")
	return &PostgresRepository{pool: pool, log: log}, nil
}

func (r *PostgresRepository) CreateWorkflow(ctx context.Context, correlationID string, slip *contracts.RoutingSlip, payload map[string]any) error {
	slipJSON, err := json.Marshal(slip)
	if err != nil {
		return fmt.Errorf("encode routing slip: %w", err)
	}
	payloadJSON, err := json.Marshal(orEmpty(payload))
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO workflows (correlation_id, routing_slip, payload, status) VALUES ($1, $2, $3, $4)`,
		correlationID, slipJSON, payloadJSON, WorkflowInProgress,
	)
	if err != nil {
		return fmt.Errorf("failed to create workflow: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateRoutingSlip(ctx context.Context, correlationID string, slip *contracts.RoutingSlip) error {
	slipJSON, err := json.Marshal(slip)
	if err != nil {
		return fmt.Errorf("encode routing slip: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`UPDATE workflows SET routing_slip = $2 WHERE correlation_id = $1`,
		correlationID, slipJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to update routing slip: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdatePayload(ctx context.Context, correlationID string, payload map[string]any) error {
	payloadJSON, err := json.Marshal(orEmpty(payload))
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`UPDATE workflows SET payload = $2 WHERE correlation_id = $1`,
		correlationID, payloadJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to update payload: %w", err)
	}
	return nil
}

func (r *PostgresRepository) MarkStepStarted(ctx context.Context, correlationID, stepName string, runID int) error {
	runID = normalizeRunID(runID)
	_, err := r.pool.Exec(ctx,
		`INSERT INTO step_history (correlation_id, step_name, run_id, started_at, status)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (correlation_id, step_name, run_id) DO NOTHING`,
		correlationID, stepName, runID, time.Now().UTC(), StepStarted,
	)
	if err != nil {
		return fmt.Errorf("failed to mark step started: %w", err)
	}
	return nil
}

func (r *PostgresRepository) MarkStepCompleted(ctx context.Context, correlationID, stepName, status string, output map[string]any, runID int) error {
	runID = normalizeRunID(runID)
	outputJSON, err := json.Marshal(orEmpty(output))
	if err != nil {
		return fmt.Errorf("encode step output: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`UPDATE step_history
		 SET completed_at = $4, status = $5, output = $6
		 WHERE correlation_id = $1 AND step_name = $2 AND run_id = $3 AND completed_at IS NULL`,
		correlationID, stepName, runID, time.Now().UTC(), status, outputJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to mark step completed: %w", err)
	}
	return nil
}

func (r *PostgresRepository) MarkWorkflowCompleted(ctx context.Context, correlationID, status string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE workflows SET status = $2 WHERE correlation_id = $1`,
		correlationID, status,
	)
	if err != nil {
		return fmt.Errorf("failed to mark workflow completed: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetWorkflow(ctx context.Context, correlationID string) (*WorkflowInstance, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT correlation_id, routing_slip, payload, status FROM workflows WHERE correlation_id = $1`,
		correlationID,
	)
	wf, err := scanPgWorkflow(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, correlation_id, step_name, run_id, started_at, completed_at, status, output
		 FROM step_history WHERE correlation_id = $1 ORDER BY id`,
		correlationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			step       StepRecord
			status     *string
			outputJSON []byte
		)
		if err := rows.Scan(&step.ID, &step.CorrelationID, &step.StepName, &step.RunID,
			&step.StartedAt, &step.CompletedAt, &status, &outputJSON); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		if status != nil {
			step.Status = *status
		}
		if len(outputJSON) > 0 {
			if err := json.Unmarshal(outputJSON, &step.Output); err != nil {
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

func (r *PostgresRepository) ListWorkflows(ctx context.Context) ([]*WorkflowInstance, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT correlation_id, routing_slip, payload, status FROM workflows`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var out []*WorkflowInstance
	for rows.Next() {
		wf, err := scanPgWorkflow(rows.Scan)
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

func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

func scanPgWorkflow(scan func(...any) error) (*WorkflowInstance, error) {
	var (
		wf          WorkflowInstance
		slipJSON    []byte
		payloadJSON []byte
	)
	if err := scan(&wf.CorrelationID, &slipJSON, &payloadJSON, &wf.Status); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(slipJSON, &wf.RoutingSlip); err != nil {
		return nil, fmt.Errorf("decode routing slip: %w", err)
	}
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &wf.Payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}
	return &wf, nil
}
