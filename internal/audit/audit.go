// Package audit persists workflow execution history to Postgres:
// workflow_executions (one row per run) and workflow_execution_logs (one
// row per node/activity event). The pool wrapper is grounded on the
// reference orchestrator's common/db package.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flowcraft/orchestrator/internal/config"
	"github.com/flowcraft/orchestrator/telemetry"
)

// DB wraps a pgx connection pool with the queries the audit activities
// issue.
type DB struct {
	pool *pgxpool.Pool
	log  telemetry.Logger
}

// New creates and verifies a Postgres connection pool from cfg.
func New(ctx context.Context, cfg config.DatabaseConfig, log telemetry.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{pool: pool, log: log}, nil
}

// Close releases the pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Health reports whether the pool can reach Postgres.
func (db *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return db.pool.Ping(ctx)
}

// CreateExecution inserts the initial workflow_executions row when a run
// starts.
func (db *DB) CreateExecution(ctx context.Context, executionID, workflowID string, triggerData any) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO workflow_executions (execution_id, workflow_id, status, trigger_data, started_at)
		VALUES ($1, $2, 'running', $3, now())
		ON CONFLICT (execution_id) DO NOTHING`,
		executionID, workflowID, triggerData)
	if err != nil {
		db.log.Warn(ctx, "create execution row failed", "execution_id", executionID, "error", err.Error())
	}
	return err
}

// CompleteExecution records the terminal status and output of a run. Per
// spec §7 kind 7, failures here are logged but never surfaced as a
// workflow-fatal error by callers.
func (db *DB) CompleteExecution(ctx context.Context, executionID string, success bool, output any, durationMs int64) error {
	status := "success"
	if !success {
		status = "error"
	}
	_, err := db.pool.Exec(ctx, `
		UPDATE workflow_executions
		SET status = $2, output = $3, duration_ms = $4, completed_at = now()
		WHERE execution_id = $1`,
		executionID, status, output, durationMs)
	if err != nil {
		db.log.Warn(ctx, "complete execution row failed", "execution_id", executionID, "error", err.Error())
	}
	return err
}

// LogNodeEvent inserts one workflow_execution_logs row.
func (db *DB) LogNodeEvent(ctx context.Context, executionID, nodeID, nodeName, nodeType, status string, input, output any, errMsg string, durationMs int64) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO workflow_execution_logs
			(execution_id, node_id, node_name, node_type, status, input, output, error, duration_ms, logged_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())`,
		executionID, nodeID, nodeName, nodeType, status, input, output, nullIfEmpty(errMsg), durationMs)
	if err != nil {
		db.log.Warn(ctx, "log node event failed", "execution_id", executionID, "node_id", nodeID, "error", err.Error())
	}
	return err
}

// GetExecutionTimes returns the started_at/completed_at timestamps recorded
// for executionID, for the HTTP status endpoint's startedAt/completedAt
// fields. completedAt is the zero time if the run is still in progress.
func (db *DB) GetExecutionTimes(ctx context.Context, executionID string) (startedAt, completedAt time.Time, err error) {
	var completed *time.Time
	err = db.pool.QueryRow(ctx, `
		SELECT started_at, completed_at FROM workflow_executions WHERE execution_id = $1`,
		executionID).Scan(&startedAt, &completed)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if completed != nil {
		completedAt = *completed
	}
	return startedAt, completedAt, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
