package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/soochol/stagecond/internal/stagecond"
)

const executionColumns = `id, action_definition_id, action_name, action_type, execution_status, started_at,
	completed_at, trigger_context, execution_output, error_message, executed_by`

// ErrAlreadyFinished is returned when completing an execution that is no
// longer Running.
var ErrAlreadyFinished = errors.New("execution already finished")

// InsertExecution records an execution in the Running state.
func (d *DB) InsertExecution(ctx context.Context, e *stagecond.ActionExecution) error {
	contextJSON, err := json.Marshal(e.TriggerContext)
	if err != nil {
		return fmt.Errorf("encode trigger context: %w", err)
	}
	_, err = d.Pool.ExecContext(ctx,
		`INSERT INTO action_executions (id, action_definition_id, action_name, action_type, execution_status,
		   started_at, trigger_context, executed_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.ActionDefinitionID, e.ActionName, string(e.ActionType), string(e.Status), e.StartedAt, contextJSON, e.ExecutedBy,
	)
	return classify("insert execution", err)
}

// CompleteExecution writes the terminal status exactly once.
func (d *DB) CompleteExecution(ctx context.Context, e *stagecond.ActionExecution) error {
	var outputJSON []byte
	if e.Output != nil {
		var err error
		if outputJSON, err = json.Marshal(e.Output); err != nil {
			return fmt.Errorf("encode execution output: %w", err)
		}
	}
	res, err := d.Pool.ExecContext(ctx,
		`UPDATE action_executions
		 SET execution_status = $2, completed_at = $3, execution_output = $4, error_message = $5
		 WHERE id = $1 AND execution_status = 'Running'`,
		e.ID, string(e.Status), e.CompletedAt, outputJSON, e.Error,
	)
	if err != nil {
		return classify("complete execution", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("complete execution %s: %w", e.ID, ErrAlreadyFinished)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (d *DB) GetExecution(ctx context.Context, id string) (*stagecond.ActionExecution, error) {
	row := d.Pool.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM action_executions WHERE id = $1`, id)
	e, err := scanExecution(row)
	if err != nil {
		return nil, classify("get execution", err)
	}
	return e, nil
}

// ListExecutionsByDefinition returns the newest executions of a definition.
func (d *DB) ListExecutionsByDefinition(ctx context.Context, definitionID string, limit int) ([]*stagecond.ActionExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.Pool.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM action_executions
		 WHERE action_definition_id = $1 ORDER BY started_at DESC LIMIT $2`, definitionID, limit)
	if err != nil {
		return nil, classify("list executions", err)
	}
	defer rows.Close()

	var result []*stagecond.ActionExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func scanExecution(s scanner) (*stagecond.ActionExecution, error) {
	e := &stagecond.ActionExecution{}
	var actionType, status string
	var completedAt sql.NullTime
	var contextJSON, outputJSON []byte
	if err := s.Scan(&e.ID, &e.ActionDefinitionID, &e.ActionName, &actionType, &status, &e.StartedAt,
		&completedAt, &contextJSON, &outputJSON, &e.Error, &e.ExecutedBy); err != nil {
		return nil, err
	}
	e.ActionType = stagecond.ActionType(actionType)
	e.Status = stagecond.ExecutionStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		e.CompletedAt = &t
	}
	if len(contextJSON) > 0 {
		json.Unmarshal(contextJSON, &e.TriggerContext)
	}
	if len(outputJSON) > 0 {
		json.Unmarshal(outputJSON, &e.Output)
	}
	return e, nil
}
