package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/soochol/stagecond/internal/stagecond"
)

const conditionColumns = `id, stage_id, workflow_id, name, description, rules, actions, fallback_stage_id,
	is_active, created_by, updated_by, created_at, updated_at`

// SaveCondition inserts or replaces a stage condition.
func (d *DB) SaveCondition(ctx context.Context, c *stagecond.StageCondition) error {
	rulesJSON, err := json.Marshal(c.Rules)
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	actionsJSON, err := json.Marshal(c.Actions)
	if err != nil {
		return fmt.Errorf("encode actions: %w", err)
	}

	_, err = d.Pool.ExecContext(ctx,
		`INSERT INTO stage_conditions (`+conditionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (id) DO UPDATE SET
		   stage_id = EXCLUDED.stage_id, workflow_id = EXCLUDED.workflow_id, name = EXCLUDED.name,
		   description = EXCLUDED.description, rules = EXCLUDED.rules, actions = EXCLUDED.actions,
		   fallback_stage_id = EXCLUDED.fallback_stage_id, is_active = EXCLUDED.is_active,
		   updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at`,
		c.ID, c.StageID, c.WorkflowID, c.Name, c.Description, rulesJSON, actionsJSON, c.FallbackStageID,
		c.IsActive, c.CreatedBy, c.UpdatedBy, c.CreatedAt, c.UpdatedAt,
	)
	return classify("save condition", err)
}

// GetCondition retrieves a stage condition by ID.
func (d *DB) GetCondition(ctx context.Context, id string) (*stagecond.StageCondition, error) {
	row := d.Pool.QueryRowContext(ctx, `SELECT `+conditionColumns+` FROM stage_conditions WHERE id = $1`, id)
	c, err := scanCondition(row)
	if err != nil {
		return nil, classify("get condition", err)
	}
	return c, nil
}

// ListConditions returns all conditions, optionally restricted to one stage.
func (d *DB) ListConditions(ctx context.Context, stageID string) ([]*stagecond.StageCondition, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if stageID == "" {
		rows, err = d.Pool.QueryContext(ctx, `SELECT `+conditionColumns+` FROM stage_conditions ORDER BY created_at, id`)
	} else {
		rows, err = d.Pool.QueryContext(ctx, `SELECT `+conditionColumns+` FROM stage_conditions WHERE stage_id = $1 ORDER BY created_at, id`, stageID)
	}
	if err != nil {
		return nil, classify("list conditions", err)
	}
	defer rows.Close()

	var result []*stagecond.StageCondition
	for rows.Next() {
		c, err := scanCondition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan condition: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCondition(s scanner) (*stagecond.StageCondition, error) {
	c := &stagecond.StageCondition{}
	var rulesJSON, actionsJSON []byte
	if err := s.Scan(&c.ID, &c.StageID, &c.WorkflowID, &c.Name, &c.Description, &rulesJSON, &actionsJSON,
		&c.FallbackStageID, &c.IsActive, &c.CreatedBy, &c.UpdatedBy, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(rulesJSON, &c.Rules); err != nil {
		return nil, fmt.Errorf("decode rules of %s: %w", c.ID, err)
	}
	if err := json.Unmarshal(actionsJSON, &c.Actions); err != nil {
		return nil, fmt.Errorf("decode actions of %s: %w", c.ID, err)
	}
	return c, nil
}
