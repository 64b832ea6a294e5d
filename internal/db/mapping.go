package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/soochol/stagecond/internal/stagecond"
)

const mappingColumns = `id, action_definition_id, trigger_type, trigger_source_id, trigger_source_name, workflow_id,
	stage_id, trigger_event, execution_order, is_enabled, is_valid, created_by, created_at, updated_at`

const upsertMappingSQL = `INSERT INTO action_trigger_mappings (` + mappingColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (id) DO UPDATE SET
	  trigger_source_name = EXCLUDED.trigger_source_name, trigger_event = EXCLUDED.trigger_event,
	  execution_order = EXCLUDED.execution_order, is_enabled = EXCLUDED.is_enabled,
	  is_valid = EXCLUDED.is_valid, updated_at = EXCLUDED.updated_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func saveMapping(ctx context.Context, x execer, m *stagecond.ActionTriggerMapping) error {
	_, err := x.ExecContext(ctx, upsertMappingSQL,
		m.ID, m.ActionDefinitionID, string(m.TriggerType), m.TriggerSourceID, m.TriggerSourceName, m.WorkflowID,
		m.StageID, m.TriggerEvent, m.ExecutionOrder, m.IsEnabled, m.IsValid, m.CreatedBy, m.CreatedAt, m.UpdatedAt,
	)
	return err
}

// SaveTriggerMapping inserts or updates a mapping. A second valid mapping for
// the same Task or Question yields ErrConflict.
func (d *DB) SaveTriggerMapping(ctx context.Context, m *stagecond.ActionTriggerMapping) error {
	return classify("save trigger mapping", saveMapping(ctx, d.Pool, m))
}

// ReplaceTriggerMapping invalidates oldID and inserts m in one transaction.
func (d *DB) ReplaceTriggerMapping(ctx context.Context, oldID string, m *stagecond.ActionTriggerMapping) error {
	tx, err := d.Pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace mapping: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE action_trigger_mappings SET is_valid = FALSE, updated_at = $2 WHERE id = $1 AND is_valid`,
		oldID, m.CreatedAt)
	if err != nil {
		return classify("invalidate trigger mapping", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("invalidate trigger mapping %s: %w", oldID, ErrNotFound)
	}
	if err := saveMapping(ctx, tx, m); err != nil {
		return classify("insert replacement mapping", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace mapping: %w", err)
	}
	return nil
}

// InvalidateMappingsByDefinition soft-deletes every valid mapping of a definition.
func (d *DB) InvalidateMappingsByDefinition(ctx context.Context, definitionID string, at time.Time) (int, error) {
	res, err := d.Pool.ExecContext(ctx,
		`UPDATE action_trigger_mappings SET is_valid = FALSE, updated_at = $2
		 WHERE action_definition_id = $1 AND is_valid`, definitionID, at)
	if err != nil {
		return 0, classify("invalidate mappings", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// GetTriggerMapping retrieves a mapping by ID.
func (d *DB) GetTriggerMapping(ctx context.Context, id string) (*stagecond.ActionTriggerMapping, error) {
	row := d.Pool.QueryRowContext(ctx, `SELECT `+mappingColumns+` FROM action_trigger_mappings WHERE id = $1`, id)
	m, err := scanMapping(row)
	if err != nil {
		return nil, classify("get trigger mapping", err)
	}
	return m, nil
}

// ListTriggerMappings returns every mapping.
func (d *DB) ListTriggerMappings(ctx context.Context) ([]*stagecond.ActionTriggerMapping, error) {
	return d.queryMappings(ctx, "list trigger mappings",
		`SELECT `+mappingColumns+` FROM action_trigger_mappings ORDER BY execution_order, created_at, id`)
}

// ListMappingsBySource returns valid mappings for one trigger source.
func (d *DB) ListMappingsBySource(ctx context.Context, triggerType stagecond.TriggerType, sourceID string) ([]*stagecond.ActionTriggerMapping, error) {
	return d.queryMappings(ctx, "list mappings by source",
		`SELECT `+mappingColumns+` FROM action_trigger_mappings
		 WHERE trigger_type = $1 AND trigger_source_id = $2 AND is_valid
		 ORDER BY execution_order, created_at, id`, string(triggerType), sourceID)
}

// ListMappingsByDefinition returns valid mappings referencing a definition.
func (d *DB) ListMappingsByDefinition(ctx context.Context, definitionID string) ([]*stagecond.ActionTriggerMapping, error) {
	return d.queryMappings(ctx, "list mappings by definition",
		`SELECT `+mappingColumns+` FROM action_trigger_mappings
		 WHERE action_definition_id = $1 AND is_valid
		 ORDER BY execution_order, created_at, id`, definitionID)
}

func (d *DB) queryMappings(ctx context.Context, op, query string, args ...any) ([]*stagecond.ActionTriggerMapping, error) {
	rows, err := d.Pool.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var result []*stagecond.ActionTriggerMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trigger mapping: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func scanMapping(s scanner) (*stagecond.ActionTriggerMapping, error) {
	m := &stagecond.ActionTriggerMapping{}
	var triggerType string
	if err := s.Scan(&m.ID, &m.ActionDefinitionID, &triggerType, &m.TriggerSourceID, &m.TriggerSourceName, &m.WorkflowID,
		&m.StageID, &m.TriggerEvent, &m.ExecutionOrder, &m.IsEnabled, &m.IsValid, &m.CreatedBy, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.TriggerType = stagecond.TriggerType(triggerType)
	return m, nil
}
