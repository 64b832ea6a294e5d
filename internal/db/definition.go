package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/soochol/stagecond/internal/stagecond"
)

const definitionColumns = `id, name, description, action_type, action_config, is_enabled, is_tools, is_valid,
	created_by, updated_by, created_at, updated_at`

// SaveActionDefinition inserts or replaces an action definition.
func (d *DB) SaveActionDefinition(ctx context.Context, def *stagecond.ActionDefinition) error {
	configJSON, err := json.Marshal(def.Config)
	if err != nil {
		return fmt.Errorf("encode action config: %w", err)
	}
	_, err = d.Pool.ExecContext(ctx,
		`INSERT INTO action_definitions (`+definitionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name, description = EXCLUDED.description, action_config = EXCLUDED.action_config,
		   is_enabled = EXCLUDED.is_enabled, is_tools = EXCLUDED.is_tools, is_valid = EXCLUDED.is_valid,
		   updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at`,
		def.ID, def.Name, def.Description, string(def.ActionType), configJSON, def.IsEnabled, def.IsTools, def.IsValid,
		def.CreatedBy, def.UpdatedBy, def.CreatedAt, def.UpdatedAt,
	)
	return classify("save action definition", err)
}

// GetActionDefinition retrieves a definition by ID, soft-deleted rows included.
func (d *DB) GetActionDefinition(ctx context.Context, id string) (*stagecond.ActionDefinition, error) {
	row := d.Pool.QueryRowContext(ctx, `SELECT `+definitionColumns+` FROM action_definitions WHERE id = $1`, id)
	def, err := scanDefinition(row)
	if err != nil {
		return nil, classify("get action definition", err)
	}
	return def, nil
}

// ListActionDefinitions returns every definition ordered by creation.
func (d *DB) ListActionDefinitions(ctx context.Context) ([]*stagecond.ActionDefinition, error) {
	rows, err := d.Pool.QueryContext(ctx, `SELECT `+definitionColumns+` FROM action_definitions ORDER BY created_at, id`)
	if err != nil {
		return nil, classify("list action definitions", err)
	}
	defer rows.Close()

	var result []*stagecond.ActionDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan action definition: %w", err)
		}
		result = append(result, def)
	}
	return result, rows.Err()
}

func scanDefinition(s scanner) (*stagecond.ActionDefinition, error) {
	def := &stagecond.ActionDefinition{}
	var actionType string
	var configJSON []byte
	if err := s.Scan(&def.ID, &def.Name, &def.Description, &actionType, &configJSON, &def.IsEnabled, &def.IsTools,
		&def.IsValid, &def.CreatedBy, &def.UpdatedBy, &def.CreatedAt, &def.UpdatedAt); err != nil {
		return nil, err
	}
	def.ActionType = stagecond.ActionType(actionType)
	if err := json.Unmarshal(configJSON, &def.Config); err != nil {
		return nil, fmt.Errorf("decode action config of %s: %w", def.ID, err)
	}
	return def, nil
}
