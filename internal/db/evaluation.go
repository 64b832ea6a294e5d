package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/soochol/stagecond/internal/stagecond"
)

const evaluationColumns = `id, tenant_id, instance_id, stage_id, stage_name, condition_id, condition_name, outcome,
	fallback_taken, next_stage_id, success, aborted, actions, triggered_by, created_at`

// InsertEvaluationLog appends an orchestrator audit entry.
func (d *DB) InsertEvaluationLog(ctx context.Context, l *stagecond.EvaluationLog) error {
	actionsJSON, err := json.Marshal(l.Actions)
	if err != nil {
		return fmt.Errorf("encode actions: %w", err)
	}
	_, err = d.Pool.ExecContext(ctx,
		`INSERT INTO evaluation_logs (`+evaluationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		l.ID, l.TenantID, l.InstanceID, l.StageID, l.StageName, l.ConditionID, l.ConditionName, string(l.Outcome),
		l.FallbackTaken, l.NextStageID, l.Success, l.Aborted, actionsJSON, l.TriggeredBy, l.CreatedAt,
	)
	return classify("insert evaluation log", err)
}

// ListEvaluationLogs returns the newest entries for an instance.
func (d *DB) ListEvaluationLogs(ctx context.Context, instanceID string, limit int) ([]*stagecond.EvaluationLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.Pool.QueryContext(ctx,
		`SELECT `+evaluationColumns+` FROM evaluation_logs
		 WHERE instance_id = $1 ORDER BY created_at DESC LIMIT $2`, instanceID, limit)
	if err != nil {
		return nil, classify("list evaluation logs", err)
	}
	defer rows.Close()

	var result []*stagecond.EvaluationLog
	for rows.Next() {
		l := &stagecond.EvaluationLog{}
		var outcome string
		var actionsJSON []byte
		if err := rows.Scan(&l.ID, &l.TenantID, &l.InstanceID, &l.StageID, &l.StageName, &l.ConditionID, &l.ConditionName,
			&outcome, &l.FallbackTaken, &l.NextStageID, &l.Success, &l.Aborted, &actionsJSON, &l.TriggeredBy, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan evaluation log: %w", err)
		}
		l.Outcome = stagecond.Outcome(outcome)
		json.Unmarshal(actionsJSON, &l.Actions)
		result = append(result, l)
	}
	return result, rows.Err()
}

// PurgeEvaluationLogs deletes entries created before the cutoff.
func (d *DB) PurgeEvaluationLogs(ctx context.Context, before time.Time) (int, error) {
	res, err := d.Pool.ExecContext(ctx, `DELETE FROM evaluation_logs WHERE created_at < $1`, before)
	if err != nil {
		return 0, classify("purge evaluation logs", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
