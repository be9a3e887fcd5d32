package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xela07ax/spaceai-governance/internal/audit"
)

const auditColumns = 10

// AuditRepo реализует audit.Sink
type AuditRepo struct {
	db *DB
}

func NewAuditRepo(db *DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// WriteBatch вставляет пачку записей одним запросом
func (r *AuditRepo) WriteBatch(ctx context.Context, records []audit.Record) error {
	if len(records) == 0 {
		return nil
	}

	vals := make([]interface{}, 0, len(records)*auditColumns)
	for _, rec := range records {
		changes, err := json.Marshal(rec.Changes)
		if err != nil {
			return fmt.Errorf("postgres: marshal changes of %s: %w", rec.ID, err)
		}
		vals = append(vals,
			rec.ID, rec.RequestID, rec.Action, rec.ResourceType, rec.ResourceID,
			rec.Agent, rec.Principal, changes, rec.OccurredAt, rec.RecordedAt,
		)
	}

	query := "INSERT INTO audit_records (id, request_id, action, resource_type, resource_id, agent, principal, changes, occurred_at, recorded_at) VALUES " +
		valuesClause(len(records), auditColumns) +
		" ON CONFLICT (id) DO NOTHING"

	if _, err := r.db.db.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: write audit batch: %w", err)
	}
	return nil
}
