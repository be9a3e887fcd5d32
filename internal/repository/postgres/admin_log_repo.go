package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xela07ax/spaceai-governance/internal/admin"
)

const adminLogColumns = 8

// AdminLogRepo архив вытесненных записей журнала администратора
type AdminLogRepo struct {
	db *DB
}

func NewAdminLogRepo(db *DB) *AdminLogRepo {
	return &AdminLogRepo{db: db}
}

func (r *AdminLogRepo) ArchiveAdminLog(ctx context.Context, entries []admin.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	// Ограничение Postgres на число параметров запроса
	const chunk = 5000
	for start := 0; start < len(entries); start += chunk {
		end := min(start+chunk, len(entries))
		if err := r.insert(ctx, entries[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (r *AdminLogRepo) insert(ctx context.Context, entries []admin.LogEntry) error {
	vals := make([]interface{}, 0, len(entries)*adminLogColumns)
	for _, e := range entries {
		params, err := json.Marshal(e.Params)
		if err != nil {
			return fmt.Errorf("postgres: marshal params of %s: %w", e.ID, err)
		}
		vals = append(vals, e.ID, e.Timestamp, string(e.Command), e.Target, params, e.Override, e.Success, e.Error)
	}
	query := "INSERT INTO admin_log (id, timestamp, command, target, params, override, success, error) VALUES " +
		valuesClause(len(entries), adminLogColumns) +
		" ON CONFLICT (id) DO NOTHING"
	if _, err := r.db.db.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: archive admin log: %w", err)
	}
	return nil
}
