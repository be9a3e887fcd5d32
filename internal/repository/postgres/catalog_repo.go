package postgres

/*
Каталог capability хранится в Postgres и подгружается реестром при старте
поверх configs/capabilities.yaml (registry.Refresh).
*/

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xela07ax/spaceai-governance/internal/domain"
)

type CatalogRepo struct {
	db *DB
}

func NewCatalogRepo(db *DB) *CatalogRepo {
	return &CatalogRepo{db: db}
}

// GetAllCapabilities «холодная загрузка» каталога
func (r *CatalogRepo) GetAllCapabilities(ctx context.Context) ([]domain.Capability, error) {
	query := `
		SELECT id, display_name, owning_agent, secondary_agents, category, complexity_tier, enabled, required_config, params
		FROM capabilities
		ORDER BY id`

	rows, err := r.db.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: query capabilities: %w", err)
	}
	defer rows.Close()

	var out []domain.Capability
	for rows.Next() {
		var (
			c                           domain.Capability
			secondary, required, params []byte
		)
		if err := rows.Scan(&c.ID, &c.DisplayName, &c.OwningAgent, &secondary,
			&c.Category, &c.ComplexityTier, &c.Enabled, &required, &params); err != nil {
			return nil, fmt.Errorf("postgres: scan capability: %w", err)
		}
		if err := unmarshalList(secondary, &c.SecondaryAgents); err != nil {
			return nil, fmt.Errorf("postgres: capability %s secondary_agents: %w", c.ID, err)
		}
		if err := unmarshalList(required, &c.RequiredConfig); err != nil {
			return nil, fmt.Errorf("postgres: capability %s required_config: %w", c.ID, err)
		}
		if err := unmarshalList(params, &c.Params); err != nil {
			return nil, fmt.Errorf("postgres: capability %s params: %w", c.ID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// unmarshalList jsonb-массив; NULL дает пустой список
func unmarshalList(raw []byte, dst interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
