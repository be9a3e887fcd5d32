package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xela07ax/spaceai-governance/internal/domain"
	"go.uber.org/zap"
)

// CatalogRepository источник каталога capability (Postgres). Используется только в Refresh().
type CatalogRepository interface {
	GetAllCapabilities(ctx context.Context) ([]domain.Capability, error)
}

// Registry реестр известных capability со статистикой исполнения.
// Заполняется при старте, дальше в основном читается.
type Registry struct {
	mu    sync.RWMutex
	caps  map[string]domain.Capability
	order []string // порядок регистрации
	stats map[string]*domain.CapabilityStats

	workflows map[string]domain.Workflow // именованные workflow из каталога

	repo   CatalogRepository
	logger *zap.Logger
}

func New(repo CatalogRepository, logger *zap.Logger) *Registry {
	return &Registry{
		caps:      make(map[string]domain.Capability),
		stats:     make(map[string]*domain.CapabilityStats),
		workflows: make(map[string]domain.Workflow),
		repo:      repo,
		logger:    logger.Named("registry"),
	}
}

// Register добавляет capability. Повторная регистрация того же ID запрещена.
func (r *Registry) Register(c domain.Capability) error {
	if c.ID == "" {
		return domain.Errorf(domain.ErrValidation, "capability id is required")
	}
	if !c.OwningAgent.Valid() {
		return domain.Errorf(domain.ErrValidation, "capability %s has unknown owning agent %q", c.ID, c.OwningAgent)
	}
	for _, s := range c.SecondaryAgents {
		if !s.Valid() {
			return domain.Errorf(domain.ErrValidation, "capability %s has unknown secondary agent %q", c.ID, s)
		}
	}
	for _, p := range c.Params {
		if p.Name == "" || !p.Type.Valid() {
			return domain.Errorf(domain.ErrValidation, "capability %s has invalid parameter %q of type %q", c.ID, p.Name, p.Type)
		}
	}
	if c.DisplayName == "" {
		c.DisplayName = c.ID
	}
	// Копируем слайсы, чтобы внешний код не мутировал зарегистрированную запись
	c.SecondaryAgents = append([]domain.AgentID(nil), c.SecondaryAgents...)
	c.RequiredConfig = append([]string(nil), c.RequiredConfig...)
	c.Params = append([]domain.ParamSpec(nil), c.Params...)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.caps[c.ID]; exists {
		return domain.Errorf(domain.ErrValidation, "capability %s already registered", c.ID)
	}
	r.caps[c.ID] = c
	r.order = append(r.order, c.ID)
	r.stats[c.ID] = &domain.CapabilityStats{}
	return nil
}

// RegisterWorkflow сохраняет именованный workflow; ключ - ID, иначе Name
func (r *Registry) RegisterWorkflow(w domain.Workflow) error {
	key := w.ID
	if key == "" {
		key = w.Name
	}
	if key == "" || len(w.Steps) == 0 {
		return domain.Errorf(domain.ErrValidation, "workflow must have an id and at least one step")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workflows[key] = w
	return nil
}

func (r *Registry) Workflow(key string) (domain.Workflow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workflows[key]
	return w, ok
}

// Get возвращает копию записи
func (r *Registry) Get(id string) (domain.Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[id]
	return c, ok
}

// List в порядке регистрации
func (r *Registry) List() []domain.Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Capability, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.caps[id])
	}
	return out
}

// SetEnabled единственная допустимая мутация зарегистрированной capability
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.caps[id]
	if !ok {
		return domain.Errorf(domain.ErrValidation, "capability %s not found", id)
	}
	c.Enabled = enabled
	r.caps[id] = c
	r.logger.Info("capability toggled", zap.String("capability_id", id), zap.Bool("enabled", enabled))
	return nil
}

func (r *Registry) RecordExecution(id string, d time.Duration, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stats[id]
	if !ok {
		return
	}
	s.Executions++
	if !success {
		s.Failures++
	}
	s.TotalDuration += d
	s.LastExecuted = time.Now()
}

func (r *Registry) Stats(id string) (domain.CapabilityStats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stats[id]
	if !ok {
		return domain.CapabilityStats{}, false
	}
	return *s, true
}

// Counts сводка для статуса: всего / включено / по категориям
func (r *Registry) Counts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[string]int{"total": len(r.caps), "enabled": 0}
	for _, c := range r.caps {
		if c.Enabled {
			out["enabled"]++
		}
		out["category:"+c.Category]++
	}
	return out
}

// Categories отсортированный список категорий
func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[string]struct{}{}
	for _, c := range r.caps {
		seen[c.Category] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Refresh «холодная загрузка» каталога из репозитория. Уже известные capability пропускаются.
func (r *Registry) Refresh(ctx context.Context) ([]domain.Capability, error) {
	if r.repo == nil {
		return nil, nil
	}
	caps, err := r.repo.GetAllCapabilities(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: failed to load catalog: %w", err)
	}
	added := make([]domain.Capability, 0, len(caps))
	for _, c := range caps {
		if _, exists := r.Get(c.ID); exists {
			continue
		}
		if err := r.Register(c); err != nil {
			r.logger.Warn("skipping invalid catalog entry", zap.String("capability_id", c.ID), zap.Error(err))
			continue
		}
		added = append(added, c)
	}
	r.logger.Info("capability catalog refreshed", zap.Int("count", len(added)))
	return added, nil
}
