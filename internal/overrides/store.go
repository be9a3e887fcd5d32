package overrides

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-governance/internal/domain"
	"go.uber.org/zap"
)

// Store хранилище override-записей. Читается каждым запросом до входа в конвейер,
// поэтому L1 (RAM) всегда источник истины для чтения; Redis только реплицирует.
type Store struct {
	mu      sync.RWMutex
	entries map[string]domain.OverrideEntry

	rdb    *redis.Client // nil: только локальное состояние
	logger *zap.Logger
}

func NewStore(rdb *redis.Client, logger *zap.Logger) *Store {
	return &Store{
		entries: make(map[string]domain.OverrideEntry),
		rdb:     rdb,
		logger:  logger.Named("overrides"),
	}
}

// Set записывает значение (last-write-wins) и реплицирует в Redis
func (s *Store) Set(ctx context.Context, key string, value interface{}) domain.OverrideEntry {
	entry := domain.OverrideEntry{
		Key:       key,
		Value:     value,
		SetBy:     domain.OverrideSetByAdmin,
		Timestamp: time.Now().UTC(),
	}

	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()

	s.logger.Info("override set", zap.String("key", key), zap.Any("value", value))
	s.replicate(ctx, entry, false)
	return entry
}

// Delete снимает override. Возвращает false, если ключа не было.
func (s *Store) Delete(ctx context.Context, key string) bool {
	s.mu.Lock()
	entry, ok := s.entries[key]
	delete(s.entries, key)
	s.mu.Unlock()

	if !ok {
		return false
	}
	s.logger.Info("override cleared", zap.String("key", key))
	s.replicate(ctx, entry, true)
	return true
}

func (s *Store) Get(key string) (domain.OverrideEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return e, ok
}

// Enabled флаг считается включенным, если запись есть и ее значение истинно
func (s *Store) Enabled(key string) bool {
	e, ok := s.Get(key)
	if !ok {
		return false
	}
	return truthy(e.Value)
}

func (s *Store) EmergencyStop() bool { return s.Enabled(domain.OverrideEmergencyStop) }
func (s *Store) Maintenance() bool   { return s.Enabled(domain.OverrideMaintenanceMode) }

func (s *Store) AgentDisabled(id domain.AgentID) bool {
	return s.Enabled(domain.AgentDisabledKey(id))
}

func (s *Store) SkillDisabled(capID string) bool {
	return s.Enabled(domain.SkillDisabledKey(capID))
}

func (s *Store) CustomerSuspended(principal string) bool {
	if principal == "" {
		return false
	}
	return s.Enabled(domain.CustomerSuspendedKey(principal))
}

// Entries снимок, отсортированный по ключу
func (s *Store) Entries() []domain.OverrideEntry {
	s.mu.RLock()
	out := make([]domain.OverrideEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// WithPrefix записи, ключ которых начинается с prefix
func (s *Store) WithPrefix(prefix string) []domain.OverrideEntry {
	var out []domain.OverrideEntry
	for _, e := range s.Entries() {
		if strings.HasPrefix(e.Key, prefix) {
			out = append(out, e)
		}
	}
	return out
}

// apply обновление L1 из реплики, без обратной публикации
func (s *Store) apply(entry domain.OverrideEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Key] = entry
}

func (s *Store) forget(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "" && t != "false" && t != "off" && t != "0"
	case float64:
		return t != 0
	case int:
		return t != 0
	default:
		return true
	}
}
