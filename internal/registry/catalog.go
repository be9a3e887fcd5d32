package registry

import (
	"fmt"
	"os"

	"github.com/xela07ax/spaceai-governance/internal/domain"
	"gopkg.in/yaml.v3"
)

// catalogFile формат configs/capabilities.yaml
type catalogFile struct {
	Capabilities []catalogEntry    `yaml:"capabilities"`
	Workflows    []domain.Workflow `yaml:"workflows"`
}

// Catalog содержимое файла каталога
type Catalog struct {
	Capabilities []domain.Capability
	Workflows    []domain.Workflow
}

type catalogEntry struct {
	ID              string                `yaml:"id"`
	DisplayName     string                `yaml:"display_name"`
	OwningAgent     domain.AgentID        `yaml:"owning_agent"`
	SecondaryAgents []domain.AgentID      `yaml:"secondary_agents"`
	Category        string                `yaml:"category"`
	ComplexityTier  domain.ComplexityTier `yaml:"complexity_tier"`
	RequiredConfig  []string              `yaml:"required_config"`
	Params          []domain.ParamSpec    `yaml:"params"`

	// По умолчанию true, поэтому указатель
	Enabled *bool `yaml:"enabled"`
}

// ParseCatalog разбирает YAML-каталог
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("catalog: invalid yaml: %w", err)
	}
	out := make([]domain.Capability, 0, len(f.Capabilities))
	for _, e := range f.Capabilities {
		c := domain.Capability{
			ID:              e.ID,
			DisplayName:     e.DisplayName,
			OwningAgent:     e.OwningAgent,
			SecondaryAgents: e.SecondaryAgents,
			Category:        e.Category,
			ComplexityTier:  e.ComplexityTier,
			RequiredConfig:  e.RequiredConfig,
			Params:          e.Params,
			Enabled:         e.Enabled == nil || *e.Enabled,
		}
		if c.ComplexityTier == "" {
			c.ComplexityTier = domain.TierStandard
		}
		out = append(out, c)
	}
	return &Catalog{Capabilities: out, Workflows: f.Workflows}, nil
}

// LoadCatalog читает каталог из файла
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ConfigChecker отвечает, настроен ли внешний ключ конфигурации capability
type ConfigChecker interface {
	IsConfigured(key string) bool
}

// StaticConfig набор заданных ключей (из config.yaml + ENV)
type StaticConfig map[string]bool

func (s StaticConfig) IsConfigured(key string) bool { return s[key] }

// EnvConfig проверяет наличие переменной окружения
type EnvConfig struct{}

func (EnvConfig) IsConfigured(key string) bool {
	v, ok := os.LookupEnv(key)
	return ok && v != ""
}

// AnyConfig ключ считается настроенным, если его знает хотя бы один источник
type AnyConfig []ConfigChecker

func (a AnyConfig) IsConfigured(key string) bool {
	for _, c := range a {
		if c != nil && c.IsConfigured(key) {
			return true
		}
	}
	return false
}

// MissingConfig ключи capability, которые не настроены
func MissingConfig(c domain.Capability, checker ConfigChecker) []string {
	if checker == nil {
		return nil
	}
	var missing []string
	for _, k := range c.RequiredConfig {
		if !checker.IsConfigured(k) {
			missing = append(missing, k)
		}
	}
	return missing
}

// Assigner получатель владельцев capability (матрица ответственности)
type Assigner interface {
	AssignCapability(c domain.Capability) error
}

// Apply регистрирует содержимое каталога в реестре и матрице.
// Ошибочные записи пропускаются, первая ошибка возвращается после обработки всего каталога.
func (r *Registry) Apply(cat *Catalog, m Assigner) error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	for _, c := range cat.Capabilities {
		if err := r.Register(c); err != nil {
			keep(err)
			continue
		}
		if m != nil {
			keep(m.AssignCapability(c))
		}
	}
	for _, w := range cat.Workflows {
		keep(r.RegisterWorkflow(w))
	}
	return first
}
