package domain

import "time"

type ComplexityTier string

const (
	TierSimple   ComplexityTier = "simple"
	TierStandard ComplexityTier = "standard"
	TierComplex  ComplexityTier = "complex"
)

// Capability описывает независимо вызываемую единицу работы.
// После регистрации неизменяема, кроме Enabled.
type Capability struct {
	ID              string         `json:"id"`
	DisplayName     string         `json:"display_name"`
	OwningAgent     AgentID        `json:"owning_agent"`
	SecondaryAgents []AgentID      `json:"secondary_agents,omitempty"`
	Category        string         `json:"category"`
	ComplexityTier  ComplexityTier `json:"complexity_tier"`
	Enabled         bool           `json:"enabled"`

	// Ключи внешней конфигурации, без которых вызов невозможен (например, STRIPE_API_KEY)
	RequiredConfig []string `json:"required_config,omitempty"`

	// Схема параметров; пустая - payload не проверяется
	Params []ParamSpec `json:"params,omitempty"`
}

type ParamType string

const (
	ParamString ParamType = "string"
	ParamNumber ParamType = "number"
	ParamBool   ParamType = "bool"
	ParamObject ParamType = "object"
	ParamList   ParamType = "list"
)

// ParamSpec объявленный параметр capability. Необъявленные параметры пропускаются как есть.
type ParamSpec struct {
	Name     string    `json:"name" yaml:"name"`
	Type     ParamType `json:"type,omitempty" yaml:"type"`
	Required bool      `json:"required,omitempty" yaml:"required"`
}

// ValidateParams проверка payload на границе по схеме capability
func (c Capability) ValidateParams(p Payload) error {
	for _, spec := range c.Params {
		v, ok := p[spec.Name]
		if !ok || v == nil {
			if spec.Required {
				return Errorf(ErrValidation, "%s: parameter %q is required", c.ID, spec.Name)
			}
			continue
		}
		if !spec.Type.accepts(v) {
			return Errorf(ErrValidation, "%s: parameter %q must be %s, got %T", c.ID, spec.Name, spec.Type, v)
		}
	}
	return nil
}

func (t ParamType) accepts(v interface{}) bool {
	switch t {
	case "":
		return true
	case ParamString:
		_, ok := v.(string)
		return ok
	case ParamNumber:
		switch v.(type) {
		case float64, float32, int, int32, int64, uint, uint32, uint64:
			return true
		}
		return false
	case ParamBool:
		_, ok := v.(bool)
		return ok
	case ParamObject:
		switch v.(type) {
		case map[string]interface{}, Payload:
			return true
		}
		return false
	case ParamList:
		_, ok := v.([]interface{})
		return ok
	}
	return false
}

// Valid известный тип параметра
func (t ParamType) Valid() bool {
	switch t {
	case "", ParamString, ParamNumber, ParamBool, ParamObject, ParamList:
		return true
	}
	return false
}

// CapabilityStats статистика исполнения
type CapabilityStats struct {
	Executions    int64         `json:"executions"`
	Failures      int64         `json:"failures"`
	TotalDuration time.Duration `json:"total_duration"`
	LastExecuted  time.Time     `json:"last_executed"`
}

func (s CapabilityStats) AvgDuration() time.Duration {
	if s.Executions == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.Executions)
}
