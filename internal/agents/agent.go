package agents

import (
	"context"
	"time"

	"github.com/xela07ax/spaceai-governance/internal/connectors"
	"github.com/xela07ax/spaceai-governance/internal/domain"
	"go.uber.org/zap"
)

// Agent единый контракт доменного агента
type Agent interface {
	ID() domain.AgentID
	Validate(ctx context.Context, req *domain.Request) domain.Verdict
	EstimateCost(ctx context.Context, req *domain.Request) float64
	Execute(ctx context.Context, req *domain.Request) domain.ExecutionResult
	Status() domain.AgentStatus
	HandleExternalEvent(ctx context.Context, ev domain.Event)
	Configure(params map[string]interface{}) error
	Insights() []domain.Insight
	Start(ctx context.Context)
	Stop()
	Shutdown()
}

// Emitter шина событий с точки зрения агента
type Emitter interface {
	Emit(source domain.AgentID, name domain.EventName, payload map[string]interface{}) int
}

// OverrideReader чтение админских override-записей
type OverrideReader interface {
	Get(key string) (domain.OverrideEntry, bool)
}

// CapabilityLookup чтение реестра capability
type CapabilityLookup interface {
	Get(id string) (domain.Capability, bool)
}

// BreakerSource состояние предохранителей коннекторов
type BreakerSource interface {
	BreakerStates() map[string]string
}

// Deps общие зависимости агентов
type Deps struct {
	Invoker   connectors.Invoker
	Events    Emitter
	Catalog   CapabilityLookup
	Overrides OverrideReader
	Breakers  BreakerSource
	Logger    *zap.Logger
}

type CapacitySettings struct {
	RatePerSecond float64
	Burst         int
	MaxInFlight   int
}

// Settings политика агентов (секция agents.* конфига)
type Settings struct {
	InsightLimit int
	// MonitorInterval > 0 заменяет собственные интервалы мониторов (тесты, стенды)
	MonitorInterval time.Duration

	Capacity CapacitySettings
	Pricing  map[domain.ComplexityTier]float64

	MaxTransactionAmount float64
	InjectionPatterns    []string
	PIIFields            []string
	BlockedRegions       []string
}

func DefaultSettings() Settings {
	return Settings{
		InsightLimit: 1000,
		Capacity: CapacitySettings{
			RatePerSecond: 50,
			Burst:         100,
			MaxInFlight:   200,
		},
		Pricing: map[domain.ComplexityTier]float64{
			domain.TierSimple:   0.01,
			domain.TierStandard: 0.05,
			domain.TierComplex:  0.25,
		},
		MaxTransactionAmount: 10000,
		InjectionPatterns: []string{
			`(?i)drop\s+table`,
			`(?i)union\s+select`,
			`(?i)<script`,
			`;\s*--`,
			`\.\./`,
		},
		PIIFields: []string{"ssn", "passport", "credit_card", "card_number", "date_of_birth"},
	}
}

func floatParam(p domain.Payload, key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func asFloat(v interface{}) (float64, bool) {
	return floatParam(domain.Payload{"v": v}, "v")
}
