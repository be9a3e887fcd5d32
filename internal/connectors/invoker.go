package connectors

import (
	"context"
	"sync/atomic"

	"github.com/xela07ax/spaceai-governance/internal/domain"
)

// Invoker единый контракт вызова capability-коллаборатора:
// {params, context} -> {success, data|error, metadata}
type Invoker interface {
	Invoke(ctx context.Context, inv domain.Invocation) (*domain.CapabilityOutput, error)
}

// InvokerFunc адаптер функции к Invoker
type InvokerFunc func(ctx context.Context, inv domain.Invocation) (*domain.CapabilityOutput, error)

func (f InvokerFunc) Invoke(ctx context.Context, inv domain.Invocation) (*domain.CapabilityOutput, error) {
	return f(ctx, inv)
}

// Router выбирает коллаборатора по capability; неизвестные уходят в fallback
type Router struct {
	routes   map[string]Invoker
	fallback Invoker
}

func NewRouter(fallback Invoker) *Router {
	return &Router{routes: make(map[string]Invoker), fallback: fallback}
}

// Handle регистрирует коллаборатора для capability. Вызывается только при старте.
func (r *Router) Handle(capID string, inv Invoker) {
	r.routes[capID] = inv
}

func (r *Router) Invoke(ctx context.Context, inv domain.Invocation) (*domain.CapabilityOutput, error) {
	if target, ok := r.routes[inv.CapabilityID]; ok {
		return target.Invoke(ctx, inv)
	}
	if r.fallback == nil {
		return nil, domain.Errorf(domain.ErrConfiguration, "no connector configured for capability %s", inv.CapabilityID)
	}
	return r.fallback.Invoke(ctx, inv)
}

type retryCounterKey struct{}

// WithRetryCounter кладет в контекст счетчик повторов, который заполняет ReliabilityWrapper
func WithRetryCounter(ctx context.Context) (context.Context, *atomic.Int32) {
	c := &atomic.Int32{}
	return context.WithValue(ctx, retryCounterKey{}, c), c
}

func countRetry(ctx context.Context) {
	if c, ok := ctx.Value(retryCounterKey{}).(*atomic.Int32); ok {
		c.Add(1)
	}
}
