package agents

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xela07ax/spaceai-governance/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Capacity ответ гейта емкости
type Capacity struct {
	Available   bool    `json:"available"`
	Reason      string  `json:"reason,omitempty"`
	InFlight    int64   `json:"in_flight"`
	MaxInFlight int64   `json:"max_in_flight"`
	Utilization float64 `json:"utilization"`
}

// Infrastructure гейт емкости: token bucket на входящий поток + лимит одновременных исполнений
type Infrastructure struct {
	*BaseAgent

	limiter     *rate.Limiter
	baseRate    rate.Limit
	maxInFlight atomic.Int64
	inFlight    atomic.Int64

	mu           sync.Mutex
	throttledTil time.Time
}

func NewInfrastructure(deps Deps, settings Settings) *Infrastructure {
	c := settings.Capacity
	if c.RatePerSecond <= 0 || c.Burst <= 0 || c.MaxInFlight <= 0 {
		c = DefaultSettings().Capacity
	}
	a := &Infrastructure{
		BaseAgent: newBase(domain.AgentInfrastructure, deps, settings),
		limiter:   rate.NewLimiter(rate.Limit(c.RatePerSecond), c.Burst),
		baseRate:  rate.Limit(c.RatePerSecond),
	}
	a.maxInFlight.Store(int64(c.MaxInFlight))

	a.SetIntervention(
		func(i domain.Insight) bool {
			return i.Type == domain.InsightError || i.Relevance > 0.9
		},
		func(i domain.Insight) {
			a.Emit(domain.EventResourceLimit, i.Data)
		},
	)
	a.AddMonitor(Monitor{Name: "utilization", Interval: 30 * time.Second, Check: a.checkUtilization})
	a.HandleSystem("status", func(context.Context, *domain.Request) (interface{}, error) { return a.Status(), nil })
	a.HandleSystem("infra_report", func(context.Context, *domain.Request) (interface{}, error) {
		return a.snapshot(true, ""), nil
	})
	return a
}

// CheckCapacity потребляет токен входящего потока и сверяет число активных исполнений.
// Слот in-flight не удерживается.
func (a *Infrastructure) CheckCapacity(ctx context.Context, req *domain.Request) Capacity {
	c, release := a.Reserve(ctx, req)
	release()
	return c
}

// Reserve атомарно занимает слот in-flight и потребляет токен входящего потока.
// release безопасно вызывать всегда; при отказе слот уже освобожден.
func (a *Infrastructure) Reserve(_ context.Context, _ *domain.Request) (Capacity, func()) {
	a.restoreRate()
	for {
		cur, limit := a.inFlight.Load(), a.maxInFlight.Load()
		if cur >= limit {
			return a.snapshot(false, "too many requests in flight"), func() {}
		}
		if a.inFlight.CompareAndSwap(cur, cur+1) {
			break
		}
	}
	release := a.releaser()
	if !a.limiter.Allow() {
		release()
		return a.snapshot(false, "request rate limit reached"), release
	}
	return a.snapshot(true, ""), release
}

// Begin учитывает исполнение в in-flight без проверки лимита; вызвать возвращенную функцию по завершении
func (a *Infrastructure) Begin() func() {
	a.inFlight.Add(1)
	return a.releaser()
}

func (a *Infrastructure) releaser() func() {
	var once sync.Once
	return func() {
		once.Do(func() { a.inFlight.Add(-1) })
	}
}

func (a *Infrastructure) snapshot(available bool, reason string) Capacity {
	in, limit := a.inFlight.Load(), a.maxInFlight.Load()
	c := Capacity{Available: available, Reason: reason, InFlight: in, MaxInFlight: limit}
	if limit > 0 {
		c.Utilization = float64(in) / float64(limit)
	}
	return c
}

// Throttle временно снижает пропускную способность вдвое
func (a *Infrastructure) Throttle(d time.Duration) {
	a.mu.Lock()
	a.throttledTil = time.Now().Add(d)
	a.mu.Unlock()
	a.limiter.SetLimit(a.baseRate / 2)
	a.logger.Warn("capacity throttled", zap.Duration("for", d))
}

func (a *Infrastructure) restoreRate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.throttledTil.IsZero() && time.Now().After(a.throttledTil) {
		a.throttledTil = time.Time{}
		a.limiter.SetLimit(a.baseRate)
	}
}

func (a *Infrastructure) HandleExternalEvent(_ context.Context, ev domain.Event) {
	a.observe(ev)
	switch ev.Name {
	case domain.EventThreatDetected:
		a.Throttle(10 * time.Minute)
		a.Record(domain.InsightWarning, "Throttled on threat", "request rate halved for 10m", 0.6, ev.Payload)
	case domain.EventIntegrationDegraded:
		a.Record(domain.InsightInfo, "Integration degraded", fmt.Sprintf("reported by %s", ev.Source), 0.4, ev.Payload)
	default:
		a.received(ev)
	}
}

// Configure: rate, burst, max_in_flight
func (a *Infrastructure) Configure(params map[string]interface{}) error {
	if v, ok := asFloat(params["rate"]); ok && v > 0 {
		a.mu.Lock()
		a.baseRate = rate.Limit(v)
		a.mu.Unlock()
		a.limiter.SetLimit(rate.Limit(v))
	}
	if v, ok := asFloat(params["burst"]); ok && v > 0 {
		a.limiter.SetBurst(int(v))
	}
	if v, ok := asFloat(params["max_in_flight"]); ok && v > 0 {
		a.maxInFlight.Store(int64(v))
	}
	return a.BaseAgent.Configure(params)
}

func (a *Infrastructure) checkUtilization(context.Context) {
	c := a.snapshot(true, "")
	if c.Utilization < 0.8 {
		return
	}
	typ := domain.InsightWarning
	if c.Utilization >= 1 {
		typ = domain.InsightError
	}
	a.Record(typ, "High utilization",
		fmt.Sprintf("%d of %d execution slots busy", c.InFlight, c.MaxInFlight), c.Utilization,
		map[string]interface{}{"in_flight": c.InFlight, "max_in_flight": c.MaxInFlight, "utilization": c.Utilization})
}

func (a *Infrastructure) Status() domain.AgentStatus {
	st := a.BaseAgent.Status()
	c := a.snapshot(true, "")
	st.Details["in_flight"] = c.InFlight
	st.Details["max_in_flight"] = c.MaxInFlight
	st.Details["rate_limit"] = float64(a.limiter.Limit())
	return st
}
