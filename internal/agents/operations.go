package agents

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xela07ax/spaceai-governance/internal/domain"
)

// Operations владелец по умолчанию и системные действия
type Operations struct {
	*BaseAgent

	mu      sync.Mutex
	retries map[string]int // capability -> запрошенные повторы
	started time.Time
}

func NewOperations(deps Deps, settings Settings) *Operations {
	a := &Operations{
		BaseAgent: newBase(domain.AgentOperations, deps, settings),
		retries:   make(map[string]int),
		started:   time.Now(),
	}
	a.SetIntervention(
		func(i domain.Insight) bool { return i.Type == domain.InsightError },
		func(i domain.Insight) {
			a.Emit(domain.EventRetryRequested, i.Data)
		},
	)
	a.AddMonitor(Monitor{Name: "failure-rate", Interval: time.Minute, Check: a.checkFailureRate})
	a.HandleSystem("status", func(context.Context, *domain.Request) (interface{}, error) { return a.Status(), nil })
	a.HandleSystem("health_check", func(context.Context, *domain.Request) (interface{}, error) {
		rate, total := a.failureRate()
		return map[string]interface{}{
			"healthy":      rate < 0.5,
			"uptime":       time.Since(a.started).Round(time.Second).String(),
			"executions":   total,
			"failure_rate": rate,
		}, nil
	})
	return a
}

func (a *Operations) HandleExternalEvent(_ context.Context, ev domain.Event) {
	a.observe(ev)
	switch ev.Name {
	case domain.EventExecutionFailed:
		capID, _ := ev.Payload["capability_id"].(string)
		kind, _ := ev.Payload["error_kind"].(string)
		// Ошибки конфигурации и валидации повтором не лечатся
		if capID == "" || kind == domain.ErrConfiguration.Error() || kind == domain.ErrValidation.Error() {
			return
		}
		a.mu.Lock()
		a.retries[capID]++
		n := a.retries[capID]
		a.mu.Unlock()
		if n%5 == 0 {
			a.Record(domain.InsightError, "Capability keeps failing",
				fmt.Sprintf("%s failed %d times (last reported by %s)", capID, n, ev.Source), 0.8,
				map[string]interface{}{"capability_id": capID, "failures": n})
		}
	case domain.EventResourceLimit, domain.EventBudgetExceeded, domain.EventIntegrationDegraded, domain.EventThreatDetected:
		a.Record(domain.InsightInfo, "Escalation received",
			fmt.Sprintf("%s from %s", ev.Name, ev.Source), 0.5, ev.Payload)
	default:
		a.received(ev)
	}
}

// RetryCounts сколько раз capability попадала в повтор
func (a *Operations) RetryCounts() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]int, len(a.retries))
	for k, v := range a.retries {
		out[k] = v
	}
	return out
}

func (a *Operations) checkFailureRate(context.Context) {
	rate, total := a.failureRate()
	if total < 10 || rate < 0.25 {
		return
	}
	typ := domain.InsightWarning
	if rate >= 0.5 {
		typ = domain.InsightError
	}
	a.Record(typ, "Elevated failure rate",
		fmt.Sprintf("%.0f%% of %d executions failed", rate*100, total), rate,
		map[string]interface{}{"failure_rate": rate, "executions": total})
}

func (a *Operations) Status() domain.AgentStatus {
	st := a.BaseAgent.Status()
	a.mu.Lock()
	st.Details["retry_candidates"] = len(a.retries)
	a.mu.Unlock()
	st.Details["uptime_seconds"] = int64(time.Since(a.started).Seconds())
	return st
}
