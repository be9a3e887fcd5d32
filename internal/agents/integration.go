package agents

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xela07ax/spaceai-governance/internal/domain"
)

// Integration здоровье внешних коннекторов
type Integration struct {
	*BaseAgent

	mu       sync.Mutex
	open     map[string]time.Time // capability -> когда открылся предохранитель
	failures map[string]int
}

func NewIntegration(deps Deps, settings Settings) *Integration {
	a := &Integration{
		BaseAgent: newBase(domain.AgentIntegration, deps, settings),
		open:      make(map[string]time.Time),
		failures:  make(map[string]int),
	}
	a.SetIntervention(
		func(i domain.Insight) bool { return i.Type == domain.InsightError || i.Relevance > 0.85 },
		func(i domain.Insight) {
			a.Emit(domain.EventIntegrationDegraded, i.Data)
		},
	)
	a.AddMonitor(Monitor{Name: "connector-health", Interval: time.Minute, Check: a.checkConnectors})
	a.HandleSystem("status", func(context.Context, *domain.Request) (interface{}, error) { return a.Status(), nil })
	return a
}

// BreakerChanged подписка на смену состояния предохранителя коннектора
func (a *Integration) BreakerChanged(capID string, open bool) {
	a.mu.Lock()
	if open {
		a.open[capID] = time.Now()
	} else {
		delete(a.open, capID)
	}
	a.mu.Unlock()

	if open {
		a.Record(domain.InsightError, "Connector circuit open",
			fmt.Sprintf("calls to %s are short-circuited", capID), 0.9,
			map[string]interface{}{"capability_id": capID})
		return
	}
	a.Record(domain.InsightSuccess, "Connector recovered", fmt.Sprintf("%s accepts calls again", capID), 0.3,
		map[string]interface{}{"capability_id": capID})
}

func (a *Integration) HandleExternalEvent(_ context.Context, ev domain.Event) {
	a.observe(ev)
	switch ev.Name {
	case domain.EventExecutionFailed:
		if capID, _ := ev.Payload["capability_id"].(string); capID != "" {
			a.mu.Lock()
			a.failures[capID]++
			a.mu.Unlock()
		}
	case domain.EventDeliveryFailed:
		a.Record(domain.InsightWarning, "Delivery failures reported",
			fmt.Sprintf("reported by %s", ev.Source), 0.6, ev.Payload)
	default:
		a.received(ev)
	}
}

// Degraded capability с открытым предохранителем
func (a *Integration) Degraded() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.open))
	for id := range a.open {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (a *Integration) checkConnectors(context.Context) {
	if a.deps.Breakers != nil {
		for id, state := range a.deps.Breakers.BreakerStates() {
			a.mu.Lock()
			_, known := a.open[id]
			if state == "open" && !known {
				a.open[id] = time.Now()
			} else if state != "open" && known {
				delete(a.open, id)
			}
			a.mu.Unlock()
		}
	}
	degraded := a.Degraded()
	if len(degraded) == 0 {
		return
	}
	a.Record(domain.InsightWarning, "Connectors degraded",
		fmt.Sprintf("%d connector(s) short-circuited", len(degraded)), 0.9,
		map[string]interface{}{"capabilities": degraded})
}

func (a *Integration) Status() domain.AgentStatus {
	st := a.BaseAgent.Status()
	st.Details["degraded"] = a.Degraded()
	a.mu.Lock()
	st.Details["failing_capabilities"] = len(a.failures)
	a.mu.Unlock()
	return st
}
