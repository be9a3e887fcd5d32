package agents

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xela07ax/spaceai-governance/internal/domain"
)

// Notification служебное уведомление операторам
type Notification struct {
	Event     domain.EventName `json:"event"`
	Source    domain.AgentID   `json:"source"`
	Message   string           `json:"message"`
	Timestamp time.Time        `json:"timestamp"`
}

const maxNotifications = 500

// Communications исполняет коммуникационные capability и уведомляет об инцидентах
type Communications struct {
	*BaseAgent

	mu            sync.Mutex
	notifications []Notification
}

func NewCommunications(deps Deps, settings Settings) *Communications {
	a := &Communications{BaseAgent: newBase(domain.AgentCommunications, deps, settings)}
	a.SetIntervention(
		func(i domain.Insight) bool { return i.Type == domain.InsightError },
		func(i domain.Insight) {
			a.Emit(domain.EventDeliveryFailed, i.Data)
		},
	)
	a.AddMonitor(Monitor{Name: "delivery", Interval: 10 * time.Minute, Check: a.checkDelivery})
	a.HandleSystem("status", func(context.Context, *domain.Request) (interface{}, error) { return a.Status(), nil })
	return a
}

func (a *Communications) HandleExternalEvent(_ context.Context, ev domain.Event) {
	a.observe(ev)
	switch ev.Name {
	case domain.EventBudgetExceeded, domain.EventIntegrationDegraded:
		a.notify(ev, fmt.Sprintf("%s reported by %s", ev.Name, ev.Source))
	case domain.EventEmergencyStopChanged:
		active, _ := ev.Payload["active"].(bool)
		a.notify(ev, fmt.Sprintf("emergency stop active=%t", active))
	default:
		a.received(ev)
	}
}

func (a *Communications) notify(ev domain.Event, msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.notifications = append(a.notifications, Notification{
		Event: ev.Name, Source: ev.Source, Message: msg, Timestamp: time.Now().UTC(),
	})
	if over := len(a.notifications) - maxNotifications; over > 0 {
		a.notifications = append([]Notification(nil), a.notifications[over:]...)
	}
}

func (a *Communications) Notifications() []Notification {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Notification(nil), a.notifications...)
}

func (a *Communications) checkDelivery(context.Context) {
	rate, total := a.failureRate()
	if total < 5 || rate < 0.2 {
		return
	}
	a.Record(domain.InsightError, "Delivery failures",
		fmt.Sprintf("%.0f%% of %d deliveries failed", rate*100, total), rate,
		map[string]interface{}{"failure_rate": rate, "deliveries": total})
}

func (a *Communications) Status() domain.AgentStatus {
	st := a.BaseAgent.Status()
	a.mu.Lock()
	st.Details["notifications"] = len(a.notifications)
	a.mu.Unlock()
	return st
}
