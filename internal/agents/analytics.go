package agents

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xela07ax/spaceai-governance/internal/domain"
)

// ExecutionRecord исход запроса для аналитики
type ExecutionRecord struct {
	RequestID string
	Action    string
	Agent     domain.AgentID
	Principal string
	Success   bool
	Duration  time.Duration
	Cost      float64
}

type actionStats struct {
	Count    int64         `json:"count"`
	Failures int64         `json:"failures"`
	Total    time.Duration `json:"-"`
	AvgMs    int64         `json:"avg_ms"`
}

const anomalyWindow = 50

// Analytics агрегирует исходы запросов и ищет аномалии
type Analytics struct {
	*BaseAgent

	mu      sync.Mutex
	actions map[string]*actionStats
	recent  []bool // скользящее окно исходов
	cost    float64
}

func NewAnalytics(deps Deps, settings Settings) *Analytics {
	a := &Analytics{
		BaseAgent: newBase(domain.AgentAnalytics, deps, settings),
		actions:   make(map[string]*actionStats),
	}
	a.SetIntervention(
		func(i domain.Insight) bool {
			return (i.Type == domain.InsightWarning || i.Type == domain.InsightError) && i.Actionable
		},
		func(i domain.Insight) {
			a.Emit(domain.EventAnomalyDetected, i.Data)
		},
	)
	a.AddMonitor(Monitor{Name: "anomaly", Interval: 5 * time.Minute, Check: a.checkAnomalies})
	a.HandleSystem("status", func(context.Context, *domain.Request) (interface{}, error) { return a.Status(), nil })
	return a
}

// TrackExecution учет исхода; вызывается пайплайном асинхронно
func (a *Analytics) TrackExecution(rec ExecutionRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.actions[rec.Action]
	if !ok {
		s = &actionStats{}
		a.actions[rec.Action] = s
	}
	s.Count++
	if !rec.Success {
		s.Failures++
	}
	s.Total += rec.Duration
	s.AvgMs = (s.Total / time.Duration(s.Count)).Milliseconds()
	a.cost += rec.Cost

	a.recent = append(a.recent, rec.Success)
	if over := len(a.recent) - anomalyWindow; over > 0 {
		a.recent = a.recent[over:]
	}
}

// Report копия агрегатов по action
func (a *Analytics) Report() map[string]actionStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]actionStats, len(a.actions))
	for k, v := range a.actions {
		out[k] = *v
	}
	return out
}

func (a *Analytics) windowFailureRate() (float64, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.recent) == 0 {
		return 0, 0
	}
	failed := 0
	for _, ok := range a.recent {
		if !ok {
			failed++
		}
	}
	return float64(failed) / float64(len(a.recent)), len(a.recent)
}

func (a *Analytics) checkAnomalies(context.Context) {
	rate, n := a.windowFailureRate()
	if n < 10 || rate <= 0.3 {
		return
	}
	a.Record(domain.InsightWarning, "Failure anomaly",
		fmt.Sprintf("%.0f%% of the last %d requests failed", rate*100, n), 0.5+rate/2,
		map[string]interface{}{"failure_rate": rate, "window": n})
}

func (a *Analytics) Status() domain.AgentStatus {
	st := a.BaseAgent.Status()
	rate, n := a.windowFailureRate()
	a.mu.Lock()
	st.Details["tracked_actions"] = len(a.actions)
	st.Details["total_cost"] = a.cost
	a.mu.Unlock()
	st.Details["window_failure_rate"] = rate
	st.Details["window"] = n
	events := 0
	for _, c := range a.EventsSeen() {
		events += c
	}
	st.Details["events_seen"] = events
	return st
}
