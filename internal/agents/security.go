package agents

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/xela07ax/spaceai-governance/internal/domain"
	"go.uber.org/zap"
)

// ThreatLevel агрегированный уровень угрозы
type ThreatLevel string

const (
	ThreatLow      ThreatLevel = "low"
	ThreatElevated ThreatLevel = "elevated"
	ThreatHigh     ThreatLevel = "high"
)

// Security первый гейт: заблокированные субъекты и подозрительные параметры
type Security struct {
	*BaseAgent

	patterns []*regexp.Regexp

	mu      sync.RWMutex
	blocked map[string]string // principal -> reason
	threats []time.Time
}

func NewSecurity(deps Deps, settings Settings) *Security {
	a := &Security{
		BaseAgent: newBase(domain.AgentSecurity, deps, settings),
		blocked:   make(map[string]string),
	}
	patterns := settings.InjectionPatterns
	if len(patterns) == 0 {
		patterns = DefaultSettings().InjectionPatterns
	}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			a.logger.Warn("skipping invalid injection pattern", zap.String("pattern", p), zap.Error(err))
			continue
		}
		a.patterns = append(a.patterns, re)
	}

	// Вмешивается при type=error или relevance>0.8
	a.SetIntervention(
		func(i domain.Insight) bool {
			return i.Type == domain.InsightError || i.Relevance > 0.8
		},
		func(i domain.Insight) {
			payload := map[string]interface{}{"level": string(a.ThreatLevel()), "title": i.Title}
			for k, v := range i.Data {
				payload[k] = v
			}
			a.Emit(domain.EventThreatDetected, payload)
		},
	)
	a.AddMonitor(Monitor{Name: "threat-level", Interval: time.Minute, Check: a.checkThreats})
	a.HandleSystem("status", func(context.Context, *domain.Request) (interface{}, error) { return a.Status(), nil })
	a.HandleSystem("security_report", func(context.Context, *domain.Request) (interface{}, error) {
		return map[string]interface{}{"threat_level": a.ThreatLevel(), "blocked": a.Blocked()}, nil
	})
	return a
}

func (a *Security) Validate(_ context.Context, req *domain.Request) domain.Verdict {
	principal := req.Context.Principal()
	a.mu.RLock()
	reason, blocked := a.blocked[principal]
	a.mu.RUnlock()
	if blocked && principal != "" {
		return domain.Reject(fmt.Sprintf("principal %s is blocked: %s", principal, reason))
	}

	if field, ok := a.scan(req.Params); ok {
		a.registerThreat()
		a.Record(domain.InsightError, "Injection attempt",
			fmt.Sprintf("suspicious value in parameter %q", field), 0.9,
			map[string]interface{}{"request_id": req.ID, "principal": principal, "field": field})
		return domain.Reject("suspicious payload detected")
	}
	return domain.Approve()
}

// scan ищет подозрительные строки в параметрах (включая вложенные)
func (a *Security) scan(p map[string]interface{}) (string, bool) {
	for k, v := range p {
		if field, ok := a.scanValue(k, v); ok {
			return field, true
		}
	}
	return "", false
}

func (a *Security) scanValue(key string, v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		for _, re := range a.patterns {
			if re.MatchString(t) {
				return key, true
			}
		}
	case map[string]interface{}:
		return a.scan(t)
	case domain.Payload:
		return a.scan(t)
	case []interface{}:
		for _, item := range t {
			if f, ok := a.scanValue(key, item); ok {
				return f, true
			}
		}
	}
	return "", false
}

func (a *Security) Block(principal, reason string) {
	a.mu.Lock()
	a.blocked[principal] = reason
	a.mu.Unlock()
	a.logger.Warn("principal blocked", zap.String("principal", principal), zap.String("reason", reason))
}

func (a *Security) Unblock(principal string) {
	a.mu.Lock()
	delete(a.blocked, principal)
	a.mu.Unlock()
}

func (a *Security) Blocked() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.blocked))
	for p := range a.blocked {
		out = append(out, p)
	}
	return out
}

// Configure: blocked_principals ([]string) дополняет список блокировок
func (a *Security) Configure(params map[string]interface{}) error {
	if raw, ok := params["blocked_principals"]; ok {
		list, ok := raw.([]interface{})
		if !ok {
			return domain.Errorf(domain.ErrValidation, "blocked_principals must be a list")
		}
		for _, p := range list {
			if s, ok := p.(string); ok && s != "" {
				a.Block(s, "configured")
			}
		}
	}
	return a.BaseAgent.Configure(params)
}

func (a *Security) registerThreat() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.threats = append(a.threats, time.Now())
}

// ThreatLevel по числу угроз за последний час
func (a *Security) ThreatLevel() ThreatLevel {
	a.mu.RLock()
	defer a.mu.RUnlock()
	cutoff := time.Now().Add(-time.Hour)
	n := 0
	for _, t := range a.threats {
		if t.After(cutoff) {
			n++
		}
	}
	switch {
	case n >= 10:
		return ThreatHigh
	case n >= 3:
		return ThreatElevated
	}
	return ThreatLow
}

func (a *Security) HandleExternalEvent(_ context.Context, ev domain.Event) {
	a.observe(ev)
	switch ev.Name {
	case domain.EventComplianceViolation, domain.EventAnomalyDetected:
		a.registerThreat()
		a.Record(domain.InsightWarning, "Suspicious activity reported",
			fmt.Sprintf("%s reported by %s", ev.Name, ev.Source), 0.5, ev.Payload)
	default:
		a.received(ev)
	}
}

// checkThreats монитор: чистит окно угроз и сообщает о повышенном уровне
func (a *Security) checkThreats(context.Context) {
	a.mu.Lock()
	cutoff := time.Now().Add(-time.Hour)
	kept := a.threats[:0]
	for _, t := range a.threats {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	a.threats = kept
	a.mu.Unlock()

	switch lvl := a.ThreatLevel(); lvl {
	case ThreatHigh:
		a.Record(domain.InsightError, "Threat level high", "repeated attacks in the last hour", 0.95,
			map[string]interface{}{"level": string(lvl)})
	case ThreatElevated:
		a.Record(domain.InsightWarning, "Threat level elevated", "several attacks in the last hour", 0.6,
			map[string]interface{}{"level": string(lvl)})
	}
}

func (a *Security) Status() domain.AgentStatus {
	st := a.BaseAgent.Status()
	st.Details["threat_level"] = string(a.ThreatLevel())
	a.mu.RLock()
	st.Details["blocked_principals"] = len(a.blocked)
	a.mu.RUnlock()
	return st
}
