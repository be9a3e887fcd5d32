package agents

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xela07ax/spaceai-governance/internal/domain"
)

// Compliance второй гейт: идентичность клиента, персональные данные, регионы
type Compliance struct {
	*BaseAgent

	piiFields      []string
	blockedRegions map[string]struct{}

	mu          sync.RWMutex
	strictUntil time.Time // после угрозы допускается только license key
	violations  []time.Time
}

func NewCompliance(deps Deps, settings Settings) *Compliance {
	pii := settings.PIIFields
	if len(pii) == 0 {
		pii = DefaultSettings().PIIFields
	}
	a := &Compliance{
		BaseAgent:      newBase(domain.AgentCompliance, deps, settings),
		piiFields:      pii,
		blockedRegions: make(map[string]struct{}),
	}
	for _, r := range settings.BlockedRegions {
		a.blockedRegions[strings.ToLower(r)] = struct{}{}
	}

	// Вмешивается при type=error или (warning и relevance>0.9)
	a.SetIntervention(
		func(i domain.Insight) bool {
			return i.Type == domain.InsightError || (i.Type == domain.InsightWarning && i.Relevance > 0.9)
		},
		func(i domain.Insight) {
			a.Emit(domain.EventComplianceViolation, i.Data)
		},
	)
	a.AddMonitor(Monitor{Name: "violation-rate", Interval: 15 * time.Minute, Check: a.checkViolations})
	a.HandleSystem("status", func(context.Context, *domain.Request) (interface{}, error) { return a.Status(), nil })
	return a
}

func (a *Compliance) Validate(_ context.Context, req *domain.Request) domain.Verdict {
	if req.Kind == domain.KindSystem {
		return domain.Approve()
	}

	a.mu.RLock()
	strict := time.Now().Before(a.strictUntil)
	regions := a.blockedRegions
	a.mu.RUnlock()

	if strict && req.Context.LicenseKey == "" {
		return domain.Reject("license key is required while a threat is active")
	}
	if req.Context.Principal() == "" {
		return domain.Reject("license key or user id is required")
	}

	if region, ok := req.Params["region"].(string); ok {
		if _, blocked := regions[strings.ToLower(region)]; blocked {
			a.violation(req, "restricted region", 0.7)
			return domain.Reject(fmt.Sprintf("processing in region %s is not permitted", region))
		}
	}

	consent, _ := req.Params["consent"].(bool)
	if !consent {
		for _, f := range a.piiFields {
			if _, present := req.Params[f]; present {
				a.violation(req, "personal data without consent", 0.95)
				return domain.Reject(fmt.Sprintf("field %s contains personal data and requires consent", f))
			}
		}
	}
	return domain.Approve()
}

func (a *Compliance) violation(req *domain.Request, title string, relevance float64) {
	a.mu.Lock()
	a.violations = append(a.violations, time.Now())
	a.mu.Unlock()
	a.Record(domain.InsightWarning, title, "request rejected by compliance policy", relevance,
		map[string]interface{}{"request_id": req.ID, "principal": req.Context.Principal(), "action": req.Action})
}

func (a *Compliance) HandleExternalEvent(_ context.Context, ev domain.Event) {
	a.observe(ev)
	switch ev.Name {
	case domain.EventThreatDetected:
		a.mu.Lock()
		a.strictUntil = time.Now().Add(30 * time.Minute)
		a.mu.Unlock()
		a.Record(domain.InsightInfo, "Strict mode enabled", "anonymous user ids are not accepted for 30m", 0.5, ev.Payload)
	default:
		a.received(ev)
	}
}

// Configure: blocked_regions ([]string) заменяет список регионов
func (a *Compliance) Configure(params map[string]interface{}) error {
	if raw, ok := params["blocked_regions"]; ok {
		list, ok := raw.([]interface{})
		if !ok {
			return domain.Errorf(domain.ErrValidation, "blocked_regions must be a list")
		}
		regions := make(map[string]struct{}, len(list))
		for _, r := range list {
			if s, ok := r.(string); ok {
				regions[strings.ToLower(s)] = struct{}{}
			}
		}
		a.mu.Lock()
		a.blockedRegions = regions
		a.mu.Unlock()
	}
	return a.BaseAgent.Configure(params)
}

func (a *Compliance) checkViolations(context.Context) {
	a.mu.Lock()
	cutoff := time.Now().Add(-time.Hour)
	kept := a.violations[:0]
	for _, t := range a.violations {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	a.violations = kept
	n := len(kept)
	a.mu.Unlock()

	if n >= 5 {
		a.Record(domain.InsightError, "Repeated compliance violations",
			fmt.Sprintf("%d violations in the last hour", n), 0.9, map[string]interface{}{"violations": n})
	}
}

func (a *Compliance) Status() domain.AgentStatus {
	st := a.BaseAgent.Status()
	a.mu.RLock()
	st.Details["strict_mode"] = time.Now().Before(a.strictUntil)
	st.Details["recent_violations"] = len(a.violations)
	a.mu.RUnlock()
	return st
}
