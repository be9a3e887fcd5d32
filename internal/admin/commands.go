package admin

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xela07ax/spaceai-governance/internal/agents"
	"github.com/xela07ax/spaceai-governance/internal/domain"
	"go.uber.org/zap"
)

const (
	defaultAuditView  = 100
	defaultWaiverDays = 30
	probeTimeout      = 3 * time.Second
)

func (p *Plane) dispatch(ctx context.Context, cmd Command) (interface{}, error) {
	switch cmd.Command {
	case CmdEmergencyStop:
		return p.emergencyStop(ctx, cmd)
	case CmdMaintenanceMode:
		return p.maintenanceMode(ctx, cmd)
	case CmdSystemStatus:
		return p.systemStatus()
	case CmdOverrideDecision:
		return p.overrideDecision(ctx, cmd)
	case CmdConfigureAgent:
		return p.configureAgent(ctx, cmd)
	case CmdDisableAgent:
		return p.toggleAgent(ctx, cmd, false)
	case CmdEnableAgent:
		return p.toggleAgent(ctx, cmd, true)
	case CmdUpdateSkillsMatrix:
		return p.updateSkillsMatrix(cmd)
	case CmdDisableSkill:
		return p.toggleSkill(ctx, cmd, false)
	case CmdEnableSkill:
		return p.toggleSkill(ctx, cmd, true)
	case CmdSetSkillPricing:
		return p.setSkillPricing(ctx, cmd)
	case CmdSuspendCustomer:
		return p.suspendCustomer(ctx, cmd)
	case CmdOverrideLimits:
		return p.overrideLimits(ctx, cmd)
	case CmdGrantAccess:
		return p.grantAccess(ctx, cmd)
	case CmdRefund:
		return p.refund(cmd)
	case CmdAdjustBalance:
		return p.adjustBalance(cmd)
	case CmdWaiveFees:
		return p.waiveFees(cmd)
	case CmdViewAuditLog:
		return p.viewAuditLog(cmd)
	case CmdExportData:
		return p.exportData(cmd)
	case CmdRunDiagnostics:
		return p.runDiagnostics(ctx)
	case CmdForceExecute:
		return p.forceExecute(ctx, cmd)
	}
	return nil, domain.Errorf(domain.ErrValidation, "unknown command %q", cmd.Command)
}

func (p *Plane) emergencyStop(ctx context.Context, cmd Command) (interface{}, error) {
	active := boolParam(cmd.Params, "active", true)
	if active {
		p.setOverride(ctx, domain.OverrideEmergencyStop, true)
		p.logger.Warn("EMERGENCY STOP activated", zap.String("reason", stringParam(cmd.Params, "reason")))
	} else {
		p.clearOverride(ctx, domain.OverrideEmergencyStop)
		p.logger.Warn("emergency stop released")
	}
	if p.events != nil {
		p.events.Emit(domain.SystemSource, domain.EventEmergencyStopChanged, map[string]interface{}{"active": active})
	}
	return map[string]interface{}{"emergency_stop": active}, nil
}

func (p *Plane) maintenanceMode(ctx context.Context, cmd Command) (interface{}, error) {
	enabled := boolParam(cmd.Params, "enabled", true)
	if enabled {
		msg := stringParam(cmd.Params, "message")
		if msg == "" {
			msg = "maintenance"
		}
		p.setOverride(ctx, domain.OverrideMaintenanceMode, msg)
	} else {
		p.clearOverride(ctx, domain.OverrideMaintenanceMode)
	}
	return map[string]interface{}{"maintenance_mode": enabled}, nil
}

func (p *Plane) systemStatus() (interface{}, error) {
	return map[string]interface{}{
		"pipeline":  p.pipeline.Status(),
		"in_flight": p.pipeline.ActiveIDs(),
		"overrides": p.overrides.Entries(),
		"admin_log": p.log.Len(),
	}, nil
}

// overrideDecision target - request id, решение применяется один раз при обработке этого запроса
func (p *Plane) overrideDecision(ctx context.Context, cmd Command) (interface{}, error) {
	if cmd.Target == "" {
		return nil, domain.Errorf(domain.ErrValidation, "OVERRIDE_DECISION requires a request id target")
	}
	approved := boolParam(cmd.Params, "approved", true)
	action := stringParam(cmd.Params, "action")
	principal := stringParam(cmd.Params, "principal")
	if approved && (action == "" || principal == "") {
		return nil, domain.Errorf(domain.ErrValidation, "OVERRIDE_DECISION approval requires action and principal params")
	}
	value := map[string]interface{}{
		"approved":  approved,
		"reason":    stringParam(cmd.Params, "reason"),
		"action":    action,
		"principal": principal,
	}
	entry := p.setOverride(ctx, domain.DecisionOverrideKey(cmd.Target), value)
	return entry, nil
}

func (p *Plane) agent(target string) (agents.Agent, error) {
	id := domain.AgentID(strings.ToLower(target))
	if !id.Valid() {
		return nil, domain.Errorf(domain.ErrValidation, "unknown agent %q", target)
	}
	a, ok := p.agents.Get(id)
	if !ok {
		return nil, domain.Errorf(domain.ErrConfiguration, "agent %s is not registered", id)
	}
	return a, nil
}

func (p *Plane) configureAgent(ctx context.Context, cmd Command) (interface{}, error) {
	a, err := p.agent(cmd.Target)
	if err != nil {
		return nil, err
	}
	if len(cmd.Params) == 0 {
		return nil, domain.Errorf(domain.ErrValidation, "CONFIGURE_AGENT requires params")
	}
	if err := a.Configure(cmd.Params); err != nil {
		return nil, err
	}
	p.setOverride(ctx, domain.AgentConfigKey(a.ID()), cmd.Params)
	return a.Status(), nil
}

func (p *Plane) toggleAgent(ctx context.Context, cmd Command, enabled bool) (interface{}, error) {
	a, err := p.agent(cmd.Target)
	if err != nil {
		return nil, err
	}
	key := domain.AgentDisabledKey(a.ID())
	if enabled {
		p.clearOverride(ctx, key)
	} else {
		p.setOverride(ctx, key, true)
	}
	return a.Status(), nil
}

// updateSkillsMatrix params: primary, secondary[]
func (p *Plane) updateSkillsMatrix(cmd Command) (interface{}, error) {
	if _, ok := p.registry.Get(cmd.Target); !ok {
		return nil, domain.Errorf(domain.ErrValidation, "capability %s not found", cmd.Target)
	}
	primary := domain.AgentID(stringParam(cmd.Params, "primary"))
	if primary == "" {
		current, _, _ := p.matrix.Owners(cmd.Target)
		primary = current
	}
	var secondary []domain.AgentID
	for _, s := range stringsParam(cmd.Params, "secondary") {
		secondary = append(secondary, domain.AgentID(s))
	}
	if err := p.matrix.Assign(cmd.Target, primary, secondary...); err != nil {
		return nil, err
	}
	owner, sec, _ := p.matrix.Owners(cmd.Target)
	return map[string]interface{}{
		"capability":     cmd.Target,
		"primary":        owner,
		"secondary":      sec,
		"primary_skills": p.matrix.AgentSkills(owner),
	}, nil
}

// skillID target или params.skillId (как в исходном формате команды)
func skillID(cmd Command) string {
	if cmd.Target != "" {
		return cmd.Target
	}
	if s := stringParam(cmd.Params, "skillId"); s != "" {
		return s
	}
	return stringParam(cmd.Params, "skill_id")
}

func (p *Plane) toggleSkill(ctx context.Context, cmd Command, enabled bool) (interface{}, error) {
	id := skillID(cmd)
	if err := p.registry.SetEnabled(id, enabled); err != nil {
		return nil, err
	}
	key := domain.SkillDisabledKey(id)
	if enabled {
		p.clearOverride(ctx, key)
	} else {
		p.setOverride(ctx, key, true)
	}
	return map[string]interface{}{"skill_id": id, "enabled": enabled}, nil
}

func (p *Plane) setSkillPricing(ctx context.Context, cmd Command) (interface{}, error) {
	id := skillID(cmd)
	if _, ok := p.registry.Get(id); !ok {
		return nil, domain.Errorf(domain.ErrValidation, "capability %s not found", id)
	}
	price, ok := floatParam(cmd.Params, "price")
	if !ok || price < 0 {
		return nil, domain.Errorf(domain.ErrValidation, "SET_SKILL_PRICING requires a non-negative price")
	}
	p.setOverride(ctx, domain.SkillPriceKey(id), price)
	return map[string]interface{}{"skill_id": id, "price": p.agents.Finance().Price(id)}, nil
}

func (p *Plane) suspendCustomer(ctx context.Context, cmd Command) (interface{}, error) {
	if cmd.Target == "" {
		return nil, domain.Errorf(domain.ErrValidation, "SUSPEND_CUSTOMER requires a customer target")
	}
	suspended := boolParam(cmd.Params, "suspended", true)
	key := domain.CustomerSuspendedKey(cmd.Target)
	if suspended {
		p.setOverride(ctx, key, true)
	} else {
		p.clearOverride(ctx, key)
	}
	return map[string]interface{}{"customer": cmd.Target, "suspended": suspended}, nil
}

func (p *Plane) overrideLimits(ctx context.Context, cmd Command) (interface{}, error) {
	if cmd.Target == "" {
		return nil, domain.Errorf(domain.ErrValidation, "OVERRIDE_LIMITS requires a customer target")
	}
	limit, ok := floatParam(cmd.Params, "limit")
	if !ok || limit <= 0 {
		return nil, domain.Errorf(domain.ErrValidation, "OVERRIDE_LIMITS requires a positive limit")
	}
	p.setOverride(ctx, domain.CustomerLimitKey(cmd.Target), limit)
	return map[string]interface{}{"customer": cmd.Target, "limit": limit}, nil
}

// grantAccess снимает блокировку security-агента и фиксирует выданные scopes
func (p *Plane) grantAccess(ctx context.Context, cmd Command) (interface{}, error) {
	if cmd.Target == "" {
		return nil, domain.Errorf(domain.ErrValidation, "GRANT_ACCESS requires a user target")
	}
	scopes := stringsParam(cmd.Params, "scopes")
	p.agents.Security().Unblock(cmd.Target)
	p.setOverride(ctx, domain.AccessGrantKey(cmd.Target), scopes)
	return map[string]interface{}{"user": cmd.Target, "scopes": scopes}, nil
}

func (p *Plane) refund(cmd Command) (interface{}, error) {
	amount, _ := floatParam(cmd.Params, "amount")
	balance, err := p.agents.Finance().Refund(cmd.Target, amount, stringParam(cmd.Params, "reason"))
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"customer": cmd.Target, "refunded": amount, "balance": balance}, nil
}

func (p *Plane) adjustBalance(cmd Command) (interface{}, error) {
	delta, ok := floatParam(cmd.Params, "amount")
	if !ok {
		return nil, domain.Errorf(domain.ErrValidation, "ADJUST_BALANCE requires an amount")
	}
	balance, err := p.agents.Finance().AdjustBalance(cmd.Target, delta, stringParam(cmd.Params, "reason"))
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"customer": cmd.Target, "balance": balance}, nil
}

func (p *Plane) waiveFees(cmd Command) (interface{}, error) {
	days, ok := floatParam(cmd.Params, "days")
	if !ok {
		days = defaultWaiverDays
	}
	until, err := p.agents.Finance().WaiveFees(cmd.Target, time.Duration(days*float64(24*time.Hour)))
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"customer": cmd.Target, "waived_until": until.UTC()}, nil
}

func (p *Plane) viewAuditLog(cmd Command) (interface{}, error) {
	limit := defaultAuditView
	if v, ok := floatParam(cmd.Params, "limit"); ok && v > 0 {
		limit = int(v)
	}
	return map[string]interface{}{
		"admin":    p.log.Recent(limit),
		"pipeline": p.pipeline.RecentAudit(limit),
	}, nil
}

// exportData по клиенту (target) или снимок конфигурации целиком
func (p *Plane) exportData(cmd Command) (interface{}, error) {
	if cmd.Target != "" {
		var entries []domain.OverrideEntry
		for _, e := range p.overrides.Entries() {
			if domain.IsCustomerKey(e.Key, cmd.Target) {
				entries = append(entries, e)
			}
		}
		fin := p.agents.Finance()
		return map[string]interface{}{
			"customer":  cmd.Target,
			"overrides": entries,
			"balance":   fin.Balance(cmd.Target),
			"ledger":    fin.Ledger(cmd.Target),
			"admin_log": p.log.ForTarget(cmd.Target),
		}, nil
	}
	insights := make(map[domain.AgentID][]domain.Insight)
	for _, a := range p.agents.All() {
		if ins := a.Insights(); len(ins) > 0 {
			insights[a.ID()] = ins
		}
	}
	return map[string]interface{}{
		"capabilities": p.registry.List(),
		"categories":   p.registry.Categories(),
		"matrix":       p.matrix.Snapshot(),
		"insights":     insights,
		"overrides":    p.overrides.Entries(),
		"admin_log":    p.log.Len(),
		"exported_at":  time.Now().UTC(),
	}, nil
}

type probeResult struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
	Millis  int64  `json:"ms"`
}

func (p *Plane) runDiagnostics(ctx context.Context) (interface{}, error) {
	healthy := true

	names := make([]string, 0, len(p.probes))
	for n := range p.probes {
		names = append(names, n)
	}
	sort.Strings(names)
	probes := make(map[string]probeResult, len(names))
	for _, n := range names {
		pctx, cancel := context.WithTimeout(ctx, probeTimeout)
		started := time.Now()
		err := p.probes[n](pctx)
		cancel()
		r := probeResult{Healthy: err == nil, Millis: time.Since(started).Milliseconds()}
		if err != nil {
			r.Error = err.Error()
			healthy = false
		}
		probes[n] = r
	}

	statuses := p.agents.Statuses()
	var inactive []string
	for _, s := range statuses {
		if s.State != domain.StateActive || s.Disabled {
			inactive = append(inactive, string(s.ID))
		}
	}

	var openBreakers []string
	if p.breakers != nil {
		for id, state := range p.breakers.BreakerStates() {
			if state != "closed" {
				openBreakers = append(openBreakers, id)
			}
		}
		sort.Strings(openBreakers)
		if len(openBreakers) > 0 {
			healthy = false
		}
	}

	return map[string]interface{}{
		"healthy":         healthy,
		"probes":          probes,
		"agents":          statuses,
		"inactive_agents": inactive,
		"open_breakers":   openBreakers,
		"capabilities":    p.registry.Counts(),
	}, nil
}

// forceExecute требует override=true и минует перехват и все гейты
func (p *Plane) forceExecute(ctx context.Context, cmd Command) (interface{}, error) {
	if !cmd.Override {
		return nil, domain.Errorf(domain.ErrValidation, "FORCE_EXECUTE requires override=true")
	}
	if cmd.Target == "" {
		return nil, domain.Errorf(domain.ErrValidation, "FORCE_EXECUTE requires a capability target")
	}
	if _, ok := p.registry.Get(cmd.Target); !ok {
		return nil, domain.Errorf(domain.ErrValidation, "capability %s not found", cmd.Target)
	}
	params := domain.Payload{}
	for k, v := range cmd.Params {
		params[k] = v
	}
	res := p.pipeline.ForceExecute(ctx, &domain.Request{
		Kind:    domain.KindCapability,
		Action:  cmd.Target,
		Params:  params,
		Context: domain.RequestContext{UserID: domain.OverrideSetByAdmin, Priority: domain.PriorityCritical},
	})
	if !res.Success {
		return nil, domain.Errorf(domain.ErrExecution, "force execute failed: %s", strings.Join(res.Errors, "; "))
	}
	return res, nil
}

func boolParam(params map[string]interface{}, key string, def bool) bool {
	switch v := params[key].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "on" || v == "1"
	}
	return def
}

func stringParam(params map[string]interface{}, key string) string {
	if v, ok := params[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

func stringsParam(params map[string]interface{}, key string) []string {
	switch v := params[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok && str != "" {
				out = append(out, str)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return strings.Split(v, ",")
	}
	return nil
}

func floatParam(params map[string]interface{}, key string) (float64, bool) {
	switch v := params[key].(type) {
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
