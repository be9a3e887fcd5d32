package domain

import "time"

// Действия пайплайна в журнале
const (
	ActionIntercept        = "intercept"
	ActionOverride         = "override_decision"
	ActionSecurityGate     = "security_validate"
	ActionComplianceGate   = "compliance_validate"
	ActionCostEstimate     = "cost_estimate"
	ActionCapacityCheck    = "capacity_check"
	ActionResolveAgents    = "resolve_agents"
	ActionDecision         = "decision"
	ActionExecute          = "execute"
	ActionExecuteSecondary = "execute_secondary"
	ActionComplete         = "complete"
	ActionError            = "error"
)

// AuditEntry append-only запись; один прогон пайплайна дает упорядоченный список.
type AuditEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Agent     string                 `json:"agent"`
	Action    string                 `json:"action"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

func NewAuditEntry(agent, action string, details map[string]interface{}) AuditEntry {
	return AuditEntry{
		Timestamp: time.Now(),
		Agent:     agent,
		Action:    action,
		Details:   details,
	}
}
