package domain

import (
	"strings"
	"time"
)

const OverrideSetByAdmin = "admin"

// Ключи override-записей
const (
	OverrideEmergencyStop   = "emergency_stop"
	OverrideMaintenanceMode = "maintenance_mode"

	prefixAgentDisabled     = "agent_disabled_"
	prefixSkillDisabled     = "skill_disabled_"
	prefixCustomerSuspended = "customer_suspended_"
	prefixCustomerLimit     = "customer_limit_"
	prefixSkillPrice        = "skill_price_"
	prefixDecisionOverride  = "decision_override_"
	prefixAccessGrant       = "access_grant_"
	prefixAgentConfig       = "agent_config_"
)

func AgentDisabledKey(id AgentID) string          { return prefixAgentDisabled + string(id) }
func SkillDisabledKey(id string) string           { return prefixSkillDisabled + id }
func CustomerSuspendedKey(id string) string       { return prefixCustomerSuspended + id }
func CustomerLimitKey(id string) string           { return prefixCustomerLimit + id }
func SkillPriceKey(id string) string              { return prefixSkillPrice + id }
func DecisionOverrideKey(requestID string) string { return prefixDecisionOverride + requestID }
func AccessGrantKey(userID string) string         { return prefixAccessGrant + userID }
func AgentConfigKey(id AgentID) string            { return prefixAgentConfig + string(id) }

// IsCustomerKey ключи, относящиеся к клиенту (для EXPORT_DATA по клиенту)
func IsCustomerKey(key, customerID string) bool {
	return strings.HasSuffix(key, "_"+customerID) &&
		(strings.HasPrefix(key, prefixCustomerSuspended) || strings.HasPrefix(key, prefixCustomerLimit) || strings.HasPrefix(key, prefixAccessGrant))
}

// OverrideEntry произвольное состояние, выставленное админом.
// Живет до явной очистки или рестарта (если не реплицируется в Redis).
type OverrideEntry struct {
	Key       string      `json:"key"`
	Value     interface{} `json:"value"`
	SetBy     string      `json:"set_by"`
	Timestamp time.Time   `json:"timestamp"`
}
