package domain

import "time"

// EventName закрытый набор межагентных событий
type EventName string

const (
	EventThreatDetected       EventName = "threat:detected"
	EventResourceLimit        EventName = "resource:limit"
	EventComplianceViolation  EventName = "compliance:violation"
	EventBudgetExceeded       EventName = "budget:exceeded"
	EventExecutionFailed      EventName = "execution:failed"
	EventRetryRequested       EventName = "execution:retry"
	EventIntegrationDegraded  EventName = "integration:degraded"
	EventAnomalyDetected      EventName = "anomaly:detected"
	EventDeliveryFailed       EventName = "delivery:failed"
	EventRequestCompleted     EventName = "request:completed"
	EventAgentConfigured      EventName = "agent:configured"
	EventEmergencyStopChanged EventName = "system:emergency_stop"
)

// Event сообщение шины. Payload непрозрачен для шины.
type Event struct {
	ID        string                 `json:"id"`
	Name      EventName              `json:"name"`
	Source    AgentID                `json:"source"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// SystemSource источник событий, порожденных не агентом (пайплайн, админ-плоскость)
const SystemSource AgentID = "system"
