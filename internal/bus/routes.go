package bus

import "github.com/xela07ax/spaceai-governance/internal/domain"

// DefaultRoutes статическая таблица рассылки: событие -> получатели.
// Источник события из рассылки исключается.
func DefaultRoutes() map[domain.EventName][]domain.AgentID {
	return map[domain.EventName][]domain.AgentID{
		domain.EventThreatDetected: {
			domain.AgentFinance, domain.AgentOperations, domain.AgentInfrastructure, domain.AgentCompliance,
		},
		domain.EventResourceLimit: {
			domain.AgentOperations, domain.AgentAnalytics,
		},
		domain.EventComplianceViolation: {
			domain.AgentSecurity, domain.AgentOperations, domain.AgentAnalytics,
		},
		domain.EventBudgetExceeded: {
			domain.AgentOperations, domain.AgentCommunications, domain.AgentAnalytics,
		},
		domain.EventExecutionFailed: {
			domain.AgentOperations, domain.AgentIntegration, domain.AgentAnalytics,
		},
		domain.EventRetryRequested: {
			domain.AgentOperations, domain.AgentAnalytics,
		},
		domain.EventIntegrationDegraded: {
			domain.AgentOperations, domain.AgentInfrastructure, domain.AgentCommunications,
		},
		domain.EventAnomalyDetected: {
			domain.AgentSecurity, domain.AgentOperations,
		},
		domain.EventDeliveryFailed: {
			domain.AgentIntegration, domain.AgentOperations,
		},
		domain.EventRequestCompleted: {
			domain.AgentFinance,
		},
		domain.EventAgentConfigured: {
			domain.AgentAnalytics,
		},
		domain.EventEmergencyStopChanged: domain.AllAgents(),
	}
}
