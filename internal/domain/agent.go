package domain

import "time"

// AgentID идентификатор доменного агента. Набор агентов закрытый.
type AgentID string

const (
	AgentFinance        AgentID = "finance"
	AgentOperations     AgentID = "operations"
	AgentSecurity       AgentID = "security"
	AgentInfrastructure AgentID = "infrastructure"
	AgentCompliance     AgentID = "compliance"
	AgentIntegration    AgentID = "integration"
	AgentAnalytics      AgentID = "analytics"
	AgentCommunications AgentID = "communications"
)

// AllAgents в порядке инициализации.
func AllAgents() []AgentID {
	return []AgentID{
		AgentFinance,
		AgentOperations,
		AgentSecurity,
		AgentInfrastructure,
		AgentCompliance,
		AgentIntegration,
		AgentAnalytics,
		AgentCommunications,
	}
}

// Valid проверяет, что идентификатор входит в закрытый набор
func (a AgentID) Valid() bool {
	for _, id := range AllAgents() {
		if id == a {
			return true
		}
	}
	return false
}

type AgentState string

const (
	StateActive   AgentState = "active"
	StateInactive AgentState = "inactive"
)

// Verdict результат validate() доменного агента
type Verdict struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

func Approve() Verdict { return Verdict{Approved: true} }

func Reject(reason string) Verdict { return Verdict{Approved: false, Reason: reason} }

// AgentStatus снимок состояния агента для дашбордов
type AgentStatus struct {
	ID            AgentID                `json:"id"`
	State         AgentState             `json:"state"`
	Disabled      bool                   `json:"disabled"`
	Executions    int64                  `json:"executions"`
	Failures      int64                  `json:"failures"`
	Insights      int                    `json:"insights"`
	LastInsightAt *time.Time             `json:"last_insight_at,omitempty"`
	Details       map[string]interface{} `json:"details,omitempty"`
}
