package domain

type RoutingMode string

const (
	RoutingDirect     RoutingMode = "direct"
	RoutingSequential RoutingMode = "sequential"
	RoutingParallel   RoutingMode = "parallel"
)

// RoutingFor: один ответственный -> direct; несколько -> parallel только для critical
func RoutingFor(agents []AgentID, priority Priority) RoutingMode {
	if len(agents) == 1 {
		return RoutingDirect
	}
	if priority == PriorityCritical {
		return RoutingParallel
	}
	return RoutingSequential
}

// Decision вердикт пайплайна, ровно один на Request.
type Decision struct {
	Approved          bool        `json:"approved"`
	ResponsibleAgents []AgentID   `json:"responsible_agents"`
	RoutingMode       RoutingMode `json:"routing_mode,omitempty"`
	CostEstimate      float64     `json:"estimated_cost"`
	TimeEstimateMs    int64       `json:"estimated_time_ms"`
	Warnings          []string    `json:"warnings,omitempty"`
	RejectReason      string      `json:"reject_reason,omitempty"`
	Overridden        bool        `json:"overridden,omitempty"` // Решение принято админом (OVERRIDE_DECISION)
}
