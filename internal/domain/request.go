package domain

import "strings"

// RequestKind закрытый набор видов запроса
type RequestKind string

const (
	KindCapability RequestKind = "capability"
	KindWorkflow   RequestKind = "workflow"
	KindSystem     RequestKind = "system"
)

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Payload непрозрачные параметры capability. Ядро их не интерпретирует.
type Payload map[string]interface{}

// Clone делает поверхностную копию, чтобы шаги workflow не делили одну мапу
func (p Payload) Clone() Payload {
	out := make(Payload, len(p)+2)
	for k, v := range p {
		out[k] = v
	}
	return out
}

type RequestContext struct {
	UserID     string   `json:"user_id"`
	SessionID  string   `json:"session_id"`
	Priority   Priority `json:"priority"`
	LicenseKey string   `json:"license_key,omitempty"`
}

// Principal кто стоит за запросом: license key приоритетнее user id
func (c RequestContext) Principal() string {
	if c.LicenseKey != "" {
		return c.LicenseKey
	}
	return c.UserID
}

// Request создается на каждый входящий вызов и не мутирует, кроме присвоения ID.
type Request struct {
	ID       string         `json:"id"`
	Kind     RequestKind    `json:"kind"`
	Action   string         `json:"action"`
	Params   Payload        `json:"params,omitempty"`
	Context  RequestContext `json:"context"`
	Workflow *Workflow      `json:"workflow,omitempty"` // Только для KindWorkflow
}

// Validate проверяет обязательные поля; вариант запроса разбирается исчерпывающе.
func (r *Request) Validate() error {
	switch r.Kind {
	case KindCapability, KindSystem:
		if strings.TrimSpace(r.Action) == "" {
			return Errorf(ErrValidation, "action is required for %s request", r.Kind)
		}
	case KindWorkflow:
		if r.Workflow == nil {
			// Именованный workflow из каталога разрешается позже по Action
			if strings.TrimSpace(r.Action) == "" {
				return Errorf(ErrValidation, "workflow request requires an inline workflow or a workflow name")
			}
			return nil
		}
		if len(r.Workflow.Steps) == 0 {
			return Errorf(ErrValidation, "workflow request requires at least one step")
		}
		for i, s := range r.Workflow.Steps {
			if s.CapabilityID == "" {
				return Errorf(ErrValidation, "workflow step %d has no capability", i)
			}
			if !s.Condition.Valid() {
				return Errorf(ErrValidation, "workflow step %d has unsupported condition %q", i, s.Condition)
			}
		}
	default:
		return Errorf(ErrValidation, "unknown request kind %q", r.Kind)
	}
	return nil
}
