package domain

import "time"

// CapabilityMetadata метаданные ответа коллаборатора
type CapabilityMetadata struct {
	SkillID   string    `json:"skill_id"`
	SkillName string    `json:"skill_name"`
	Timestamp time.Time `json:"timestamp"`
}

// Invocation вход контракта вызова capability: {params, context}
type Invocation struct {
	RequestID    string         `json:"request_id"`
	CapabilityID string         `json:"capability_id"`
	Params       Payload        `json:"params"`
	Context      RequestContext `json:"context"`
}

// CapabilityOutput выход контракта вызова capability
type CapabilityOutput struct {
	Success  bool               `json:"success"`
	Data     interface{}        `json:"data,omitempty"`
	Error    string             `json:"error,omitempty"`
	Metadata CapabilityMetadata `json:"metadata"`
}

// ExecutionResult один на вызов capability
type ExecutionResult struct {
	Success    bool        `json:"success"`
	Data       interface{} `json:"data,omitempty"`
	Error      string      `json:"error,omitempty"`
	ErrorKind  string      `json:"error_kind,omitempty"`
	Agent      AgentID     `json:"agent,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	DurationMs int64       `json:"duration_ms"`
	RetryCount int         `json:"retry_count"`
}

// OrchestrationRequest вход движка исполнения: либо CapabilityID, либо Workflow.
type OrchestrationRequest struct {
	RequestID    string         `json:"request_id"`
	CapabilityID string         `json:"capability_id,omitempty"`
	Workflow     *Workflow      `json:"workflow,omitempty"`
	Params       Payload        `json:"params,omitempty"`
	Context      RequestContext `json:"context"`

	// Агент, выбранный матрицей ответственности на уровне запроса (может быть пустым)
	Agent AgentID `json:"agent,omitempty"`
}

// StepResult результат шага workflow (или единственного вызова)
type StepResult struct {
	StepID       string          `json:"step_id"`
	CapabilityID string          `json:"capability_id"`
	Agent        AgentID         `json:"agent,omitempty"`
	Skipped      bool            `json:"skipped,omitempty"`
	Optional     bool            `json:"optional,omitempty"`
	Recovered    bool            `json:"recovered,omitempty"` // Спасен fallback-цепочкой
	Trigger      string          `json:"trigger,omitempty"`   // "on_success" для follow-up
	Result       ExecutionResult `json:"result"`
	Fallbacks    []StepResult    `json:"fallbacks,omitempty"`
}

// Succeeded пропущенный шаг и шаг, спасенный fallback-ом, считаются успешными
func (s StepResult) Succeeded() bool {
	return s.Skipped || s.Recovered || s.Result.Success
}

// Output данные шага для передачи дальше по цепочке
func (s StepResult) Output() interface{} {
	if s.Recovered {
		for i := len(s.Fallbacks) - 1; i >= 0; i-- {
			if s.Fallbacks[i].Result.Success {
				return s.Fallbacks[i].Result.Data
			}
		}
	}
	return s.Result.Data
}

type WorkflowSummary struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Batches   [][]string `json:"batches"`
	Abandoned []string   `json:"abandoned,omitempty"`
}

// OrchestrationResult выход движка исполнения
type OrchestrationResult struct {
	Success         bool             `json:"success"`
	Results         []StepResult     `json:"results"`
	Workflow        *WorkflowSummary `json:"workflow,omitempty"`
	Error           string           `json:"error,omitempty"`
	ErrorKind       string           `json:"error_kind,omitempty"`
	ExecutionTimeMs int64            `json:"execution_time_ms"`
}

func NewCapabilityMetadata(id, name string) CapabilityMetadata {
	return CapabilityMetadata{SkillID: id, SkillName: name, Timestamp: time.Now().UTC()}
}
