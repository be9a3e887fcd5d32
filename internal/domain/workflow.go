package domain

// StepCondition условие запуска шага относительно предыдущего результата
type StepCondition string

const (
	ConditionNone    StepCondition = ""
	ConditionSuccess StepCondition = "success"
	ConditionFailure StepCondition = "failure"
)

func (c StepCondition) Valid() bool {
	switch c {
	case ConditionNone, ConditionSuccess, ConditionFailure:
		return true
	}
	return false
}

// Met проверяет условие; без предыдущего результата условие "failure" не выполняется
func (c StepCondition) Met(prev *StepResult) bool {
	switch c {
	case ConditionSuccess:
		return prev == nil || prev.Succeeded()
	case ConditionFailure:
		return prev != nil && !prev.Succeeded()
	default:
		return true
	}
}

// Step шаг workflow. Parallel=true присоединяет шаг к батчу предшественника.
type Step struct {
	ID           string        `json:"id" yaml:"id"`
	CapabilityID string        `json:"capability_id" yaml:"capability_id"`
	Params       Payload       `json:"params,omitempty" yaml:"params"`
	Condition    StepCondition `json:"condition,omitempty" yaml:"condition"`
	Parallel     bool          `json:"parallel,omitempty" yaml:"parallel"`
	Optional     bool          `json:"optional,omitempty" yaml:"optional"`

	OnSuccess string   `json:"on_success,omitempty" yaml:"on_success"` // follow-up capability
	OnFailure []string `json:"on_failure,omitempty" yaml:"on_failure"` // fallback-цепочка
}

type Workflow struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Steps []Step `json:"steps" yaml:"steps"`
}
