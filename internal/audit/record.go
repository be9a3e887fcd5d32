package audit

import "time"

// Тип ресурса, к которому относится запись
const (
	ResourceRequest  = "request"
	ResourceOverride = "override"
	ResourceAdmin    = "admin_command"
)

// Record запись для внешнего хранилища аудита:
// {action, resourceType, changes, licenseKeyOrUserId, timestamps}
type Record struct {
	ID           string                 `json:"id"`
	RequestID    string                 `json:"request_id,omitempty"`
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	Agent        string                 `json:"agent,omitempty"`
	Principal    string                 `json:"principal,omitempty"` // license key или user id
	Changes      map[string]interface{} `json:"changes,omitempty"`

	OccurredAt time.Time `json:"occurred_at"` // Когда произошло в пайплайне
	RecordedAt time.Time `json:"recorded_at"` // Когда принято трейлом
}
