package engine

import (
	"sort"
	"time"

	"github.com/xela07ax/spaceai-governance/internal/domain"
)

// Status агрегированный снимок для дашбордов
type Status struct {
	ActiveRequests int                      `json:"active_requests"`
	Active         map[string]activeRequest `json:"active,omitempty"`
	Agents         []domain.AgentStatus     `json:"agents"`
	Matrix         map[domain.AgentID]int   `json:"matrix"`
	Capabilities   map[string]int           `json:"capabilities"`
	EmergencyStop  bool                     `json:"emergency_stop"`
	Maintenance    bool                     `json:"maintenance_mode"`
	RecentAudit    []domain.AuditEntry      `json:"recent_audit"`
	GeneratedAt    time.Time                `json:"generated_at"`
}

func (p *Pipeline) Status() Status {
	p.mu.Lock()
	active := make(map[string]activeRequest, len(p.active))
	for id, a := range p.active {
		active[id] = a
	}
	recent := append([]domain.AuditEntry(nil), p.recent...)
	p.mu.Unlock()

	st := Status{
		ActiveRequests: len(active),
		Active:         active,
		Agents:         p.agents.Statuses(),
		Matrix:         p.matrix.Counts(),
		Capabilities:   p.catalog.Counts(),
		RecentAudit:    recent,
		GeneratedAt:    time.Now().UTC(),
	}
	if p.overrides != nil {
		st.EmergencyStop = p.overrides.EmergencyStop()
		st.Maintenance = p.overrides.Maintenance()
	}
	return st
}

// RecentAudit последние n записей аудита, новые в конце
func (p *Pipeline) RecentAudit(n int) []domain.AuditEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n <= 0 || n > len(p.recent) {
		n = len(p.recent)
	}
	return append([]domain.AuditEntry(nil), p.recent[len(p.recent)-n:]...)
}

// ActiveIDs идентификаторы запросов в обработке
func (p *Pipeline) ActiveIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.active))
	for id := range p.active {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
