package matrix

import (
	"sort"
	"strings"
	"sync"

	"github.com/xela07ax/spaceai-governance/internal/domain"
	"go.uber.org/zap"
)

// keywordRule эвристика: ключевое слово в kind/action подтягивает агента
type keywordRule struct {
	keywords []string
	agent    domain.AgentID
}

var defaultRules = []keywordRule{
	{keywords: []string{"payment", "billing", "invoice", "refund", "charge"}, agent: domain.AgentFinance},
	{keywords: []string{"security", "auth", "threat", "scan"}, agent: domain.AgentSecurity},
	{keywords: []string{"deploy", "infra", "scale", "provision"}, agent: domain.AgentInfrastructure},
}

type assignment struct {
	primary   domain.AgentID
	secondary []domain.AgentID
}

// Matrix отображение capability -> ответственные агенты.
type Matrix struct {
	mu          sync.RWMutex
	assignments map[string]assignment
	order       []string
	rules       []keywordRule
	fallback    domain.AgentID
	logger      *zap.Logger
}

func New(logger *zap.Logger) *Matrix {
	return &Matrix{
		assignments: make(map[string]assignment),
		rules:       defaultRules,
		fallback:    domain.AgentOperations,
		logger:      logger.Named("matrix"),
	}
}

// Assign задает (или заменяет) владельцев capability
func (m *Matrix) Assign(capID string, primary domain.AgentID, secondary ...domain.AgentID) error {
	if capID == "" {
		return domain.Errorf(domain.ErrValidation, "capability id is required")
	}
	if !primary.Valid() {
		return domain.Errorf(domain.ErrValidation, "unknown primary agent %q", primary)
	}
	sec := make([]domain.AgentID, 0, len(secondary))
	for _, s := range secondary {
		if !s.Valid() {
			return domain.Errorf(domain.ErrValidation, "unknown secondary agent %q", s)
		}
		if s == primary {
			continue
		}
		sec = append(sec, s)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.assignments[capID]; !exists {
		m.order = append(m.order, capID)
	}
	m.assignments[capID] = assignment{primary: primary, secondary: sec}
	m.logger.Debug("capability assigned",
		zap.String("capability_id", capID),
		zap.String("primary", string(primary)),
		zap.Int("secondary", len(sec)))
	return nil
}

// AssignCapability берет владельцев из описания capability
func (m *Matrix) AssignCapability(c domain.Capability) error {
	return m.Assign(c.ID, c.OwningAgent, c.SecondaryAgents...)
}

// Owners primary и secondary для capability
func (m *Matrix) Owners(capID string) (domain.AgentID, []domain.AgentID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assignments[capID]
	if !ok {
		return "", nil, false
	}
	return a.primary, append([]domain.AgentID(nil), a.secondary...), true
}

// ResolveAgents непустой упорядоченный набор агентов: владелец capability первым,
// затем secondary в порядке регистрации, затем эвристики, иначе operations.
func (m *Matrix) ResolveAgents(req *domain.Request) []domain.AgentID {
	return m.resolve(string(req.Kind), req.Action)
}

// ResolveCapability то же для capability без запроса (шаги workflow)
func (m *Matrix) ResolveCapability(capID string) []domain.AgentID {
	return m.resolve("", capID)
}

func (m *Matrix) resolve(kind, action string) []domain.AgentID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.AgentID, 0, 3)
	seen := make(map[domain.AgentID]struct{}, 3)
	add := func(id domain.AgentID) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	if a, ok := m.assignments[action]; ok {
		add(a.primary)
		for _, s := range a.secondary {
			add(s)
		}
	}

	haystack := strings.ToLower(kind + " " + action)
	for _, rule := range m.rules {
		for _, kw := range rule.keywords {
			if strings.Contains(haystack, kw) {
				add(rule.agent)
				break
			}
		}
	}

	if len(out) == 0 {
		add(m.fallback)
	}
	return out
}

// AgentSkills capability, которыми агент владеет (primary или secondary). Только для интроспекции.
func (m *Matrix) AgentSkills(agent domain.AgentID) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, id := range m.order {
		a := m.assignments[id]
		if a.primary == agent {
			out = append(out, id)
			continue
		}
		for _, s := range a.secondary {
			if s == agent {
				out = append(out, id)
				break
			}
		}
	}
	return out
}

// Counts количество capability на агента (primary + secondary)
func (m *Matrix) Counts() map[domain.AgentID]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[domain.AgentID]int)
	for _, a := range m.assignments {
		out[a.primary]++
		for _, s := range a.secondary {
			out[s]++
		}
	}
	return out
}

// Snapshot копия матрицы для экспорта
func (m *Matrix) Snapshot() map[string][]domain.AgentID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]domain.AgentID, len(m.assignments))
	for id, a := range m.assignments {
		out[id] = append([]domain.AgentID{a.primary}, a.secondary...)
	}
	return out
}

// Capabilities отсортированный список capability в матрице
func (m *Matrix) Capabilities() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]string(nil), m.order...)
	sort.Strings(out)
	return out
}
