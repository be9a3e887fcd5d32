package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-governance/internal/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"
)

func TestMatrix_ResolveOrder(t *testing.T) {
	m := New(zaptest.NewLogger(t))
	require.NoError(t, m.Assign("invoice_generator", domain.AgentFinance, domain.AgentOperations))
	require.NoError(t, m.Assign("stripe_payment", domain.AgentFinance))

	req := &domain.Request{Kind: domain.KindCapability, Action: "invoice_generator"}
	assert.Equal(t, []domain.AgentID{domain.AgentFinance, domain.AgentOperations}, m.ResolveAgents(req))

	req.Action = "stripe_payment"
	assert.Equal(t, []domain.AgentID{domain.AgentFinance}, m.ResolveAgents(req))

	// неизвестная capability: эвристика по ключевым словам, иначе operations
	req.Action = "security_scan"
	assert.Equal(t, []domain.AgentID{domain.AgentSecurity}, m.ResolveAgents(req))
	req.Action = "something_else"
	assert.Equal(t, []domain.AgentID{domain.AgentOperations}, m.ResolveAgents(req))
}

func TestMatrix_AssignReplacesAndValidates(t *testing.T) {
	m := New(zaptest.NewLogger(t))
	require.NoError(t, m.Assign("report_builder", domain.AgentAnalytics, domain.AgentAnalytics, domain.AgentOperations))

	p, s, ok := m.Owners("report_builder")
	require.True(t, ok)
	assert.Equal(t, domain.AgentAnalytics, p)
	assert.Equal(t, []domain.AgentID{domain.AgentOperations}, s)

	require.NoError(t, m.Assign("report_builder", domain.AgentOperations))
	p, s, _ = m.Owners("report_builder")
	assert.Equal(t, domain.AgentOperations, p)
	assert.Empty(t, s)
	assert.Equal(t, []string{"report_builder"}, m.Capabilities())

	assert.ErrorIs(t, m.Assign("", domain.AgentFinance), domain.ErrValidation)
	assert.ErrorIs(t, m.Assign("x", "wizard"), domain.ErrValidation)
	assert.ErrorIs(t, m.Assign("x", domain.AgentFinance, "ghost"), domain.ErrValidation)

	_, _, ok = m.Owners("x")
	assert.False(t, ok)
}

func TestMatrix_Introspection(t *testing.T) {
	m := New(zaptest.NewLogger(t))
	require.NoError(t, m.Assign("invoice_generator", domain.AgentFinance, domain.AgentOperations))
	require.NoError(t, m.Assign("stripe_payment", domain.AgentFinance))

	assert.Equal(t, []string{"invoice_generator", "stripe_payment"}, m.AgentSkills(domain.AgentFinance))
	assert.Equal(t, []string{"invoice_generator"}, m.AgentSkills(domain.AgentOperations))
	assert.Equal(t, map[domain.AgentID]int{domain.AgentFinance: 2, domain.AgentOperations: 1}, m.Counts())
	assert.Equal(t, []domain.AgentID{domain.AgentFinance, domain.AgentOperations}, m.Snapshot()["invoice_generator"])
}

func TestMatrix_ResolveProperties(t *testing.T) {
	agents := domain.AllAgents()
	rapid.Check(t, func(t *rapid.T) {
		m := New(zap.NewNop())
		capID := rapid.StringMatching(`[a-z_]{1,20}`).Draw(t, "capability")
		primary := rapid.SampledFrom(agents).Draw(t, "primary")
		secondary := rapid.SliceOfN(rapid.SampledFrom(agents), 0, 4).Draw(t, "secondary")
		if err := m.Assign(capID, primary, secondary...); err != nil {
			t.Fatalf("assign: %v", err)
		}

		kind := rapid.SampledFrom([]domain.RequestKind{domain.KindCapability, domain.KindSystem}).Draw(t, "kind")
		got := m.ResolveAgents(&domain.Request{Kind: kind, Action: capID})

		if len(got) == 0 || got[0] != primary {
			t.Fatalf("owner must come first: %v (primary %s)", got, primary)
		}
		seen := map[domain.AgentID]bool{}
		for _, a := range got {
			if seen[a] {
				t.Fatalf("duplicate agent %s in %v", a, got)
			}
			seen[a] = true
		}
		for _, s := range secondary {
			if !seen[s] {
				t.Fatalf("secondary %s missing from %v", s, got)
			}
		}
	})
}
