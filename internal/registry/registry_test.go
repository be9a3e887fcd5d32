package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-governance/internal/domain"
	"go.uber.org/zap/zaptest"
)

const catalogYAML = `
capabilities:
  - id: stripe_payment
    display_name: Stripe payment
    owning_agent: finance
    category: payments
    complexity_tier: standard
    required_config: [STRIPE_API_KEY]
    params:
      - name: amount
        type: number
        required: true
  - id: invoice_generator
    owning_agent: finance
    secondary_agents: [operations]
    category: payments
    complexity_tier: simple
  - id: legacy_export
    owning_agent: integration
    category: data
    enabled: false
workflows:
  - id: month_close
    name: Month close
    steps:
      - id: invoice
        capability_id: invoice_generator
      - id: pay
        capability_id: stripe_payment
`

type assigner struct {
	mu   sync.Mutex
	caps []string
}

func (a *assigner) AssignCapability(c domain.Capability) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.caps = append(a.caps, c.ID)
	return nil
}

type catalogRepo struct {
	caps []domain.Capability
	err  error
}

func (r catalogRepo) GetAllCapabilities(context.Context) ([]domain.Capability, error) {
	return r.caps, r.err
}

func TestParseCatalog(t *testing.T) {
	cat, err := ParseCatalog([]byte(catalogYAML))
	require.NoError(t, err)
	require.Len(t, cat.Capabilities, 3)

	stripe := cat.Capabilities[0]
	assert.Equal(t, domain.AgentFinance, stripe.OwningAgent)
	assert.True(t, stripe.Enabled)
	assert.Equal(t, []string{"STRIPE_API_KEY"}, stripe.RequiredConfig)
	assert.Equal(t, []domain.ParamSpec{{Name: "amount", Type: domain.ParamNumber, Required: true}}, stripe.Params)

	assert.Equal(t, []domain.AgentID{domain.AgentOperations}, cat.Capabilities[1].SecondaryAgents)
	assert.False(t, cat.Capabilities[2].Enabled)
	assert.Equal(t, domain.TierStandard, cat.Capabilities[2].ComplexityTier)

	require.Len(t, cat.Workflows, 1)
	assert.Len(t, cat.Workflows[0].Steps, 2)

	_, err = ParseCatalog([]byte("capabilities: [oops"))
	assert.Error(t, err)
}

func TestRegistry_Apply(t *testing.T) {
	cat, err := ParseCatalog([]byte(catalogYAML))
	require.NoError(t, err)

	r := New(nil, zaptest.NewLogger(t))
	m := &assigner{}
	require.NoError(t, r.Apply(cat, m))

	assert.Equal(t, []string{"stripe_payment", "invoice_generator", "legacy_export"}, m.caps)
	_, ok := r.Workflow("month_close")
	assert.True(t, ok)
	assert.Equal(t, map[string]int{"total": 3, "enabled": 2, "category:payments": 2, "category:data": 1}, r.Counts())
	assert.Equal(t, []string{"data", "payments"}, r.Categories())

	// повторное применение: дубликаты отклоняются, матрица не трогается
	err = r.Apply(cat, m)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Len(t, m.caps, 3)
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r := New(nil, zaptest.NewLogger(t))

	assert.ErrorIs(t, r.Register(domain.Capability{OwningAgent: domain.AgentFinance}), domain.ErrValidation)
	assert.ErrorIs(t, r.Register(domain.Capability{ID: "x", OwningAgent: "wizard"}), domain.ErrValidation)
	assert.ErrorIs(t, r.Register(domain.Capability{ID: "x", OwningAgent: domain.AgentFinance, SecondaryAgents: []domain.AgentID{"ghost"}}), domain.ErrValidation)

	assert.ErrorIs(t, r.Register(domain.Capability{ID: "x", OwningAgent: domain.AgentFinance, Params: []domain.ParamSpec{{Name: "n", Type: "decimal"}}}), domain.ErrValidation)

	secondary := []domain.AgentID{domain.AgentOperations}
	require.NoError(t, r.Register(domain.Capability{ID: "x", OwningAgent: domain.AgentFinance, SecondaryAgents: secondary}))
	secondary[0] = domain.AgentSecurity

	c, ok := r.Get("x")
	require.True(t, ok)
	assert.Equal(t, "x", c.DisplayName)
	assert.Equal(t, []domain.AgentID{domain.AgentOperations}, c.SecondaryAgents)

	assert.ErrorIs(t, r.RegisterWorkflow(domain.Workflow{ID: "empty"}), domain.ErrValidation)
}

func TestCapability_ValidateParams(t *testing.T) {
	c := domain.Capability{ID: "stripe_payment", Params: []domain.ParamSpec{
		{Name: "amount", Type: domain.ParamNumber, Required: true},
		{Name: "currency", Type: domain.ParamString},
		{Name: "meta", Type: domain.ParamObject},
		{Name: "items", Type: domain.ParamList},
	}}
	tests := []struct {
		name    string
		params  domain.Payload
		wantErr bool
	}{
		{"minimal", domain.Payload{"amount": 10.0}, false},
		{"int amount", domain.Payload{"amount": 10}, false},
		{"full", domain.Payload{"amount": 1.5, "currency": "EUR", "meta": map[string]interface{}{}, "items": []interface{}{1}}, false},
		{"extra params pass", domain.Payload{"amount": 1.0, "note": true}, false},
		{"missing required", domain.Payload{"currency": "EUR"}, true},
		{"null required", domain.Payload{"amount": nil}, true},
		{"wrong type", domain.Payload{"amount": "10"}, true},
		{"wrong optional type", domain.Payload{"amount": 1.0, "items": "a,b"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.ValidateParams(tt.params)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
	assert.NoError(t, domain.Capability{ID: "free"}.ValidateParams(nil))
}

func TestRegistry_EnabledAndStats(t *testing.T) {
	r := New(nil, zaptest.NewLogger(t))
	require.NoError(t, r.Register(domain.Capability{ID: "report_builder", OwningAgent: domain.AgentAnalytics, Enabled: true}))

	require.NoError(t, r.SetEnabled("report_builder", false))
	c, _ := r.Get("report_builder")
	assert.False(t, c.Enabled)
	assert.ErrorIs(t, r.SetEnabled("ghost", true), domain.ErrValidation)

	r.RecordExecution("report_builder", 100*time.Millisecond, true)
	r.RecordExecution("report_builder", 300*time.Millisecond, false)
	r.RecordExecution("ghost", time.Second, true)

	s, ok := r.Stats("report_builder")
	require.True(t, ok)
	assert.Equal(t, int64(2), s.Executions)
	assert.Equal(t, int64(1), s.Failures)
	assert.Equal(t, 200*time.Millisecond, s.AvgDuration())

	_, ok = r.Stats("ghost")
	assert.False(t, ok)
}

func TestRegistry_Refresh(t *testing.T) {
	logger := zaptest.NewLogger(t)

	r := New(catalogRepo{caps: []domain.Capability{
		{ID: "email_composer", OwningAgent: domain.AgentCommunications, Enabled: true},
		{ID: "broken", OwningAgent: "nobody"},
	}}, logger)
	require.NoError(t, r.Register(domain.Capability{ID: "email_composer", OwningAgent: domain.AgentCommunications}))
	require.NoError(t, r.Register(domain.Capability{ID: "sms_sender", OwningAgent: domain.AgentCommunications}))

	added, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.Empty(t, added)

	r = New(catalogRepo{caps: []domain.Capability{{ID: "sms_sender", OwningAgent: domain.AgentCommunications}}}, logger)
	added, err = r.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, added, 1)

	r = New(catalogRepo{err: errors.New("connection refused")}, logger)
	_, err = r.Refresh(context.Background())
	assert.ErrorContains(t, err, "connection refused")

	added, err = New(nil, logger).Refresh(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, added)
}
