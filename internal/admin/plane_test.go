package admin

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-governance/internal/agents"
	"github.com/xela07ax/spaceai-governance/internal/audit"
	"github.com/xela07ax/spaceai-governance/internal/bus"
	"github.com/xela07ax/spaceai-governance/internal/connectors"
	"github.com/xela07ax/spaceai-governance/internal/domain"
	"github.com/xela07ax/spaceai-governance/internal/engine"
	"github.com/xela07ax/spaceai-governance/internal/matrix"
	"github.com/xela07ax/spaceai-governance/internal/overrides"
	"github.com/xela07ax/spaceai-governance/internal/registry"
	"github.com/xela07ax/spaceai-governance/internal/workflow"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

const masterKey = "s3cret-master"

type recorder struct {
	mu      sync.Mutex
	records []audit.Record
}

func (r *recorder) Record(rec audit.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *recorder) byType(t string) []audit.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audit.Record
	for _, rec := range r.records {
		if rec.ResourceType == t {
			out = append(out, rec)
		}
	}
	return out
}

type archiveFunc func(ctx context.Context, entries []LogEntry) error

func (f archiveFunc) ArchiveAdminLog(ctx context.Context, entries []LogEntry) error {
	return f(ctx, entries)
}

type fixture struct {
	reg   *registry.Registry
	mat   *matrix.Matrix
	dir   *agents.Directory
	ov    *overrides.Store
	pipe  *engine.Pipeline
	plane *Plane
	sink  *recorder

	mu    sync.Mutex
	calls []string
}

func (f *fixture) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	f := &fixture{sink: &recorder{}}

	f.reg = registry.New(nil, logger)
	f.mat = matrix.New(logger)
	for _, c := range []domain.Capability{
		{ID: "stripe_payment", OwningAgent: domain.AgentFinance, Category: "payments", ComplexityTier: domain.TierStandard, Enabled: true},
		{ID: "email_composer", OwningAgent: domain.AgentCommunications, Category: "messaging", ComplexityTier: domain.TierSimple, Enabled: true},
	} {
		require.NoError(t, f.reg.Register(c))
		require.NoError(t, f.mat.AssignCapability(c))
	}

	f.ov = overrides.NewStore(nil, logger)
	b := bus.New(logger)
	t.Cleanup(b.Close)

	invoker := connectors.InvokerFunc(func(_ context.Context, inv domain.Invocation) (*domain.CapabilityOutput, error) {
		f.mu.Lock()
		f.calls = append(f.calls, inv.CapabilityID)
		f.mu.Unlock()
		return &domain.CapabilityOutput{Success: true, Data: map[string]interface{}{"ok": true}}, nil
	})
	f.dir = agents.NewDirectory(agents.Deps{
		Invoker:   invoker,
		Events:    b,
		Catalog:   f.reg,
		Overrides: f.ov,
		Logger:    logger,
	}, agents.DefaultSettings())
	for _, a := range f.dir.All() {
		require.NoError(t, b.Subscribe(a.ID(), a))
	}

	exec := workflow.New(f.reg, f.mat, f.dir, logger, workflow.WithSwitches(f.ov))
	f.pipe = engine.NewPipeline(f.reg, f.mat, f.dir, exec, f.ov, b, logger)

	opts = append([]Option{WithAuditSink(f.sink), WithEvents(b)}, opts...)
	f.plane = NewPlane(masterKey, f.ov, f.reg, f.mat, f.dir, f.pipe, logger, opts...)
	return f
}

func (f *fixture) exec(t *testing.T, cmd Command) CommandResult {
	t.Helper()
	return f.plane.ExecuteMasterCommand(context.Background(), cmd, masterKey)
}

func paymentRequest(id string) *domain.Request {
	return &domain.Request{
		ID:      id,
		Kind:    domain.KindCapability,
		Action:  "stripe_payment",
		Params:  domain.Payload{"amount": 10.0},
		Context: domain.RequestContext{UserID: "u-1", LicenseKey: "cust-1", Priority: domain.PriorityNormal},
	}
}

func TestPlane_Authenticate(t *testing.T) {
	logger := zaptest.NewLogger(t)

	plain := NewPlane(masterKey, nil, nil, nil, nil, nil, logger)
	assert.True(t, plain.Authenticate(masterKey))
	assert.False(t, plain.Authenticate("wrong"))
	assert.False(t, plain.Authenticate(""))

	hash, err := bcrypt.GenerateFromPassword([]byte(masterKey), bcrypt.MinCost)
	require.NoError(t, err)
	hashed := NewPlane(string(hash), nil, nil, nil, nil, nil, logger)
	assert.True(t, hashed.Authenticate(masterKey))
	assert.False(t, hashed.Authenticate(string(hash)))

	empty := NewPlane("", nil, nil, nil, nil, nil, logger)
	assert.False(t, empty.Authenticate(""))
}

func TestPlane_UnauthorizedChangesNothing(t *testing.T) {
	f := newFixture(t)

	res := f.plane.ExecuteMasterCommand(context.Background(), Command{Command: CmdEmergencyStop}, "guess")

	assert.False(t, res.Success)
	assert.Equal(t, "Unauthorized", res.Error)
	assert.Equal(t, domain.ErrUnauthorizedAdmin.Error(), res.ErrorKind)
	assert.False(t, f.ov.EmergencyStop())

	entries := f.plane.Log().Recent(0)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)
	assert.Len(t, f.sink.byType(audit.ResourceAdmin), 1)
	assert.Empty(t, f.sink.byType(audit.ResourceOverride))
}

func TestPlane_EveryCommandIsDispatched(t *testing.T) {
	f := newFixture(t)
	require.Len(t, Commands(), 21)
	for _, name := range Commands() {
		res := f.exec(t, Command{Command: name})
		assert.NotContains(t, res.Error, "unknown command", name)
	}

	res := f.exec(t, Command{Command: "SELF_DESTRUCT"})
	assert.False(t, res.Success)
	assert.Equal(t, domain.ErrValidation.Error(), res.ErrorKind)
}

func TestPlane_EmergencyStopAndMaintenance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.exec(t, Command{Command: CmdEmergencyStop, Params: map[string]interface{}{"reason": "incident"}})
	require.True(t, res.Success, res.Error)

	out := f.pipe.ProcessRequest(ctx, paymentRequest(""))
	assert.Equal(t, domain.ErrSystemHalt.Error(), out.ErrorKind)
	assert.Len(t, out.Audit, 1)

	// communications получает system:emergency_stop через шину
	require.Eventually(t, func() bool {
		return len(f.dir.Communications().Notifications()) > 0
	}, time.Second, 5*time.Millisecond)

	res = f.exec(t, Command{Command: CmdEmergencyStop, Params: map[string]interface{}{"active": false}})
	require.True(t, res.Success)
	assert.True(t, f.pipe.ProcessRequest(ctx, paymentRequest("")).Success)

	f.exec(t, Command{Command: CmdMaintenanceMode, Params: map[string]interface{}{"message": "db upgrade"}})
	assert.True(t, f.ov.Maintenance())
	f.exec(t, Command{Command: CmdMaintenanceMode, Params: map[string]interface{}{"enabled": false}})
	assert.False(t, f.ov.Maintenance())

	assert.Len(t, f.sink.byType(audit.ResourceOverride), 4)
}

func TestPlane_DisableSkillBlocksExecution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.exec(t, Command{Command: CmdDisableSkill, Params: map[string]interface{}{"skillId": "email_composer"}})
	require.True(t, res.Success, res.Error)
	c, _ := f.reg.Get("email_composer")
	assert.False(t, c.Enabled)

	req := paymentRequest("")
	req.Action = "email_composer"
	out := f.pipe.ProcessRequest(ctx, req)
	assert.Equal(t, domain.ErrConfiguration.Error(), out.ErrorKind)
	assert.Zero(t, f.callCount())

	res = f.exec(t, Command{Command: CmdEnableSkill, Target: "email_composer"})
	require.True(t, res.Success)
	req = paymentRequest("")
	req.Action = "email_composer"
	assert.True(t, f.pipe.ProcessRequest(ctx, req).Success)
	assert.Equal(t, 1, f.callCount())

	res = f.exec(t, Command{Command: CmdDisableSkill, Target: "ghost"})
	assert.Equal(t, domain.ErrValidation.Error(), res.ErrorKind)
}

func TestPlane_ForceExecute(t *testing.T) {
	f := newFixture(t)

	res := f.exec(t, Command{Command: CmdForceExecute, Target: "stripe_payment"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "override=true")
	assert.Zero(t, f.callCount())

	f.exec(t, Command{Command: CmdEmergencyStop})
	f.exec(t, Command{Command: CmdDisableSkill, Target: "stripe_payment"})
	res = f.exec(t, Command{Command: CmdForceExecute, Target: "stripe_payment", Override: true})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 1, f.callCount())

	result, ok := res.Data.(*engine.Result)
	require.True(t, ok)
	assert.True(t, result.Decision.Overridden)
}

func TestPlane_OverrideDecision(t *testing.T) {
	f := newFixture(t)

	res := f.exec(t, Command{Command: CmdOverrideDecision, Target: "req-9", Params: map[string]interface{}{"approved": false, "reason": "manual hold"}})
	require.True(t, res.Success)

	out := f.pipe.ProcessRequest(context.Background(), paymentRequest("req-9"))
	assert.False(t, out.Success)
	assert.Equal(t, "Decision overridden: manual hold", out.Errors[0])

	assert.True(t, f.pipe.ProcessRequest(context.Background(), paymentRequest("req-10")).Success)

	res = f.exec(t, Command{Command: CmdOverrideDecision})
	assert.Equal(t, domain.ErrValidation.Error(), res.ErrorKind)
}

func TestPlane_OverrideDecisionApprovalIsBoundAndOneShot(t *testing.T) {
	f := newFixture(t)

	res := f.exec(t, Command{Command: CmdOverrideDecision, Target: "req-11", Params: map[string]interface{}{"approved": true}})
	assert.Equal(t, domain.ErrValidation.Error(), res.ErrorKind)

	res = f.exec(t, Command{Command: CmdOverrideDecision, Target: "req-11", Params: map[string]interface{}{
		"approved": true, "action": "stripe_payment", "principal": "cust-1",
	}})
	require.True(t, res.Success, res.Error)

	stranger := paymentRequest("req-11")
	stranger.Context.LicenseKey = "someone-else"
	out := f.pipe.ProcessRequest(context.Background(), stranger)
	assert.False(t, out.Decision.Overridden)

	out = f.pipe.ProcessRequest(context.Background(), paymentRequest("req-11"))
	require.True(t, out.Success, out.Errors)
	assert.True(t, out.Decision.Overridden)

	out = f.pipe.ProcessRequest(context.Background(), paymentRequest("req-11"))
	assert.False(t, out.Decision.Overridden)
	_, ok := f.ov.Get(domain.DecisionOverrideKey("req-11"))
	assert.False(t, ok)
}

func TestPlane_AgentCommands(t *testing.T) {
	f := newFixture(t)

	res := f.exec(t, Command{Command: CmdDisableAgent, Target: "Finance"})
	require.True(t, res.Success, res.Error)
	assert.True(t, f.dir.Finance().Status().Disabled)
	assert.True(t, f.ov.AgentDisabled(domain.AgentFinance))

	out := f.pipe.ProcessRequest(context.Background(), paymentRequest(""))
	assert.Equal(t, domain.ErrConfiguration.Error(), out.ErrorKind)

	f.exec(t, Command{Command: CmdEnableAgent, Target: "finance"})
	assert.False(t, f.dir.Finance().Status().Disabled)

	res = f.exec(t, Command{Command: CmdConfigureAgent, Target: "infrastructure", Params: map[string]interface{}{"max_in_flight": 1.0}})
	require.True(t, res.Success, res.Error)
	_, ok := f.ov.Get(domain.AgentConfigKey(domain.AgentInfrastructure))
	assert.True(t, ok)
	assert.Equal(t, int64(1), f.dir.Infrastructure().CheckCapacity(context.Background(), paymentRequest("")).MaxInFlight)

	res = f.exec(t, Command{Command: CmdConfigureAgent, Target: "nobody", Params: map[string]interface{}{"x": 1.0}})
	assert.Equal(t, domain.ErrValidation.Error(), res.ErrorKind)
}

func TestPlane_UpdateSkillsMatrix(t *testing.T) {
	f := newFixture(t)

	res := f.exec(t, Command{
		Command: CmdUpdateSkillsMatrix,
		Target:  "stripe_payment",
		Params:  map[string]interface{}{"secondary": []interface{}{"operations"}},
	})
	require.True(t, res.Success, res.Error)

	primary, secondary, ok := f.mat.Owners("stripe_payment")
	require.True(t, ok)
	assert.Equal(t, domain.AgentFinance, primary)
	assert.Equal(t, []domain.AgentID{domain.AgentOperations}, secondary)
	assert.Equal(t, []string{"stripe_payment"}, res.Data.(map[string]interface{})["primary_skills"])

	res = f.exec(t, Command{Command: CmdUpdateSkillsMatrix, Target: "stripe_payment", Params: map[string]interface{}{"primary": "wizard"}})
	assert.Equal(t, domain.ErrValidation.Error(), res.ErrorKind)
}

func TestPlane_CustomerAndFinanceCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.True(t, f.exec(t, Command{Command: CmdSuspendCustomer, Target: "cust-1"}).Success)
	assert.Equal(t, domain.ErrAuthorization.Error(), f.pipe.ProcessRequest(ctx, paymentRequest("")).ErrorKind)
	require.True(t, f.exec(t, Command{Command: CmdSuspendCustomer, Target: "cust-1", Params: map[string]interface{}{"suspended": false}}).Success)
	assert.True(t, f.pipe.ProcessRequest(ctx, paymentRequest("")).Success)

	require.True(t, f.exec(t, Command{Command: CmdOverrideLimits, Target: "cust-1", Params: map[string]interface{}{"limit": 5.0}}).Success)
	out := f.pipe.ProcessRequest(ctx, paymentRequest(""))
	require.True(t, out.Success)
	assert.NotEmpty(t, out.Decision.Warnings)

	res := f.exec(t, Command{Command: CmdSetSkillPricing, Target: "stripe_payment", Params: map[string]interface{}{"price": 2.5}})
	require.True(t, res.Success, res.Error)
	assert.InDelta(t, 2.5, f.dir.Finance().Price("stripe_payment"), 1e-9)

	res = f.exec(t, Command{Command: CmdRefund, Target: "cust-1", Params: map[string]interface{}{"amount": 20.0, "reason": "goodwill"}})
	require.True(t, res.Success, res.Error)
	res = f.exec(t, Command{Command: CmdAdjustBalance, Target: "cust-1", Params: map[string]interface{}{"amount": -5.0}})
	require.True(t, res.Success, res.Error)

	res = f.exec(t, Command{Command: CmdWaiveFees, Target: "cust-1", Params: map[string]interface{}{"days": 1.0}})
	require.True(t, res.Success, res.Error)
	assert.Zero(t, f.dir.Finance().EstimateCost(ctx, paymentRequest("")))

	res = f.exec(t, Command{Command: CmdRefund, Target: "cust-1"})
	assert.Equal(t, domain.ErrValidation.Error(), res.ErrorKind)

	res = f.exec(t, Command{Command: CmdExportData, Target: "cust-1"})
	require.True(t, res.Success)
	export := res.Data.(map[string]interface{})
	assert.Len(t, export["overrides"], 1) // customer_limit_cust-1
	assert.GreaterOrEqual(t, len(export["ledger"].([]agents.LedgerEntry)), 2)
	assert.NotEmpty(t, export["admin_log"])
}

func TestPlane_GrantAccessUnblocks(t *testing.T) {
	f := newFixture(t)
	f.dir.Security().Block("cust-1", "fraud")
	assert.False(t, f.pipe.ProcessRequest(context.Background(), paymentRequest("")).Success)

	res := f.exec(t, Command{Command: CmdGrantAccess, Target: "cust-1", Params: map[string]interface{}{"scopes": "stripe_payment,email_composer"}})
	require.True(t, res.Success, res.Error)

	entry, ok := f.ov.Get(domain.AccessGrantKey("cust-1"))
	require.True(t, ok)
	assert.Equal(t, []string{"stripe_payment", "email_composer"}, entry.Value)
	assert.True(t, f.pipe.ProcessRequest(context.Background(), paymentRequest("")).Success)
}

func TestPlane_IntrospectionCommands(t *testing.T) {
	f := newFixture(t, WithProbe("redis", func(context.Context) error { return errors.New("connection refused") }))
	f.pipe.ProcessRequest(context.Background(), paymentRequest(""))

	res := f.exec(t, Command{Command: CmdSystemStatus})
	require.True(t, res.Success)
	assert.Empty(t, res.Data.(map[string]interface{})["in_flight"])

	res = f.exec(t, Command{Command: CmdViewAuditLog, Params: map[string]interface{}{"limit": 3.0}})
	require.True(t, res.Success)
	view := res.Data.(map[string]interface{})
	assert.Len(t, view["pipeline"], 3)
	assert.Len(t, view["admin"], 1) // сам SYSTEM_STATUS

	res = f.exec(t, Command{Command: CmdRunDiagnostics})
	require.True(t, res.Success)
	diag := res.Data.(map[string]interface{})
	assert.Equal(t, false, diag["healthy"])
	probes := diag["probes"].(map[string]probeResult)
	assert.Contains(t, probes["redis"].Error, "connection refused")

	res = f.exec(t, Command{Command: CmdExportData})
	require.True(t, res.Success)
	assert.Len(t, res.Data.(map[string]interface{})["capabilities"], 2)
	assert.Equal(t, []string{"messaging", "payments"}, res.Data.(map[string]interface{})["categories"])
}

func TestPlane_LogIsTrimmedAndArchived(t *testing.T) {
	var (
		mu       sync.Mutex
		archived []LogEntry
	)
	archive := archiveFunc(func(_ context.Context, entries []LogEntry) error {
		mu.Lock()
		defer mu.Unlock()
		archived = append(archived, entries...)
		return nil
	})
	f := newFixture(t, WithLogLimits(10, 5), WithArchive(archive))

	for i := 0; i < 11; i++ {
		f.exec(t, Command{Command: CmdSystemStatus, Target: strings.Repeat("x", i)})
	}

	assert.Equal(t, 5, f.plane.Log().Len())
	recent := f.plane.Log().Recent(0)
	assert.Equal(t, strings.Repeat("x", 10), recent[len(recent)-1].Target)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(archived) == 6
	}, time.Second, 5*time.Millisecond)
}
