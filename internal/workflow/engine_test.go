package workflow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-governance/internal/agents"
	"github.com/xela07ax/spaceai-governance/internal/connectors"
	"github.com/xela07ax/spaceai-governance/internal/domain"
	"github.com/xela07ax/spaceai-governance/internal/matrix"
	"github.com/xela07ax/spaceai-governance/internal/registry"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"
)

type behavior func(inv domain.Invocation) (*domain.CapabilityOutput, error)

type harness struct {
	engine *Engine
	reg    *registry.Registry

	mu    sync.Mutex
	calls []string
	spans map[string][2]time.Time
	plan  map[string]behavior
	off   map[string]bool
}

func (h *harness) SkillDisabled(capID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.off[capID]
}

func (h *harness) AgentDisabled(domain.AgentID) bool { return false }

func newHarness(t *testing.T, caps ...string) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	h := &harness{
		spans: make(map[string][2]time.Time),
		plan:  make(map[string]behavior),
		off:   make(map[string]bool),
	}
	h.reg = registry.New(nil, logger)
	m := matrix.New(logger)
	for _, id := range caps {
		c := domain.Capability{ID: id, OwningAgent: domain.AgentOperations, Category: "test", Enabled: true}
		require.NoError(t, h.reg.Register(c))
		require.NoError(t, m.AssignCapability(c))
	}

	inv := connectors.InvokerFunc(func(_ context.Context, inv domain.Invocation) (*domain.CapabilityOutput, error) {
		start := time.Now()
		h.mu.Lock()
		h.calls = append(h.calls, inv.CapabilityID)
		b := h.plan[inv.CapabilityID]
		h.mu.Unlock()

		var (
			out *domain.CapabilityOutput
			err error
		)
		if b != nil {
			out, err = b(inv)
		} else {
			out = &domain.CapabilityOutput{Success: true, Data: map[string]interface{}{"from": inv.CapabilityID}}
		}
		h.mu.Lock()
		h.spans[inv.CapabilityID] = [2]time.Time{start, time.Now()}
		h.mu.Unlock()
		return out, err
	})

	dir := agents.NewDirectory(agents.Deps{Invoker: inv, Logger: logger}, agents.DefaultSettings())
	h.engine = New(h.reg, m, dir, logger, WithSwitches(h))
	return h
}

func (h *harness) called() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func failing(msg string) behavior {
	return func(domain.Invocation) (*domain.CapabilityOutput, error) {
		return &domain.CapabilityOutput{Success: false, Error: msg}, nil
	}
}

func sleeping(d time.Duration) behavior {
	return func(inv domain.Invocation) (*domain.CapabilityOutput, error) {
		time.Sleep(d)
		return &domain.CapabilityOutput{Success: true, Data: map[string]interface{}{"from": inv.CapabilityID}}, nil
	}
}

func run(h *harness, steps ...domain.Step) domain.OrchestrationResult {
	return h.engine.Execute(context.Background(), domain.OrchestrationRequest{
		RequestID: "req-1",
		Workflow:  &domain.Workflow{ID: "wf", Name: "test", Steps: steps},
		Context:   domain.RequestContext{UserID: "u-1"},
	})
}

func TestBatches_Scenario(t *testing.T) {
	steps := []domain.Step{
		{ID: "A", CapabilityID: "A"},
		{ID: "B", CapabilityID: "B", Parallel: true},
		{ID: "C", CapabilityID: "C"},
	}
	assert.Equal(t, [][]int{{0, 1}, {2}}, Batches(steps))
	assert.Equal(t, [][]string{{"A", "B"}, {"C"}}, BatchIDs(steps))
}

func TestBatches_LeadingParallelOpensBatch(t *testing.T) {
	steps := []domain.Step{{Parallel: true}, {Parallel: true}, {}}
	assert.Equal(t, [][]int{{0, 1}, {2}}, Batches(steps))
	assert.Equal(t, [][]string{{"step_1", "step_2"}, {"step_3"}}, BatchIDs(steps))
	assert.Empty(t, Batches(nil))
}

func TestBatches_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		flags := rapid.SliceOfN(rapid.Bool(), 0, 40).Draw(t, "parallel")
		steps := make([]domain.Step, len(flags))
		for i, p := range flags {
			steps[i] = domain.Step{Parallel: p}
		}

		next := 0
		for _, b := range Batches(steps) {
			if len(b) == 0 {
				t.Fatalf("empty batch")
			}
			for j, idx := range b {
				if idx != next {
					t.Fatalf("declaration order broken: got %d want %d", idx, next)
				}
				next++
				if j == 0 && idx > 0 && steps[idx].Parallel {
					t.Fatalf("batch opened by parallel step %d", idx)
				}
				if j > 0 && !steps[idx].Parallel {
					t.Fatalf("sequential step %d joined a batch", idx)
				}
			}
		}
		if next != len(steps) {
			t.Fatalf("covered %d of %d steps", next, len(steps))
		}
	})
}

func TestExecute_ParallelBatchJoinsBeforeNext(t *testing.T) {
	h := newHarness(t, "A", "B", "C")
	h.plan["A"] = sleeping(100 * time.Millisecond)
	h.plan["B"] = sleeping(100 * time.Millisecond)

	started := time.Now()
	res := run(h,
		domain.Step{ID: "A", CapabilityID: "A"},
		domain.Step{ID: "B", CapabilityID: "B", Parallel: true},
		domain.Step{ID: "C", CapabilityID: "C"},
	)
	elapsed := time.Since(started)

	require.True(t, res.Success, res.Error)
	assert.Less(t, elapsed, 190*time.Millisecond, "A and B must overlap")
	assert.Equal(t, [][]string{{"A", "B"}, {"C"}}, res.Workflow.Batches)

	h.mu.Lock()
	defer h.mu.Unlock()
	c := h.spans["C"][0]
	assert.False(t, c.Before(h.spans["A"][1]), "C started before A finished")
	assert.False(t, c.Before(h.spans["B"][1]), "C started before B finished")
}

func TestExecute_AllParallelApproximatesMax(t *testing.T) {
	h := newHarness(t, "A", "B", "C", "D")
	for _, id := range []string{"A", "B", "C", "D"} {
		h.plan[id] = sleeping(60 * time.Millisecond)
	}
	started := time.Now()
	res := run(h,
		domain.Step{CapabilityID: "A"},
		domain.Step{CapabilityID: "B", Parallel: true},
		domain.Step{CapabilityID: "C", Parallel: true},
		domain.Step{CapabilityID: "D", Parallel: true},
	)
	require.True(t, res.Success)
	assert.Less(t, time.Since(started), 200*time.Millisecond)
}

func TestExecute_FallbackStopsAtFirstSuccess(t *testing.T) {
	h := newHarness(t, "A", "F1", "F2", "F3", "B")
	h.plan["A"] = failing("primary down")
	h.plan["F1"] = failing("f1 down")

	res := run(h,
		domain.Step{ID: "A", CapabilityID: "A", OnFailure: []string{"F1", "F2", "F3"}},
		domain.Step{ID: "B", CapabilityID: "B"},
	)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{"A", "F1", "F2", "B"}, h.called())

	a := res.Results[0]
	assert.True(t, a.Recovered)
	require.Len(t, a.Fallbacks, 2)
	assert.Equal(t, "F1", a.Fallbacks[0].CapabilityID)
	assert.Equal(t, "F2", a.Fallbacks[1].CapabilityID)
	assert.Equal(t, map[string]interface{}{"from": "F2"}, a.Output())
}

func TestExecute_FallbacksExhausted(t *testing.T) {
	h := newHarness(t, "A", "F1", "F2", "B")
	h.plan["A"] = failing("primary down")
	h.plan["F1"] = failing("f1 down")
	h.plan["F2"] = failing("f2 down")

	res := run(h,
		domain.Step{ID: "A", CapabilityID: "A", OnFailure: []string{"F1", "F2"}},
		domain.Step{ID: "B", CapabilityID: "B"},
	)
	assert.False(t, res.Success)
	assert.Equal(t, "execution_error", res.ErrorKind)
	assert.Contains(t, res.Error, "primary down")
	assert.Contains(t, res.Error, "f1 down")
	assert.Contains(t, res.Error, "f2 down")
	assert.Equal(t, []string{"A", "F1", "F2"}, h.called())
	assert.Equal(t, []string{"B"}, res.Workflow.Abandoned)
}

func TestExecute_RequiredFailureStillRunsOptional(t *testing.T) {
	h := newHarness(t, "A", "B", "notify")
	h.plan["A"] = failing("boom")

	res := run(h,
		domain.Step{ID: "A", CapabilityID: "A"},
		domain.Step{ID: "B", CapabilityID: "B"},
		domain.Step{ID: "notify", CapabilityID: "notify", Optional: true, Condition: domain.ConditionFailure},
	)
	assert.False(t, res.Success)
	assert.Equal(t, []string{"A", "notify"}, h.called())
	assert.Equal(t, []string{"B"}, res.Workflow.Abandoned)
}

func TestExecute_OptionalFailureDoesNotFailWorkflow(t *testing.T) {
	h := newHarness(t, "A", "B")
	h.plan["A"] = failing("optional down")

	res := run(h,
		domain.Step{ID: "A", CapabilityID: "A", Optional: true},
		domain.Step{ID: "B", CapabilityID: "B"},
	)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"A", "B"}, h.called())
}

func TestExecute_Conditions(t *testing.T) {
	h := newHarness(t, "A", "onFail", "onOK")

	res := run(h,
		domain.Step{ID: "A", CapabilityID: "A"},
		domain.Step{ID: "onFail", CapabilityID: "onFail", Condition: domain.ConditionFailure},
		domain.Step{ID: "onOK", CapabilityID: "onOK", Condition: domain.ConditionSuccess},
	)
	require.True(t, res.Success)
	assert.Equal(t, []string{"A", "onOK"}, h.called())
	require.Len(t, res.Results, 3)
	assert.True(t, res.Results[1].Skipped)
	assert.True(t, res.Results[1].Succeeded())
}

func TestExecute_ConditionSeesPredecessorOfBatch(t *testing.T) {
	h := newHarness(t, "A", "B", "C")
	h.plan["A"] = failing("x")

	// B и C в одном батче: оба видят результат A, а не друг друга
	res := run(h,
		domain.Step{ID: "A", CapabilityID: "A", Optional: true},
		domain.Step{ID: "B", CapabilityID: "B", Condition: domain.ConditionFailure},
		domain.Step{ID: "C", CapabilityID: "C", Condition: domain.ConditionFailure, Parallel: true},
	)
	require.True(t, res.Success)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, h.called())
}

func TestExecute_DataChaining(t *testing.T) {
	h := newHarness(t, "A", "B", "C")
	var got domain.Payload
	h.plan["C"] = func(inv domain.Invocation) (*domain.CapabilityOutput, error) {
		got = inv.Params
		return &domain.CapabilityOutput{Success: true}, nil
	}

	res := h.engine.Execute(context.Background(), domain.OrchestrationRequest{
		RequestID: "req-1",
		Params:    domain.Payload{"tenant": "t1"},
		Workflow: &domain.Workflow{ID: "wf", Steps: []domain.Step{
			{ID: "A", CapabilityID: "A"},
			{ID: "B", CapabilityID: "B"},
			{ID: "C", CapabilityID: "C", Params: domain.Payload{"mode": "fast"}},
		}},
	})
	require.True(t, res.Success)
	assert.Equal(t, "t1", got["tenant"])
	assert.Equal(t, "fast", got["mode"])
	assert.Equal(t, map[string]interface{}{"from": "B"}, got["_previous"])
	all := got["_allResults"].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"from": "A"}, all["A"])
	assert.Equal(t, map[string]interface{}{"from": "B"}, all["B"])
	assert.NotContains(t, all, "C")
}

func TestExecute_OnSuccessFollowUp(t *testing.T) {
	h := newHarness(t, "A", "audit_log")
	res := run(h, domain.Step{ID: "A", CapabilityID: "A", OnSuccess: "audit_log"})
	require.True(t, res.Success)
	require.Len(t, res.Results, 2)
	assert.Equal(t, "on_success", res.Results[1].Trigger)
	assert.Equal(t, "A/on_success", res.Results[1].StepID)
}

func TestExecute_SingleCapability(t *testing.T) {
	h := newHarness(t, "stripe_payment")
	res := h.engine.Execute(context.Background(), domain.OrchestrationRequest{
		RequestID: "r", CapabilityID: "stripe_payment", Agent: domain.AgentOperations,
	})
	require.True(t, res.Success)
	require.Len(t, res.Results, 1)
	assert.Equal(t, domain.AgentOperations, res.Results[0].Agent)

	stats, ok := h.reg.Stats("stripe_payment")
	require.True(t, ok)
	assert.Equal(t, int64(1), stats.Executions)
}

func TestExecute_DisabledCapabilityIsConfigurationError(t *testing.T) {
	h := newHarness(t, "email_composer")
	h.off["email_composer"] = true

	res := h.engine.Execute(context.Background(), domain.OrchestrationRequest{RequestID: "r", CapabilityID: "email_composer"})
	assert.False(t, res.Success)
	assert.Equal(t, "configuration_error", res.ErrorKind)
	assert.Empty(t, h.called())

	delete(h.off, "email_composer")
	require.NoError(t, h.reg.SetEnabled("email_composer", false))
	res = h.engine.Execute(context.Background(), domain.OrchestrationRequest{RequestID: "r", CapabilityID: "email_composer"})
	assert.Equal(t, "configuration_error", res.ErrorKind)
	assert.Empty(t, h.called())
}

func TestExecute_MissingConfiguration(t *testing.T) {
	logger := zaptest.NewLogger(t)
	reg := registry.New(nil, logger)
	m := matrix.New(logger)
	c := domain.Capability{ID: "stripe_payment", OwningAgent: domain.AgentFinance, Enabled: true, RequiredConfig: []string{"STRIPE_KEY"}}
	require.NoError(t, reg.Register(c))
	require.NoError(t, m.AssignCapability(c))
	dir := agents.NewDirectory(agents.Deps{Invoker: connectors.NewMockConnector(), Logger: logger}, agents.DefaultSettings())

	e := New(reg, m, dir, logger, WithConfigChecker(registry.StaticConfig{}))
	res := e.Execute(context.Background(), domain.OrchestrationRequest{RequestID: "r", CapabilityID: "stripe_payment"})
	assert.Equal(t, "configuration_error", res.ErrorKind)
	assert.Contains(t, res.Error, "STRIPE_KEY")
}

func TestExecute_UnknownCapabilityAndEmptyRequest(t *testing.T) {
	h := newHarness(t)
	res := h.engine.Execute(context.Background(), domain.OrchestrationRequest{RequestID: "r", CapabilityID: "nope"})
	assert.Equal(t, "validation_error", res.ErrorKind)

	res = h.engine.Execute(context.Background(), domain.OrchestrationRequest{RequestID: "r"})
	assert.Equal(t, "validation_error", res.ErrorKind)
}

func TestExecute_CancelledContextAbandonsWorkflow(t *testing.T) {
	h := newHarness(t, "A", "B")
	ctx, cancel := context.WithCancel(context.Background())
	h.plan["A"] = func(inv domain.Invocation) (*domain.CapabilityOutput, error) {
		cancel()
		return &domain.CapabilityOutput{Success: true}, nil
	}
	res := h.engine.Execute(ctx, domain.OrchestrationRequest{
		RequestID: "r",
		Workflow: &domain.Workflow{ID: "wf", Steps: []domain.Step{
			{ID: "A", CapabilityID: "A"}, {ID: "B", CapabilityID: "B"},
		}},
	})
	assert.False(t, res.Success)
	assert.Equal(t, []string{"B"}, res.Workflow.Abandoned)
	assert.Equal(t, []string{"A"}, h.called())
	assert.Contains(t, res.Error, fmt.Sprintf("batch %d", 2))
}
