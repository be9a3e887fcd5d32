package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xela07ax/spaceai-governance/internal/agents"
	"github.com/xela07ax/spaceai-governance/internal/domain"
	"github.com/xela07ax/spaceai-governance/internal/registry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const instrumentationName = "github.com/xela07ax/spaceai-governance/internal/workflow"

// CapabilityRegistry часть реестра, нужная движку
type CapabilityRegistry interface {
	Get(id string) (domain.Capability, bool)
	RecordExecution(id string, d time.Duration, success bool)
}

// Resolver матрица ответственности
type Resolver interface {
	ResolveCapability(capID string) []domain.AgentID
}

type AgentLookup interface {
	Get(id domain.AgentID) (agents.Agent, bool)
}

// Switches админские выключатели
type Switches interface {
	SkillDisabled(capID string) bool
	AgentDisabled(id domain.AgentID) bool
}

// Observer метрики исполнения шагов
type Observer interface {
	CapabilityExecuted(capID string, agent domain.AgentID, success bool, d time.Duration)
}

type Option func(*Engine)

func WithSwitches(s Switches) Option { return func(e *Engine) { e.switches = s } }

func WithConfigChecker(c registry.ConfigChecker) Option { return func(e *Engine) { e.config = c } }

func WithObserver(o Observer) Option { return func(e *Engine) { e.observer = o } }

// WithMaxParallel ограничивает число одновременно исполняемых шагов батча (0 - без ограничения)
func WithMaxParallel(n int) Option { return func(e *Engine) { e.maxParallel = n } }

// Engine исполняет одиночную capability или workflow-граф шагов.
// Каждый вызов идет через агента, выбранного матрицей ответственности.
type Engine struct {
	registry CapabilityRegistry
	matrix   Resolver
	agents   AgentLookup
	switches Switches
	config   registry.ConfigChecker
	observer Observer

	maxParallel int
	tracer      trace.Tracer
	logger      *zap.Logger
}

func New(reg CapabilityRegistry, matrix Resolver, dir AgentLookup, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		registry: reg,
		matrix:   matrix,
		agents:   dir,
		tracer:   otel.Tracer(instrumentationName),
		logger:   logger.Named("workflow"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// call один вызов capability
type call struct {
	requestID string
	stepID    string
	capID     string
	params    domain.Payload
	rctx      domain.RequestContext
	agent     domain.AgentID
}

// Execute точка входа движка
func (e *Engine) Execute(ctx context.Context, req domain.OrchestrationRequest) domain.OrchestrationResult {
	started := time.Now()
	var res domain.OrchestrationResult

	switch {
	case req.Workflow != nil:
		res = e.runWorkflow(ctx, req)
	case req.CapabilityID != "":
		sr := e.runCapability(ctx, call{
			requestID: req.RequestID,
			stepID:    req.CapabilityID,
			capID:     req.CapabilityID,
			params:    req.Params,
			rctx:      req.Context,
			agent:     req.Agent,
		})
		res = domain.OrchestrationResult{Success: sr.Succeeded(), Results: []domain.StepResult{sr}}
		if !sr.Succeeded() {
			res.Error = sr.Result.Error
			res.ErrorKind = sr.Result.ErrorKind
		}
	default:
		err := domain.Errorf(domain.ErrValidation, "orchestration request needs a capability or a workflow")
		res = domain.OrchestrationResult{Error: err.Error(), ErrorKind: domain.KindOf(err)}
	}

	res.ExecutionTimeMs = time.Since(started).Milliseconds()
	return res
}

// runCapability поиск capability -> проверка enabled/конфигурации -> агент -> вызов -> статистика
func (e *Engine) runCapability(ctx context.Context, c call) domain.StepResult {
	sr := domain.StepResult{StepID: c.stepID, CapabilityID: c.capID}
	fail := func(err error) domain.StepResult {
		sr.Result = domain.ExecutionResult{
			Success:   false,
			Error:     err.Error(),
			ErrorKind: domain.KindOf(err),
			Agent:     sr.Agent,
			StartedAt: time.Now().UTC(),
		}
		return sr
	}

	capability, ok := e.registry.Get(c.capID)
	if !ok {
		return fail(domain.Errorf(domain.ErrValidation, "unknown capability %s", c.capID))
	}
	if !capability.Enabled || (e.switches != nil && e.switches.SkillDisabled(c.capID)) {
		return fail(domain.Errorf(domain.ErrConfiguration, "capability %s is disabled", c.capID))
	}
	if missing := registry.MissingConfig(capability, e.config); len(missing) > 0 {
		return fail(domain.Errorf(domain.ErrConfiguration, "capability %s is missing configuration: %s",
			c.capID, strings.Join(missing, ", ")))
	}

	agentID := c.agent
	if agentID == "" {
		owners := e.matrix.ResolveCapability(c.capID)
		agentID = owners[0]
	}
	sr.Agent = agentID
	if e.switches != nil && e.switches.AgentDisabled(agentID) {
		return fail(domain.Errorf(domain.ErrConfiguration, "agent %s is disabled", agentID))
	}
	agent, ok := e.agents.Get(agentID)
	if !ok {
		return fail(domain.Errorf(domain.ErrConfiguration, "agent %s is not available", agentID))
	}
	if err := ctx.Err(); err != nil {
		return fail(domain.Errorf(domain.ErrExecution, "capability %s not started: %v", c.capID, err))
	}

	started := time.Now()
	res := agent.Execute(ctx, &domain.Request{
		ID:      c.requestID,
		Kind:    domain.KindCapability,
		Action:  c.capID,
		Params:  c.params,
		Context: c.rctx,
	})
	elapsed := time.Since(started)

	e.registry.RecordExecution(c.capID, elapsed, res.Success)
	if e.observer != nil {
		e.observer.CapabilityExecuted(c.capID, agentID, res.Success, elapsed)
	}
	sr.Result = res
	return sr
}

// runWorkflow батчи строго по порядку; внутри батча шаги параллельно с барьером
func (e *Engine) runWorkflow(ctx context.Context, req domain.OrchestrationRequest) domain.OrchestrationResult {
	wf := req.Workflow
	ctx, span := e.tracer.Start(ctx, "workflow.execute", trace.WithAttributes(
		attribute.String("workflow.id", wf.ID),
		attribute.String("request.id", req.RequestID),
		attribute.Int("workflow.steps", len(wf.Steps)),
	))
	defer span.End()

	batches := Batches(wf.Steps)
	summary := &domain.WorkflowSummary{ID: wf.ID, Name: wf.Name, Batches: BatchIDs(wf.Steps)}
	results := make([]domain.StepResult, 0, len(wf.Steps))
	all := make(map[string]interface{}, len(wf.Steps))

	var (
		prev      *domain.StepResult
		failures  []string
		kind      string
		abandoned bool
	)

	for bi, batch := range batches {
		// После провала обязательного шага исполняются только опциональные
		runnable := make([]int, 0, len(batch))
		for _, idx := range batch {
			if abandoned && !wf.Steps[idx].Optional {
				summary.Abandoned = append(summary.Abandoned, stepID(wf.Steps[idx], idx))
				continue
			}
			runnable = append(runnable, idx)
		}
		if len(runnable) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			for _, idx := range runnable {
				summary.Abandoned = append(summary.Abandoned, stepID(wf.Steps[idx], idx))
			}
			if !abandoned {
				failures = append(failures, fmt.Sprintf("workflow interrupted before batch %d: %v", bi+1, err))
				kind = domain.ErrExecution.Error()
			}
			abandoned = true
			continue
		}

		// Снимок состояния на начало батча: условия и _previous видят один и тот же результат
		snapshot := make(map[string]interface{}, len(all))
		for k, v := range all {
			snapshot[k] = v
		}

		out := e.runBatch(ctx, req, bi, runnable, prev, snapshot)

		for i, idx := range runnable {
			sr := out[i]
			results = append(results, sr.step)
			results = append(results, sr.followUps...)
			all[sr.step.StepID] = sr.step.Output()

			if !sr.step.Succeeded() && !wf.Steps[idx].Optional {
				failures = append(failures, describeFailure(sr.step))
				if kind == "" {
					kind = sr.step.Result.ErrorKind
				}
				abandoned = true
			}
		}
		last := out[len(out)-1].step
		prev = &last
	}

	res := domain.OrchestrationResult{
		Success:  len(failures) == 0,
		Results:  results,
		Workflow: summary,
	}
	if !res.Success {
		res.Error = strings.Join(failures, "; ")
		res.ErrorKind = kind
		span.SetStatus(codes.Error, res.Error)
		e.logger.Warn("workflow failed",
			zap.String("request_id", req.RequestID),
			zap.String("workflow", wf.ID),
			zap.Strings("abandoned", summary.Abandoned),
			zap.String("error", res.Error))
	}
	return res
}

type stepOutcome struct {
	step      domain.StepResult
	followUps []domain.StepResult
}

func (e *Engine) runBatch(ctx context.Context, req domain.OrchestrationRequest, index int, idxs []int, prev *domain.StepResult, all map[string]interface{}) []stepOutcome {
	ctx, span := e.tracer.Start(ctx, "workflow.batch", trace.WithAttributes(
		attribute.Int("batch.index", index),
		attribute.Int("batch.size", len(idxs)),
	))
	defer span.End()

	out := make([]stepOutcome, len(idxs))
	if len(idxs) == 1 {
		out[0] = e.runStep(ctx, req, idxs[0], prev, all)
		return out
	}

	var g errgroup.Group
	if e.maxParallel > 0 {
		g.SetLimit(e.maxParallel)
	}
	for i, idx := range idxs {
		g.Go(func() error {
			out[i] = e.runStep(ctx, req, idx, prev, all)
			return nil
		})
	}
	_ = g.Wait() // шаги не возвращают ошибок, провал фиксируется в результате
	return out
}

// runStep условие -> вызов -> fallback-цепочка при провале -> follow-up при успехе
func (e *Engine) runStep(ctx context.Context, req domain.OrchestrationRequest, idx int, prev *domain.StepResult, all map[string]interface{}) stepOutcome {
	step := req.Workflow.Steps[idx]
	id := stepID(step, idx)

	if !step.Condition.Met(prev) {
		return stepOutcome{step: domain.StepResult{
			StepID:       id,
			CapabilityID: step.CapabilityID,
			Skipped:      true,
			Optional:     step.Optional,
		}}
	}

	params := req.Params.Clone()
	for k, v := range step.Params {
		params[k] = v
	}
	if prev != nil {
		params["_previous"] = prev.Output()
	}
	params["_allResults"] = all

	sr := e.runCapability(ctx, call{
		requestID: req.RequestID,
		stepID:    id,
		capID:     step.CapabilityID,
		params:    params,
		rctx:      req.Context,
	})
	sr.Optional = step.Optional

	if !sr.Result.Success && !step.Optional {
		for _, fb := range step.OnFailure {
			fparams := params.Clone()
			fparams["_failed"] = map[string]interface{}{"step_id": id, "error": sr.Result.Error}
			fr := e.runCapability(ctx, call{
				requestID: req.RequestID,
				stepID:    id + "/fallback:" + fb,
				capID:     fb,
				params:    fparams,
				rctx:      req.Context,
			})
			fr.Trigger = "on_failure"
			sr.Fallbacks = append(sr.Fallbacks, fr)
			if fr.Result.Success {
				sr.Recovered = true
				e.logger.Info("step recovered by fallback",
					zap.String("request_id", req.RequestID),
					zap.String("step_id", id),
					zap.String("fallback", fb))
				break
			}
		}
	}

	out := stepOutcome{step: sr}
	if step.OnSuccess != "" && sr.Succeeded() {
		fparams := req.Params.Clone()
		fparams["_previous"] = sr.Output()
		fu := e.runCapability(ctx, call{
			requestID: req.RequestID,
			stepID:    id + "/on_success",
			capID:     step.OnSuccess,
			params:    fparams,
			rctx:      req.Context,
		})
		fu.Trigger = "on_success"
		fu.Optional = true
		out.followUps = append(out.followUps, fu)
	}
	return out
}

func describeFailure(sr domain.StepResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "step %s (%s) failed: %s", sr.StepID, sr.CapabilityID, sr.Result.Error)
	for _, fb := range sr.Fallbacks {
		fmt.Fprintf(&b, "; fallback %s failed: %s", fb.CapabilityID, fb.Result.Error)
	}
	return b.String()
}
