package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/spaceai-governance/internal/agents"
	"github.com/xela07ax/spaceai-governance/internal/audit"
	"github.com/xela07ax/spaceai-governance/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	instrumentationName = "github.com/xela07ax/spaceai-governance/internal/engine"

	defaultRecentAudit  = 200
	defaultStepEstimate = 500 * time.Millisecond
)

// Executor движок исполнения (workflow.Engine)
type Executor interface {
	Execute(ctx context.Context, req domain.OrchestrationRequest) domain.OrchestrationResult
}

// Resolver матрица ответственности
type Resolver interface {
	ResolveAgents(req *domain.Request) []domain.AgentID
	Counts() map[domain.AgentID]int
}

// Catalog часть реестра capability, нужная пайплайну
type Catalog interface {
	Get(id string) (domain.Capability, bool)
	Workflow(key string) (domain.Workflow, bool)
	Stats(id string) (domain.CapabilityStats, bool)
	Counts() map[string]int
}

// Interceptor админские флаги, которые проверяются до входа в пайплайн
type Interceptor interface {
	EmergencyStop() bool
	Maintenance() bool
	CustomerSuspended(principal string) bool
	Get(key string) (domain.OverrideEntry, bool)
	Delete(ctx context.Context, key string) bool
}

type Emitter interface {
	Emit(source domain.AgentID, name domain.EventName, payload map[string]interface{}) int
}

// Result ответ пайплайна вызывающей стороне. Никогда не nil.
type Result struct {
	RequestID string              `json:"request_id"`
	Success   bool                `json:"success"`
	Decision  *domain.Decision    `json:"decision,omitempty"`
	Results   *Outcome            `json:"results,omitempty"`
	Errors    []string            `json:"errors,omitempty"`
	ErrorKind string              `json:"error_kind,omitempty"`
	Audit     []domain.AuditEntry `json:"audit"`
}

// Outcome результат основного агента и параллельных secondary
type Outcome struct {
	Primary   domain.OrchestrationResult `json:"primary"`
	Secondary []SecondaryResult          `json:"secondary,omitempty"`
}

type SecondaryResult struct {
	Agent  domain.AgentID             `json:"agent"`
	Result domain.OrchestrationResult `json:"result"`
}

type Option func(*Pipeline)

func WithRequestTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.timeout = d }
}

func WithAuditSink(r audit.Recorder) Option {
	return func(p *Pipeline) { p.sink = r }
}

func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithRecentAudit(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.recentLimit = n
		}
	}
}

// Pipeline управляет одним запросом от гейтов до исполнения и аудита
type Pipeline struct {
	catalog   Catalog
	matrix    Resolver
	agents    *agents.Directory
	executor  Executor
	overrides Interceptor
	events    Emitter
	sink      audit.Recorder
	metrics   *Metrics

	timeout time.Duration
	tracer  trace.Tracer
	logger  *zap.Logger

	mu          sync.Mutex
	active      map[string]activeRequest
	recent      []domain.AuditEntry
	recentLimit int

	background sync.WaitGroup
}

type activeRequest struct {
	Kind    domain.RequestKind `json:"kind"`
	Action  string             `json:"action"`
	Started time.Time          `json:"started"`
}

func NewPipeline(catalog Catalog, matrix Resolver, dir *agents.Directory, exec Executor, ov Interceptor, events Emitter, logger *zap.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		catalog:     catalog,
		matrix:      matrix,
		agents:      dir,
		executor:    exec,
		overrides:   ov,
		events:      events,
		tracer:      otel.Tracer(instrumentationName),
		logger:      logger.Named("pipeline"),
		active:      make(map[string]activeRequest),
		recentLimit: defaultRecentAudit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.metrics == nil {
		p.metrics = NewMetrics(nil)
	}
	return p
}

// run состояние одного прогона
type run struct {
	p        *Pipeline
	req      *domain.Request
	res      *Result
	traceID  string
	workflow *domain.Workflow
}

func (r *run) audit(agent, action string, details map[string]interface{}) {
	entry := domain.NewAuditEntry(agent, action, details)
	r.res.Audit = append(r.res.Audit, entry)
	r.p.remember(entry)
	if r.p.sink != nil {
		changes := make(map[string]interface{}, len(details)+1)
		for k, v := range details {
			changes[k] = v
		}
		if r.traceID != "" {
			changes["trace_id"] = r.traceID
		}
		r.p.sink.Record(audit.Record{
			RequestID:    r.req.ID,
			Action:       action,
			ResourceType: audit.ResourceRequest,
			ResourceID:   r.req.Action,
			Agent:        agent,
			Principal:    r.req.Context.Principal(),
			Changes:      changes,
			OccurredAt:   entry.Timestamp,
		})
	}
}

// reject завершает прогон без исполнения
func (r *run) reject(gate string, err error) *Result {
	r.p.metrics.GateRejections.WithLabelValues(gate).Inc()
	if r.res.Decision == nil {
		r.res.Decision = &domain.Decision{}
	}
	r.res.Decision.Approved = false
	r.res.Decision.RejectReason = err.Error()
	return r.fail(err)
}

func (r *run) fail(err error) *Result {
	r.res.Success = false
	r.res.Errors = append(r.res.Errors, err.Error())
	if r.res.ErrorKind == "" {
		r.res.ErrorKind = domain.KindOf(err)
	}
	return r.res
}

// ProcessRequest гейты строго по порядку, затем разрешение агентов и исполнение.
// Любая паника превращается в неуспешный Result с накопленным аудитом.
func (p *Pipeline) ProcessRequest(ctx context.Context, req *domain.Request) (res *Result) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	start := time.Now()
	r := &run{p: p, req: req, res: &Result{RequestID: req.ID}, traceID: TraceID(ctx)}
	res = r.res

	p.metrics.TotalRequests.WithLabelValues(string(req.Kind)).Inc()
	p.track(req)

	ctx, span := p.tracer.Start(ctx, "pipeline.process", trace.WithAttributes(
		attribute.String("request.id", req.ID),
		attribute.String("request.kind", string(req.Kind)),
		attribute.String("request.action", req.Action),
	))

	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("pipeline panic recovered",
				zap.String("request_id", req.ID),
				zap.Any("panic", rec),
				zap.Stack("stack"))
			r.audit(string(domain.SystemSource), domain.ActionError, map[string]interface{}{"panic": fmt.Sprint(rec)})
			r.fail(domain.Errorf(domain.ErrExecution, "pipeline failure: %v", rec))
		}
		p.untrack(req.ID)

		outcome := statusLabel(res.Success)
		if !res.Success {
			p.metrics.ErrorTotal.WithLabelValues(res.ErrorKind).Inc()
			span.SetStatus(codes.Error, res.ErrorKind)
		}
		p.metrics.RequestDuration.WithLabelValues(string(req.Kind), outcome).Observe(time.Since(start).Seconds())
		span.End()
	}()

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	// Перехват до гейтов: единственная запись аудита
	if halted := p.intercept(r); halted != nil {
		return halted
	}

	if err := req.Validate(); err != nil {
		r.audit(string(domain.SystemSource), domain.ActionError, map[string]interface{}{"stage": "validation", "error": err.Error()})
		return r.reject("validation", err)
	}
	if err := p.validateParams(req); err != nil {
		r.audit(string(domain.SystemSource), domain.ActionError, map[string]interface{}{"stage": "params", "error": err.Error()})
		return r.reject("validation", err)
	}
	if err := r.resolveWorkflow(); err != nil {
		r.audit(string(domain.SystemSource), domain.ActionError, map[string]interface{}{"stage": "workflow", "error": err.Error()})
		return r.reject("validation", err)
	}

	decision := &domain.Decision{}
	res.Decision = decision

	overridden, err := p.decisionOverride(ctx, r)
	if err != nil {
		return r.reject("override", err)
	}
	decision.Overridden = overridden

	var release func()
	if !overridden {
		rejected, reserved := p.runGates(ctx, r, decision)
		if rejected != nil {
			return rejected
		}
		release = reserved
	} else {
		decision.CostEstimate = p.agents.Finance().EstimateCost(ctx, r.costRequest())
		release = p.agents.Infrastructure().Begin()
	}
	defer release()

	// 5. Ответственные агенты
	responsible := p.matrix.ResolveAgents(req)
	r.audit(string(domain.SystemSource), domain.ActionResolveAgents, map[string]interface{}{"agents": agentNames(responsible)})

	// 6. Решение
	decision.Approved = true
	decision.ResponsibleAgents = responsible
	decision.RoutingMode = domain.RoutingFor(responsible, req.Context.Priority)
	decision.TimeEstimateMs = p.estimateTime(r).Milliseconds()
	r.audit(string(responsible[0]), domain.ActionDecision, map[string]interface{}{
		"routing_mode":      string(decision.RoutingMode),
		"estimated_cost":    decision.CostEstimate,
		"estimated_time_ms": decision.TimeEstimateMs,
		"warnings":          decision.Warnings,
		"overridden":        decision.Overridden,
	})

	// 7. Исполнение
	outcome := p.execute(ctx, r, decision)
	res.Results = outcome
	res.Success = outcome.Primary.Success
	if !res.Success {
		res.Errors = append(res.Errors, outcome.Primary.Error)
		res.ErrorKind = outcome.Primary.ErrorKind
		if res.ErrorKind == "" {
			res.ErrorKind = domain.ErrExecution.Error()
		}
	}

	// 8. Аналитика асинхронно
	p.trackAnalytics(r, responsible[0], decision.CostEstimate, outcome.Primary)

	// 9. Итог
	r.audit(string(domain.SystemSource), domain.ActionComplete, map[string]interface{}{
		"success":           res.Success,
		"execution_time_ms": outcome.Primary.ExecutionTimeMs,
	})
	if p.events != nil {
		p.events.Emit(domain.SystemSource, domain.EventRequestCompleted, map[string]interface{}{
			"request_id": req.ID,
			"action":     req.Action,
			"success":    res.Success,
			"cost":       decision.CostEstimate,
			"principal":  req.Context.Principal(),
		})
	}
	return res
}

// intercept emergency stop / maintenance / приостановленный клиент
func (p *Pipeline) intercept(r *run) *Result {
	if p.overrides == nil {
		return nil
	}
	var err error
	switch {
	case p.overrides.EmergencyStop():
		err = domain.Errorf(domain.ErrSystemHalt, "system halted: emergency stop is active")
	case p.overrides.Maintenance():
		err = domain.Errorf(domain.ErrSystemHalt, "system halted: maintenance mode is active")
	case p.overrides.CustomerSuspended(r.req.Context.Principal()):
		err = domain.Errorf(domain.ErrAuthorization, "customer %s is suspended", r.req.Context.Principal())
	default:
		return nil
	}
	r.audit(string(domain.SystemSource), domain.ActionIntercept, map[string]interface{}{"reason": err.Error()})
	p.logger.Warn("request intercepted", zap.String("request_id", r.req.ID), zap.Error(err))
	return r.reject("intercept", err)
}

// decisionOverride решение админа по конкретному request id.
// Одобрение привязано к action и principal запроса и снимается после первого применения.
func (p *Pipeline) decisionOverride(ctx context.Context, r *run) (bool, error) {
	if p.overrides == nil {
		return false, nil
	}
	key := domain.DecisionOverrideKey(r.req.ID)
	entry, ok := p.overrides.Get(key)
	if !ok {
		return false, nil
	}
	v := overrideVerdict(entry.Value)
	if !v.matches(r.req) {
		r.audit(string(domain.SystemSource), domain.ActionOverride, map[string]interface{}{
			"ignored": true, "action": v.Action, "principal": v.Principal,
		})
		p.logger.Warn("decision override does not match request",
			zap.String("request_id", r.req.ID),
			zap.String("action", r.req.Action),
			zap.String("principal", r.req.Context.Principal()))
		return false, nil
	}
	if !p.overrides.Delete(ctx, key) {
		// уже применено конкурирующим запросом с тем же id
		return false, nil
	}
	r.audit(domain.OverrideSetByAdmin, domain.ActionOverride, map[string]interface{}{"approved": v.Approved, "reason": v.Reason})
	if !v.Approved {
		reason := v.Reason
		if reason == "" {
			reason = "rejected by administrator"
		}
		return false, domain.Errorf(domain.ErrAuthorization, "Decision overridden: %s", reason)
	}
	return true, nil
}

type decisionVerdict struct {
	Approved  bool
	Reason    string
	Action    string
	Principal string
}

// matches одобрение действует только при явной привязке к action и principal,
// отказ ограничивается теми полями, что заданы
func (v decisionVerdict) matches(req *domain.Request) bool {
	if v.Approved && (v.Action == "" || v.Principal == "") {
		return false
	}
	if v.Action != "" && v.Action != req.Action {
		return false
	}
	if v.Principal != "" && v.Principal != req.Context.Principal() {
		return false
	}
	return true
}

// overrideVerdict значение записи: bool, "approve"/"reject" или
// {"approved": bool, "reason": string, "action": string, "principal": string}
func overrideVerdict(v interface{}) decisionVerdict {
	switch t := v.(type) {
	case bool:
		return decisionVerdict{Approved: t}
	case string:
		return decisionVerdict{Approved: t == "approve" || t == "approved" || t == "true"}
	case map[string]interface{}:
		out := decisionVerdict{}
		out.Approved, _ = t["approved"].(bool)
		out.Reason, _ = t["reason"].(string)
		out.Action, _ = t["action"].(string)
		out.Principal, _ = t["principal"].(string)
		return out
	}
	return decisionVerdict{}
}

// runGates 1-4: security -> compliance -> finance (информативно) -> capacity.
// При успехе возвращает освобождение занятого слота in-flight.
func (p *Pipeline) runGates(ctx context.Context, r *run, decision *domain.Decision) (*Result, func()) {
	req := r.req

	v := p.agents.Security().Validate(ctx, req)
	r.audit(string(domain.AgentSecurity), domain.ActionSecurityGate, verdictDetails(v))
	if !v.Approved {
		return r.reject("security", domain.Errorf(domain.ErrAuthorization, "Security validation failed: %s", v.Reason)), nil
	}

	v = p.agents.Compliance().Validate(ctx, req)
	r.audit(string(domain.AgentCompliance), domain.ActionComplianceGate, verdictDetails(v))
	if !v.Approved {
		return r.reject("compliance", domain.Errorf(domain.ErrAuthorization, "Compliance validation failed: %s", v.Reason)), nil
	}

	if err := ctx.Err(); err != nil {
		return r.reject("deadline", domain.Errorf(domain.ErrExecution, "request deadline exceeded: %v", err)), nil
	}

	// Финансовый гейт никогда не блокирует: превышение лимита уходит в warnings
	fin := p.agents.Finance()
	decision.CostEstimate = fin.EstimateCost(ctx, r.costRequest())
	details := map[string]interface{}{"estimated_cost": decision.CostEstimate}
	if fv := fin.Validate(ctx, req); !fv.Approved {
		decision.Warnings = append(decision.Warnings, "Finance: "+fv.Reason)
		details["warning"] = fv.Reason
	}
	r.audit(string(domain.AgentFinance), domain.ActionCostEstimate, details)

	capacity, release := p.agents.Infrastructure().Reserve(ctx, req)
	r.audit(string(domain.AgentInfrastructure), domain.ActionCapacityCheck, map[string]interface{}{
		"available":   capacity.Available,
		"reason":      capacity.Reason,
		"in_flight":   capacity.InFlight,
		"utilization": capacity.Utilization,
	})
	if !capacity.Available {
		return r.reject("capacity", domain.Errorf(domain.ErrCapacity, "Infrastructure capacity not available")), nil
	}
	return nil, release
}

// validateParams схема параметров capability-запроса; неизвестную capability отклонит движок
func (p *Pipeline) validateParams(req *domain.Request) error {
	if req.Kind != domain.KindCapability {
		return nil
	}
	c, ok := p.catalog.Get(req.Action)
	if !ok {
		return nil
	}
	return c.ValidateParams(req.Params)
}

// resolveWorkflow именованный workflow берется из каталога по Action
func (r *run) resolveWorkflow() error {
	if r.req.Kind != domain.KindWorkflow {
		return nil
	}
	if r.req.Workflow != nil {
		r.workflow = r.req.Workflow
		return nil
	}
	wf, ok := r.p.catalog.Workflow(r.req.Action)
	if !ok {
		return domain.Errorf(domain.ErrValidation, "workflow %s not found", r.req.Action)
	}
	r.workflow = &wf
	return nil
}

// costRequest копия запроса с развернутым workflow, сам запрос не мутируем
func (r *run) costRequest() *domain.Request {
	if r.workflow == nil || r.req.Workflow != nil {
		return r.req
	}
	cp := *r.req
	cp.Workflow = r.workflow
	return &cp
}

// estimateTime по средней длительности из статистики реестра
func (p *Pipeline) estimateTime(r *run) time.Duration {
	stepEstimate := func(capID string) time.Duration {
		if s, ok := p.catalog.Stats(capID); ok && s.Executions > 0 {
			return s.AvgDuration()
		}
		return defaultStepEstimate
	}
	switch r.req.Kind {
	case domain.KindCapability:
		return stepEstimate(r.req.Action)
	case domain.KindWorkflow:
		var total time.Duration
		for _, s := range r.workflow.Steps {
			total += stepEstimate(s.CapabilityID)
		}
		return total
	}
	return 0
}

// execute основной агент, затем (parallel) остальные конкурентно
func (p *Pipeline) execute(ctx context.Context, r *run, decision *domain.Decision) *Outcome {
	primary := decision.ResponsibleAgents[0]
	out := &Outcome{Primary: p.executeAs(ctx, r, primary)}
	r.audit(string(primary), domain.ActionExecute, resultDetails(out.Primary))

	secondaries := decision.ResponsibleAgents[1:]
	if decision.RoutingMode != domain.RoutingParallel || len(secondaries) == 0 {
		return out
	}
	if r.req.Kind == domain.KindWorkflow {
		decision.Warnings = append(decision.Warnings, "parallel fan-out is not applied to workflows")
		return out
	}

	out.Secondary = make([]SecondaryResult, len(secondaries))
	var g errgroup.Group
	for i, id := range secondaries {
		g.Go(func() error {
			out.Secondary[i] = SecondaryResult{Agent: id, Result: p.executeAs(ctx, r, id)}
			return nil
		})
	}
	_ = g.Wait()

	for _, s := range out.Secondary {
		r.audit(string(s.Agent), domain.ActionExecuteSecondary, resultDetails(s.Result))
		if !s.Result.Success {
			p.logger.Warn("secondary execution failed",
				zap.String("request_id", r.req.ID),
				zap.String("agent", string(s.Agent)),
				zap.String("error", s.Result.Error))
		}
	}
	return out
}

// executeAs вариант запроса разбирается исчерпывающе
func (p *Pipeline) executeAs(ctx context.Context, r *run, agentID domain.AgentID) domain.OrchestrationResult {
	req := r.req
	switch req.Kind {
	case domain.KindCapability:
		return p.executor.Execute(ctx, domain.OrchestrationRequest{
			RequestID:    req.ID,
			CapabilityID: req.Action,
			Params:       req.Params,
			Context:      req.Context,
			Agent:        agentID,
		})
	case domain.KindWorkflow:
		return p.executor.Execute(ctx, domain.OrchestrationRequest{
			RequestID: req.ID,
			Workflow:  r.workflow,
			Params:    req.Params,
			Context:   req.Context,
		})
	case domain.KindSystem:
		return p.executeSystem(ctx, req, agentID)
	}
	err := domain.Errorf(domain.ErrValidation, "unknown request kind %q", req.Kind)
	return domain.OrchestrationResult{Error: err.Error(), ErrorKind: domain.KindOf(err)}
}

// executeSystem системные действия исполняет сам агент, минуя движок
func (p *Pipeline) executeSystem(ctx context.Context, req *domain.Request, agentID domain.AgentID) domain.OrchestrationResult {
	a, ok := p.agents.Get(agentID)
	if !ok {
		err := domain.Errorf(domain.ErrConfiguration, "agent %s is not registered", agentID)
		return domain.OrchestrationResult{Error: err.Error(), ErrorKind: domain.KindOf(err)}
	}
	started := time.Now()
	er := a.Execute(ctx, req)
	return domain.OrchestrationResult{
		Success:         er.Success,
		Results:         []domain.StepResult{{StepID: req.Action, CapabilityID: req.Action, Agent: agentID, Result: er}},
		Error:           er.Error,
		ErrorKind:       er.ErrorKind,
		ExecutionTimeMs: time.Since(started).Milliseconds(),
	}
}

// ForceExecute FORCE_EXECUTE: без перехвата и гейтов, напрямую через агента-владельца
func (p *Pipeline) ForceExecute(ctx context.Context, req *domain.Request) *Result {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	r := &run{p: p, req: req, res: &Result{RequestID: req.ID}, traceID: TraceID(ctx)}
	if req.Kind != domain.KindCapability || req.Action == "" {
		return r.fail(domain.Errorf(domain.ErrValidation, "force execute requires a capability action"))
	}
	p.track(req)
	defer p.untrack(req.ID)

	responsible := p.matrix.ResolveAgents(req)
	owner := responsible[0]
	r.res.Decision = &domain.Decision{
		Approved:          true,
		Overridden:        true,
		ResponsibleAgents: responsible,
		RoutingMode:       domain.RoutingDirect,
	}
	r.audit(domain.OverrideSetByAdmin, domain.ActionOverride, map[string]interface{}{"force_execute": true, "agent": string(owner)})

	a, ok := p.agents.Get(owner)
	if !ok {
		return r.fail(domain.Errorf(domain.ErrConfiguration, "agent %s is not registered", owner))
	}
	started := time.Now()
	er := a.Execute(ctx, req)
	primary := domain.OrchestrationResult{
		Success:         er.Success,
		Results:         []domain.StepResult{{StepID: req.Action, CapabilityID: req.Action, Agent: owner, Result: er}},
		Error:           er.Error,
		ErrorKind:       er.ErrorKind,
		ExecutionTimeMs: time.Since(started).Milliseconds(),
	}
	r.res.Results = &Outcome{Primary: primary}
	r.audit(string(owner), domain.ActionExecute, resultDetails(primary))
	r.res.Success = er.Success
	if !er.Success {
		r.res.Errors = append(r.res.Errors, er.Error)
		r.res.ErrorKind = er.ErrorKind
	}
	return r.res
}

// trackAnalytics учет исхода в аналитике не задерживает ответ
func (p *Pipeline) trackAnalytics(r *run, agent domain.AgentID, cost float64, res domain.OrchestrationResult) {
	rec := agents.ExecutionRecord{
		RequestID: r.req.ID,
		Action:    r.req.Action,
		Agent:     agent,
		Principal: r.req.Context.Principal(),
		Success:   res.Success,
		Duration:  time.Duration(res.ExecutionTimeMs) * time.Millisecond,
		Cost:      cost,
	}
	analytics := p.agents.Analytics()
	p.background.Add(1)
	go func() {
		defer p.background.Done()
		analytics.TrackExecution(rec)
	}()
}

// Wait дожидается фоновых задач (аналитика); для остановки процесса и тестов
func (p *Pipeline) Wait() {
	p.background.Wait()
}

func (p *Pipeline) track(req *domain.Request) {
	p.mu.Lock()
	p.active[req.ID] = activeRequest{Kind: req.Kind, Action: req.Action, Started: time.Now()}
	n := len(p.active)
	p.mu.Unlock()
	p.metrics.ActiveRequests.Set(float64(n))
}

func (p *Pipeline) untrack(id string) {
	p.mu.Lock()
	delete(p.active, id)
	n := len(p.active)
	p.mu.Unlock()
	p.metrics.ActiveRequests.Set(float64(n))
}

func (p *Pipeline) remember(e domain.AuditEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recent = append(p.recent, e)
	if over := len(p.recent) - p.recentLimit; over > 0 {
		p.recent = append([]domain.AuditEntry(nil), p.recent[over:]...)
	}
}

func verdictDetails(v domain.Verdict) map[string]interface{} {
	d := map[string]interface{}{"approved": v.Approved}
	if v.Reason != "" {
		d["reason"] = v.Reason
	}
	return d
}

func resultDetails(res domain.OrchestrationResult) map[string]interface{} {
	d := map[string]interface{}{
		"success":           res.Success,
		"steps":             len(res.Results),
		"execution_time_ms": res.ExecutionTimeMs,
	}
	if res.Error != "" {
		d["error"] = res.Error
		d["error_kind"] = res.ErrorKind
	}
	return d
}

func agentNames(ids []domain.AgentID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
