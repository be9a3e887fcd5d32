package agents

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xela07ax/spaceai-governance/internal/connectors"
	"github.com/xela07ax/spaceai-governance/internal/domain"
	"go.uber.org/zap"
)

// Monitor фоновая проверка агента с фиксированным интервалом
type Monitor struct {
	Name     string
	Interval time.Duration
	Check    func(ctx context.Context)
}

// SystemAction обработчик запроса вида system
type SystemAction func(ctx context.Context, req *domain.Request) (interface{}, error)

// BaseAgent общий жизненный цикл: состояние active/inactive, мониторы,
// ограниченная история инсайтов, интервенции и вызов capability через Invoker.
type BaseAgent struct {
	id     domain.AgentID
	deps   Deps
	logger *zap.Logger

	insightLimit    int
	monitorInterval time.Duration

	mu       sync.RWMutex
	state    domain.AgentState
	insights []domain.Insight
	config   map[string]interface{}
	monitors []Monitor
	system   map[string]SystemAction
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	// Политика интервенций задается конкретным агентом
	intervene      func(domain.Insight) bool
	onIntervention func(domain.Insight)

	executions    atomic.Int64
	failures      atomic.Int64
	interventions atomic.Int64

	eventsMu sync.Mutex
	events   map[domain.EventName]int
}

func newBase(id domain.AgentID, deps Deps, settings Settings) *BaseAgent {
	limit := settings.InsightLimit
	if limit <= 0 {
		limit = DefaultSettings().InsightLimit
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &BaseAgent{
		id:              id,
		deps:            deps,
		logger:          logger.Named(string(id)),
		insightLimit:    limit,
		monitorInterval: settings.MonitorInterval,
		state:           domain.StateInactive,
		config:          make(map[string]interface{}),
		system:          make(map[string]SystemAction),
		events:          make(map[domain.EventName]int),
	}
	b.HandleSystem("ping", func(context.Context, *domain.Request) (interface{}, error) {
		return map[string]interface{}{"agent": string(id), "pong": true}, nil
	})
	return b
}

func (b *BaseAgent) ID() domain.AgentID { return b.id }

// AddMonitor регистрирует монитор; вызывать до Start
func (b *BaseAgent) AddMonitor(m Monitor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.monitors = append(b.monitors, m)
}

// HandleSystem регистрирует обработчик system-действия
func (b *BaseAgent) HandleSystem(action string, fn SystemAction) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.system[action] = fn
}

func (b *BaseAgent) Validate(context.Context, *domain.Request) domain.Verdict {
	return domain.Approve()
}

func (b *BaseAgent) EstimateCost(context.Context, *domain.Request) float64 {
	return 0
}

// Execute вызывает capability (Action) через коллаборатора или обрабатывает system-действие
func (b *BaseAgent) Execute(ctx context.Context, req *domain.Request) domain.ExecutionResult {
	started := time.Now()
	res := domain.ExecutionResult{Agent: b.id, StartedAt: started.UTC()}

	var (
		data interface{}
		err  error
	)
	switch req.Kind {
	case domain.KindCapability:
		data, err = b.invoke(ctx, req, &res)
	case domain.KindSystem:
		data, err = b.runSystem(ctx, req)
	case domain.KindWorkflow:
		err = domain.Errorf(domain.ErrValidation, "workflow requests are executed by the workflow engine")
	default:
		err = domain.Errorf(domain.ErrValidation, "unknown request kind %q", req.Kind)
	}

	res.DurationMs = time.Since(started).Milliseconds()
	b.executions.Add(1)
	if err != nil {
		b.failures.Add(1)
		res.Error = err.Error()
		res.ErrorKind = domain.KindOf(err)
		b.logger.Warn("execution failed",
			zap.String("request_id", req.ID),
			zap.String("action", req.Action),
			zap.String("kind", res.ErrorKind),
			zap.Error(err))
		b.Emit(domain.EventExecutionFailed, map[string]interface{}{
			"request_id":    req.ID,
			"capability_id": req.Action,
			"error":         res.Error,
			"error_kind":    res.ErrorKind,
		})
		return res
	}
	res.Success = true
	res.Data = data
	return res
}

func (b *BaseAgent) invoke(ctx context.Context, req *domain.Request, res *domain.ExecutionResult) (interface{}, error) {
	if b.deps.Invoker == nil {
		return nil, domain.Errorf(domain.ErrConfiguration, "agent %s has no capability invoker", b.id)
	}
	ctx, retries := connectors.WithRetryCounter(ctx)
	out, err := b.deps.Invoker.Invoke(ctx, domain.Invocation{
		RequestID:    req.ID,
		CapabilityID: req.Action,
		Params:       req.Params,
		Context:      req.Context,
	})
	res.RetryCount = int(retries.Load())
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, domain.Errorf(domain.ErrExecution, "capability %s returned no output", req.Action)
	}
	if !out.Success {
		return nil, domain.Errorf(domain.ErrExecution, "capability %s failed: %s", req.Action, out.Error)
	}
	return out.Data, nil
}

func (b *BaseAgent) runSystem(ctx context.Context, req *domain.Request) (interface{}, error) {
	b.mu.RLock()
	fn, ok := b.system[req.Action]
	b.mu.RUnlock()
	if !ok {
		return nil, domain.Errorf(domain.ErrValidation, "agent %s does not support system action %q", b.id, req.Action)
	}
	return fn(ctx, req)
}

// HandleExternalEvent по умолчанию только учитывает событие
func (b *BaseAgent) HandleExternalEvent(_ context.Context, ev domain.Event) {
	b.observe(ev)
	b.received(ev)
}

// received пишет событие в debug-лог без учета в счетчиках
func (b *BaseAgent) received(ev domain.Event) {
	b.logger.Debug("external event received", zap.String("event", string(ev.Name)), zap.String("source", string(ev.Source)))
}

func (b *BaseAgent) observe(ev domain.Event) {
	b.eventsMu.Lock()
	b.events[ev.Name]++
	b.eventsMu.Unlock()
}

// EventsSeen счетчики полученных событий
func (b *BaseAgent) EventsSeen() map[domain.EventName]int {
	b.eventsMu.Lock()
	defer b.eventsMu.Unlock()
	out := make(map[domain.EventName]int, len(b.events))
	for k, v := range b.events {
		out[k] = v
	}
	return out
}

// Configure сохраняет параметры (последняя запись побеждает) и сообщает шине
func (b *BaseAgent) Configure(params map[string]interface{}) error {
	b.mu.Lock()
	keys := make([]interface{}, 0, len(params))
	for k, v := range params {
		b.config[k] = v
		keys = append(keys, k)
	}
	b.mu.Unlock()
	b.logger.Info("agent configured", zap.Int("keys", len(keys)))
	b.Emit(domain.EventAgentConfigured, map[string]interface{}{"agent": string(b.id), "keys": keys})
	return nil
}

func (b *BaseAgent) Config() map[string]interface{} {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]interface{}, len(b.config))
	for k, v := range b.config {
		out[k] = v
	}
	return out
}

// Start запускает мониторы; повторный вызов у активного агента ничего не делает
func (b *BaseAgent) Start(ctx context.Context) {
	b.mu.Lock()
	if b.state == domain.StateActive {
		b.mu.Unlock()
		return
	}
	mctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.state = domain.StateActive
	monitors := append([]Monitor(nil), b.monitors...)
	b.mu.Unlock()

	for _, m := range monitors {
		b.wg.Add(1)
		go b.runMonitor(mctx, m)
	}
	b.logger.Info("agent started", zap.Int("monitors", len(monitors)))
}

func (b *BaseAgent) runMonitor(ctx context.Context, m Monitor) {
	defer b.wg.Done()
	interval := m.Interval
	if b.monitorInterval > 0 {
		interval = b.monitorInterval
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.safeCheck(ctx, m)
		}
	}
}

func (b *BaseAgent) safeCheck(ctx context.Context, m Monitor) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("monitor panicked", zap.String("monitor", m.Name), zap.Any("panic", r))
		}
	}()
	m.Check(ctx)
}

// Stop останавливает мониторы и ждет их завершения
func (b *BaseAgent) Stop() {
	b.mu.Lock()
	if b.state != domain.StateActive {
		b.mu.Unlock()
		return
	}
	b.state = domain.StateInactive
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()

	cancel()
	b.wg.Wait()
	b.logger.Info("agent stopped")
}

func (b *BaseAgent) Shutdown() {
	b.Stop()
	b.logger.Info("agent shut down",
		zap.Int64("executions", b.executions.Load()),
		zap.Int64("failures", b.failures.Load()))
}

func (b *BaseAgent) State() domain.AgentState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Record добавляет инсайт, обрезает историю и при необходимости запускает интервенцию
func (b *BaseAgent) Record(typ domain.InsightType, title, message string, relevance float64, data map[string]interface{}) domain.Insight {
	ins := domain.NewInsight(b.id, typ, title, message, relevance, data)

	b.mu.Lock()
	b.insights = append(b.insights, ins)
	if over := len(b.insights) - b.insightLimit; over > 0 {
		b.insights = append([]domain.Insight(nil), b.insights[over:]...)
	}
	intervene, act := b.intervene, b.onIntervention
	b.mu.Unlock()

	if intervene != nil && intervene(ins) {
		b.interventions.Add(1)
		b.logger.Info("intervention triggered",
			zap.String("insight", ins.Title),
			zap.String("type", string(ins.Type)),
			zap.Float64("relevance", ins.Relevance))
		if act != nil {
			act(ins)
		}
	}
	return ins
}

// SetIntervention задает предикат и действие интервенции
func (b *BaseAgent) SetIntervention(predicate func(domain.Insight) bool, action func(domain.Insight)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.intervene = predicate
	b.onIntervention = action
}

func (b *BaseAgent) Insights() []domain.Insight {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]domain.Insight(nil), b.insights...)
}

// Emit публикует событие от имени агента
func (b *BaseAgent) Emit(name domain.EventName, payload map[string]interface{}) {
	if b.deps.Events == nil {
		return
	}
	b.deps.Events.Emit(b.id, name, payload)
}

func (b *BaseAgent) Status() domain.AgentStatus {
	b.mu.RLock()
	st := domain.AgentStatus{
		ID:       b.id,
		State:    b.state,
		Insights: len(b.insights),
	}
	if n := len(b.insights); n > 0 {
		at := b.insights[n-1].CreatedAt
		st.LastInsightAt = &at
	}
	b.mu.RUnlock()

	st.Executions = b.executions.Load()
	st.Failures = b.failures.Load()
	if b.deps.Overrides != nil {
		if e, ok := b.deps.Overrides.Get(domain.AgentDisabledKey(b.id)); ok {
			v, _ := e.Value.(bool)
			st.Disabled = v
		}
	}
	st.Details = map[string]interface{}{"interventions": b.interventions.Load()}
	return st
}

// failureRate доля неуспешных исполнений (0 без исполнений)
func (b *BaseAgent) failureRate() (float64, int64) {
	total := b.executions.Load()
	if total == 0 {
		return 0, 0
	}
	return float64(b.failures.Load()) / float64(total), total
}
