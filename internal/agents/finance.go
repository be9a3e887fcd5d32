package agents

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xela07ax/spaceai-governance/internal/domain"
	"go.uber.org/zap"
)

// LedgerEntry движение по счету клиента
type LedgerEntry struct {
	Customer  string    `json:"customer"`
	Kind      string    `json:"kind"` // charge | refund | adjustment
	Amount    float64   `json:"amount"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const maxLedgerEntries = 10000

// Finance оценка стоимости, лимиты клиентов и журнал списаний
type Finance struct {
	*BaseAgent

	pricing   map[domain.ComplexityTier]float64
	maxAmount float64

	mu         sync.RWMutex
	balances   map[string]float64
	spent      map[string]float64
	waived     map[string]time.Time
	ledger     []LedgerEntry
	fraudWatch time.Time
}

func NewFinance(deps Deps, settings Settings) *Finance {
	pricing := settings.Pricing
	if len(pricing) == 0 {
		pricing = DefaultSettings().Pricing
	}
	a := &Finance{
		BaseAgent: newBase(domain.AgentFinance, deps, settings),
		pricing:   pricing,
		maxAmount: settings.MaxTransactionAmount,
		balances:  make(map[string]float64),
		spent:     make(map[string]float64),
		waived:    make(map[string]time.Time),
	}
	a.SetIntervention(
		func(i domain.Insight) bool {
			return i.Type == domain.InsightError || (i.Type == domain.InsightWarning && i.Relevance >= 0.8)
		},
		func(i domain.Insight) {
			a.Emit(domain.EventBudgetExceeded, i.Data)
		},
	)
	a.AddMonitor(Monitor{Name: "budget", Interval: 5 * time.Minute, Check: a.checkBudgets})
	a.HandleSystem("status", func(context.Context, *domain.Request) (interface{}, error) { return a.Status(), nil })
	a.HandleSystem("billing_report", func(context.Context, *domain.Request) (interface{}, error) {
		return a.Report(), nil
	})
	return a
}

// Price цена capability: админская цена приоритетнее тарифа по сложности
func (a *Finance) Price(capID string) float64 {
	if a.deps.Overrides != nil {
		if e, ok := a.deps.Overrides.Get(domain.SkillPriceKey(capID)); ok {
			if p, ok := asFloat(e.Value); ok {
				return p
			}
		}
	}
	tier := domain.TierStandard
	if a.deps.Catalog != nil {
		if c, ok := a.deps.Catalog.Get(capID); ok && c.ComplexityTier != "" {
			tier = c.ComplexityTier
		}
	}
	return a.pricing[tier]
}

// EstimateCost информационная оценка; никогда не блокирует запрос
func (a *Finance) EstimateCost(_ context.Context, req *domain.Request) float64 {
	if a.isWaived(req.Context.Principal()) {
		return 0
	}
	var cost float64
	switch req.Kind {
	case domain.KindCapability:
		cost = a.Price(req.Action)
	case domain.KindWorkflow:
		if req.Workflow != nil {
			for _, s := range req.Workflow.Steps {
				cost += a.Price(s.CapabilityID)
			}
		}
	case domain.KindSystem:
		return 0
	}
	switch req.Context.Priority {
	case domain.PriorityCritical:
		cost *= 2
	case domain.PriorityHigh:
		cost *= 1.5
	}
	return cost
}

// Validate сумма операции не должна превышать лимит клиента
func (a *Finance) Validate(_ context.Context, req *domain.Request) domain.Verdict {
	amount, ok := floatParam(req.Params, "amount")
	if !ok {
		return domain.Approve()
	}
	if amount < 0 {
		return domain.Reject("amount must not be negative")
	}
	limit := a.limitFor(req.Context.Principal())
	if limit > 0 && amount > limit {
		return domain.Reject(fmt.Sprintf("amount %.2f exceeds limit %.2f", amount, limit))
	}
	a.mu.RLock()
	watching := time.Now().Before(a.fraudWatch)
	a.mu.RUnlock()
	if watching && amount > a.maxAmount/10 {
		return domain.Reject("large transactions are on hold while a threat is active")
	}
	return domain.Approve()
}

func (a *Finance) limitFor(principal string) float64 {
	if a.deps.Overrides != nil && principal != "" {
		if e, ok := a.deps.Overrides.Get(domain.CustomerLimitKey(principal)); ok {
			if l, ok := asFloat(e.Value); ok {
				return l
			}
		}
	}
	return a.maxAmount
}

func (a *Finance) isWaived(principal string) bool {
	if principal == "" {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	until, ok := a.waived[principal]
	return ok && time.Now().Before(until)
}

func (a *Finance) HandleExternalEvent(_ context.Context, ev domain.Event) {
	a.observe(ev)
	switch ev.Name {
	case domain.EventRequestCompleted:
		ok, _ := ev.Payload["success"].(bool)
		cost, _ := asFloat(ev.Payload["cost"])
		principal, _ := ev.Payload["principal"].(string)
		if ok && cost > 0 && principal != "" && !a.isWaived(principal) {
			a.charge(principal, cost)
		}
	case domain.EventThreatDetected:
		a.mu.Lock()
		a.fraudWatch = time.Now().Add(15 * time.Minute)
		a.mu.Unlock()
		a.Record(domain.InsightWarning, "Threat reported",
			"large transactions are held for review", 0.6, ev.Payload)
	default:
		a.received(ev)
	}
}

func (a *Finance) charge(customer string, amount float64) {
	a.mu.Lock()
	a.balances[customer] -= amount
	a.spent[customer] += amount
	a.appendLedger(LedgerEntry{Customer: customer, Kind: "charge", Amount: amount})
	a.mu.Unlock()
}

// Refund возврат средств клиенту
func (a *Finance) Refund(customer string, amount float64, reason string) (float64, error) {
	if customer == "" || amount <= 0 {
		return 0, domain.Errorf(domain.ErrValidation, "refund requires a customer and a positive amount")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balances[customer] += amount
	a.spent[customer] -= amount
	if a.spent[customer] < 0 {
		a.spent[customer] = 0
	}
	a.appendLedger(LedgerEntry{Customer: customer, Kind: "refund", Amount: amount, Reason: reason})
	a.logger.Info("refund issued", zap.String("customer", customer), zap.Float64("amount", amount))
	return a.balances[customer], nil
}

// AdjustBalance ручная корректировка баланса (delta может быть отрицательной)
func (a *Finance) AdjustBalance(customer string, delta float64, reason string) (float64, error) {
	if customer == "" {
		return 0, domain.Errorf(domain.ErrValidation, "balance adjustment requires a customer")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balances[customer] += delta
	a.appendLedger(LedgerEntry{Customer: customer, Kind: "adjustment", Amount: delta, Reason: reason})
	return a.balances[customer], nil
}

// WaiveFees обнуляет стоимость запросов клиента на период
func (a *Finance) WaiveFees(customer string, period time.Duration) (time.Time, error) {
	if customer == "" || period <= 0 {
		return time.Time{}, domain.Errorf(domain.ErrValidation, "fee waiver requires a customer and a positive period")
	}
	until := time.Now().Add(period)
	a.mu.Lock()
	a.waived[customer] = until
	a.mu.Unlock()
	return until, nil
}

func (a *Finance) Balance(customer string) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.balances[customer]
}

// Ledger движения клиента (пустой customer - все)
func (a *Finance) Ledger(customer string) []LedgerEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []LedgerEntry
	for _, e := range a.ledger {
		if customer == "" || e.Customer == customer {
			out = append(out, e)
		}
	}
	return out
}

func (a *Finance) appendLedger(e LedgerEntry) {
	e.Timestamp = time.Now().UTC()
	a.ledger = append(a.ledger, e)
	if over := len(a.ledger) - maxLedgerEntries; over > 0 {
		a.ledger = append([]LedgerEntry(nil), a.ledger[over:]...)
	}
}

// checkBudgets монитор: траты клиента выше его лимита
func (a *Finance) checkBudgets(context.Context) {
	a.mu.RLock()
	customers := make([]string, 0, len(a.spent))
	for c := range a.spent {
		customers = append(customers, c)
	}
	a.mu.RUnlock()
	sort.Strings(customers)

	for _, c := range customers {
		limit := a.limitFor(c)
		a.mu.RLock()
		spent := a.spent[c]
		a.mu.RUnlock()
		if limit <= 0 || spent <= limit {
			continue
		}
		a.Record(domain.InsightWarning, "Budget exceeded",
			fmt.Sprintf("customer %s spent %.2f of %.2f", c, spent, limit), 0.85,
			map[string]interface{}{"customer": c, "spent": spent, "limit": limit})
	}
}

func (a *Finance) Report() map[string]interface{} {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var total float64
	for _, s := range a.spent {
		total += s
	}
	return map[string]interface{}{
		"customers":      len(a.balances),
		"total_spent":    total,
		"ledger_entries": len(a.ledger),
		"waivers":        len(a.waived),
	}
}

func (a *Finance) Status() domain.AgentStatus {
	st := a.BaseAgent.Status()
	for k, v := range a.Report() {
		st.Details[k] = v
	}
	return st
}
