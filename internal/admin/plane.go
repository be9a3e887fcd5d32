package admin

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/xela07ax/spaceai-governance/internal/agents"
	"github.com/xela07ax/spaceai-governance/internal/audit"
	"github.com/xela07ax/spaceai-governance/internal/domain"
	"github.com/xela07ax/spaceai-governance/internal/engine"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// CommandName закрытый набор административных команд
type CommandName string

const (
	CmdEmergencyStop      CommandName = "EMERGENCY_STOP"
	CmdMaintenanceMode    CommandName = "MAINTENANCE_MODE"
	CmdSystemStatus       CommandName = "SYSTEM_STATUS"
	CmdOverrideDecision   CommandName = "OVERRIDE_DECISION"
	CmdConfigureAgent     CommandName = "CONFIGURE_AGENT"
	CmdDisableAgent       CommandName = "DISABLE_AGENT"
	CmdEnableAgent        CommandName = "ENABLE_AGENT"
	CmdUpdateSkillsMatrix CommandName = "UPDATE_SKILLS_MATRIX"
	CmdDisableSkill       CommandName = "DISABLE_SKILL"
	CmdEnableSkill        CommandName = "ENABLE_SKILL"
	CmdSetSkillPricing    CommandName = "SET_SKILL_PRICING"
	CmdSuspendCustomer    CommandName = "SUSPEND_CUSTOMER"
	CmdOverrideLimits     CommandName = "OVERRIDE_LIMITS"
	CmdGrantAccess        CommandName = "GRANT_ACCESS"
	CmdRefund             CommandName = "REFUND"
	CmdAdjustBalance      CommandName = "ADJUST_BALANCE"
	CmdWaiveFees          CommandName = "WAIVE_FEES"
	CmdViewAuditLog       CommandName = "VIEW_AUDIT_LOG"
	CmdExportData         CommandName = "EXPORT_DATA"
	CmdRunDiagnostics     CommandName = "RUN_DIAGNOSTICS"
	CmdForceExecute       CommandName = "FORCE_EXECUTE"
)

// Commands все команды в порядке документации
func Commands() []CommandName {
	return []CommandName{
		CmdEmergencyStop, CmdMaintenanceMode, CmdSystemStatus, CmdOverrideDecision,
		CmdConfigureAgent, CmdDisableAgent, CmdEnableAgent, CmdUpdateSkillsMatrix,
		CmdDisableSkill, CmdEnableSkill, CmdSetSkillPricing, CmdSuspendCustomer,
		CmdOverrideLimits, CmdGrantAccess, CmdRefund, CmdAdjustBalance, CmdWaiveFees,
		CmdViewAuditLog, CmdExportData, CmdRunDiagnostics, CmdForceExecute,
	}
}

const unauthorized = "Unauthorized"

// Command {command, target?, params?, override?}
type Command struct {
	Command  CommandName            `json:"command"`
	Target   string                 `json:"target,omitempty"`
	Params   map[string]interface{} `json:"params,omitempty"`
	Override bool                   `json:"override,omitempty"`
}

// CommandResult ошибки плоскости возвращаются как {error: message}, процесс не падает
type CommandResult struct {
	Success   bool        `json:"success"`
	Command   CommandName `json:"command"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	ErrorKind string      `json:"error_kind,omitempty"`
}

// OverrideStore хранилище override-записей (overrides.Store)
type OverrideStore interface {
	Set(ctx context.Context, key string, value interface{}) domain.OverrideEntry
	Delete(ctx context.Context, key string) bool
	Get(key string) (domain.OverrideEntry, bool)
	Entries() []domain.OverrideEntry
}

type Registry interface {
	Get(id string) (domain.Capability, bool)
	List() []domain.Capability
	SetEnabled(id string, enabled bool) error
	Counts() map[string]int
	Categories() []string
}

type Matrix interface {
	Assign(capID string, primary domain.AgentID, secondary ...domain.AgentID) error
	Owners(capID string) (domain.AgentID, []domain.AgentID, bool)
	Snapshot() map[string][]domain.AgentID
	AgentSkills(agent domain.AgentID) []string
}

// Pipeline то, что плоскость использует у конвейера
type Pipeline interface {
	ForceExecute(ctx context.Context, req *domain.Request) *engine.Result
	Status() engine.Status
	RecentAudit(n int) []domain.AuditEntry
	ActiveIDs() []string
}

type Emitter interface {
	Emit(source domain.AgentID, name domain.EventName, payload map[string]interface{}) int
}

type BreakerSource interface {
	BreakerStates() map[string]string
}

// Observer метрики команд
type Observer interface {
	AdminCommand(command string, ok bool)
}

// Probe проверка внешней зависимости для RUN_DIAGNOSTICS
type Probe func(ctx context.Context) error

type Option func(*Plane)

func WithAuditSink(r audit.Recorder) Option  { return func(p *Plane) { p.sink = r } }
func WithEvents(e Emitter) Option            { return func(p *Plane) { p.events = e } }
func WithBreakers(b BreakerSource) Option    { return func(p *Plane) { p.breakers = b } }
func WithObserver(o Observer) Option         { return func(p *Plane) { p.observer = o } }
func WithArchive(a Archive) Option           { return func(p *Plane) { p.log.archive = a } }
func WithProbe(name string, fn Probe) Option { return func(p *Plane) { p.probes[name] = fn } }

// WithLogLimits порог и размер после обрезки журнала
func WithLogLimits(limit, keep int) Option {
	return func(p *Plane) {
		if limit > 0 && keep > 0 && keep <= limit {
			p.log.max, p.log.keep = limit, keep
		}
	}
}

// Plane административная плоскость: аутентификация мастер-ключом и диспетчер команд
type Plane struct {
	secret string

	overrides OverrideStore
	registry  Registry
	matrix    Matrix
	agents    *agents.Directory
	pipeline  Pipeline

	events   Emitter
	breakers BreakerSource
	sink     audit.Recorder
	observer Observer
	probes   map[string]Probe

	log    *Log
	logger *zap.Logger
}

func NewPlane(secret string, ov OverrideStore, reg Registry, m Matrix, dir *agents.Directory, p Pipeline, logger *zap.Logger, opts ...Option) *Plane {
	logger = logger.Named("admin")
	pl := &Plane{
		secret:    secret,
		overrides: ov,
		registry:  reg,
		matrix:    m,
		agents:    dir,
		pipeline:  p,
		probes:    make(map[string]Probe),
		log:       newLog(logger),
		logger:    logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(pl)
		}
	}
	return pl
}

// Authenticate сравнение за постоянное время; bcrypt, если секрет задан хешем
func (p *Plane) Authenticate(key string) bool {
	if p.secret == "" || key == "" {
		return false
	}
	if strings.HasPrefix(p.secret, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(p.secret), []byte(key)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(p.secret), []byte(key)) == 1
}

// ExecuteMasterCommand проверяет ключ и исполняет команду. Паника в обработчике
// превращается в ошибку результата.
func (p *Plane) ExecuteMasterCommand(ctx context.Context, cmd Command, authKey string) (res CommandResult) {
	res.Command = cmd.Command
	started := time.Now()

	if !p.Authenticate(authKey) {
		p.logger.Warn("unauthorized admin command", zap.String("command", string(cmd.Command)))
		res.Error = unauthorized
		res.ErrorKind = domain.ErrUnauthorizedAdmin.Error()
		p.finish(cmd, res, started)
		return res
	}

	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("admin command panic recovered",
				zap.String("command", string(cmd.Command)),
				zap.Any("panic", rec))
			res = CommandResult{Command: cmd.Command, Error: fmt.Sprintf("command failed: %v", rec), ErrorKind: domain.ErrExecution.Error()}
			p.finish(cmd, res, started)
		}
	}()

	data, err := p.dispatch(ctx, cmd)
	if err != nil {
		res.Error = err.Error()
		res.ErrorKind = domain.KindOf(err)
	} else {
		res.Success = true
		res.Data = data
	}
	p.finish(cmd, res, started)
	return res
}

// finish журнал админа + аудит + метрики
func (p *Plane) finish(cmd Command, res CommandResult, started time.Time) {
	entry := p.log.Append(LogEntry{
		Command:  cmd.Command,
		Target:   cmd.Target,
		Params:   cmd.Params,
		Override: cmd.Override,
		Success:  res.Success,
		Error:    res.Error,
	})
	if p.observer != nil {
		p.observer.AdminCommand(string(cmd.Command), res.Success)
	}
	if p.sink != nil {
		p.sink.Record(audit.Record{
			ID:           entry.ID,
			Action:       string(cmd.Command),
			ResourceType: audit.ResourceAdmin,
			ResourceID:   cmd.Target,
			Principal:    domain.OverrideSetByAdmin,
			Changes: map[string]interface{}{
				"params":      cmd.Params,
				"override":    cmd.Override,
				"success":     res.Success,
				"error":       res.Error,
				"duration_ms": time.Since(started).Milliseconds(),
			},
			OccurredAt: entry.Timestamp,
		})
	}
	if res.Success {
		p.logger.Info("admin command executed",
			zap.String("command", string(cmd.Command)),
			zap.String("target", cmd.Target))
	} else if res.ErrorKind != domain.ErrUnauthorizedAdmin.Error() {
		p.logger.Warn("admin command failed",
			zap.String("command", string(cmd.Command)),
			zap.String("target", cmd.Target),
			zap.String("error", res.Error))
	}
}

// Log журнал административных действий
func (p *Plane) Log() *Log {
	return p.log
}

// setOverride / clearOverride каждое изменение override попадает в аудит отдельной записью
func (p *Plane) setOverride(ctx context.Context, key string, value interface{}) domain.OverrideEntry {
	entry := p.overrides.Set(ctx, key, value)
	p.recordOverride("override_set", key, map[string]interface{}{"value": value})
	return entry
}

func (p *Plane) clearOverride(ctx context.Context, key string) bool {
	existed := p.overrides.Delete(ctx, key)
	if existed {
		p.recordOverride("override_clear", key, nil)
	}
	return existed
}

func (p *Plane) recordOverride(action, key string, changes map[string]interface{}) {
	if p.sink == nil {
		return
	}
	p.sink.Record(audit.Record{
		Action:       action,
		ResourceType: audit.ResourceOverride,
		ResourceID:   key,
		Principal:    domain.OverrideSetByAdmin,
		Changes:      changes,
	})
}
