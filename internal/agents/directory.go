package agents

import (
	"context"

	"github.com/xela07ax/spaceai-governance/internal/domain"
)

// Directory все доменные агенты процесса; конструируется явно и передается зависимостью
type Directory struct {
	finance        *Finance
	operations     *Operations
	security       *Security
	infrastructure *Infrastructure
	compliance     *Compliance
	integration    *Integration
	analytics      *Analytics
	communications *Communications

	byID map[domain.AgentID]Agent
}

func NewDirectory(deps Deps, settings Settings) *Directory {
	d := &Directory{
		finance:        NewFinance(deps, settings),
		operations:     NewOperations(deps, settings),
		security:       NewSecurity(deps, settings),
		infrastructure: NewInfrastructure(deps, settings),
		compliance:     NewCompliance(deps, settings),
		integration:    NewIntegration(deps, settings),
		analytics:      NewAnalytics(deps, settings),
		communications: NewCommunications(deps, settings),
	}
	d.byID = map[domain.AgentID]Agent{
		domain.AgentFinance:        d.finance,
		domain.AgentOperations:     d.operations,
		domain.AgentSecurity:       d.security,
		domain.AgentInfrastructure: d.infrastructure,
		domain.AgentCompliance:     d.compliance,
		domain.AgentIntegration:    d.integration,
		domain.AgentAnalytics:      d.analytics,
		domain.AgentCommunications: d.communications,
	}
	return d
}

func (d *Directory) Get(id domain.AgentID) (Agent, bool) {
	a, ok := d.byID[id]
	return a, ok
}

// All в порядке domain.AllAgents()
func (d *Directory) All() []Agent {
	out := make([]Agent, 0, len(d.byID))
	for _, id := range domain.AllAgents() {
		out = append(out, d.byID[id])
	}
	return out
}

func (d *Directory) Finance() *Finance               { return d.finance }
func (d *Directory) Operations() *Operations         { return d.operations }
func (d *Directory) Security() *Security             { return d.security }
func (d *Directory) Infrastructure() *Infrastructure { return d.infrastructure }
func (d *Directory) Compliance() *Compliance         { return d.compliance }
func (d *Directory) Integration() *Integration       { return d.integration }
func (d *Directory) Analytics() *Analytics           { return d.analytics }
func (d *Directory) Communications() *Communications { return d.communications }

func (d *Directory) StartAll(ctx context.Context) {
	for _, a := range d.All() {
		a.Start(ctx)
	}
}

func (d *Directory) StopAll() {
	for _, a := range d.All() {
		a.Stop()
	}
}

func (d *Directory) ShutdownAll() {
	for _, a := range d.All() {
		a.Shutdown()
	}
}

func (d *Directory) Statuses() []domain.AgentStatus {
	out := make([]domain.AgentStatus, 0, len(d.byID))
	for _, a := range d.All() {
		out = append(out, a.Status())
	}
	return out
}
