package agents

import (
	"context"
	"sync"
	"testing"

	"github.com/xela07ax/spaceai-governance/internal/connectors"
	"github.com/xela07ax/spaceai-governance/internal/domain"
	"go.uber.org/zap/zaptest"
)

type emitted struct {
	source domain.AgentID
	name   domain.EventName
	data   map[string]interface{}
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (f *fakeEmitter) Emit(source domain.AgentID, name domain.EventName, payload map[string]interface{}) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emitted{source: source, name: name, data: payload})
	return 1
}

func (f *fakeEmitter) named(name domain.EventName) []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emitted
	for _, e := range f.events {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

type fakeOverrides map[string]interface{}

func (f fakeOverrides) Get(key string) (domain.OverrideEntry, bool) {
	v, ok := f[key]
	if !ok {
		return domain.OverrideEntry{}, false
	}
	return domain.OverrideEntry{Key: key, Value: v, SetBy: domain.OverrideSetByAdmin}, true
}

type fakeCatalog map[string]domain.Capability

func (f fakeCatalog) Get(id string) (domain.Capability, bool) {
	c, ok := f[id]
	return c, ok
}

func testDeps(t *testing.T, inv connectors.Invoker) (Deps, *fakeEmitter) {
	t.Helper()
	em := &fakeEmitter{}
	return Deps{
		Invoker:   inv,
		Events:    em,
		Catalog:   fakeCatalog{},
		Overrides: fakeOverrides{},
		Logger:    zaptest.NewLogger(t),
	}, em
}

func okInvoker(data interface{}) connectors.Invoker {
	return connectors.InvokerFunc(func(_ context.Context, inv domain.Invocation) (*domain.CapabilityOutput, error) {
		return &domain.CapabilityOutput{Success: true, Data: data, Metadata: domain.NewCapabilityMetadata(inv.CapabilityID, inv.CapabilityID)}, nil
	})
}

func capabilityRequest(action string, params domain.Payload) *domain.Request {
	return &domain.Request{
		ID:      "req-1",
		Kind:    domain.KindCapability,
		Action:  action,
		Params:  params,
		Context: domain.RequestContext{UserID: "u-1", LicenseKey: "lic-1", Priority: domain.PriorityNormal},
	}
}
