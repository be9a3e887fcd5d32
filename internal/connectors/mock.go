package connectors

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/xela07ax/spaceai-governance/internal/domain"
)

// MockConnector имитация внешних коллабораторов для локального запуска и тестов
type MockConnector struct {
	MinLatency time.Duration
	MaxLatency time.Duration
}

func NewMockConnector() *MockConnector {
	return &MockConnector{MinLatency: 50 * time.Millisecond, MaxLatency: 300 * time.Millisecond}
}

func (c *MockConnector) Invoke(ctx context.Context, inv domain.Invocation) (*domain.CapabilityOutput, error) {
	latency := c.MinLatency
	if spread := c.MaxLatency - c.MinLatency; spread > 0 {
		latency += time.Duration(rand.Int64N(int64(spread)))
	}

	select {
	case <-time.After(latency):
		// Имитация работы
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	meta := domain.NewCapabilityMetadata(inv.CapabilityID, inv.CapabilityID)

	switch inv.CapabilityID {
	case "unstable_service":
		return nil, fmt.Errorf("service internal error")
	case "stripe_payment":
		return &domain.CapabilityOutput{Success: true, Metadata: meta, Data: map[string]interface{}{
			"status": "charged", "amount": inv.Params["amount"], "provider": "stripe",
		}}, nil
	case "email_composer":
		return &domain.CapabilityOutput{Success: true, Metadata: meta, Data: map[string]interface{}{
			"status": "composed", "to": inv.Params["to"],
		}}, nil
	case "sms_sender":
		return &domain.CapabilityOutput{Success: true, Metadata: meta, Data: map[string]interface{}{
			"status": "sent", "to": inv.Params["phone"],
		}}, nil
	case "vulnerability_scan":
		return &domain.CapabilityOutput{Success: true, Metadata: meta, Data: map[string]interface{}{
			"status": "clean", "findings": 0,
		}}, nil
	case "invoice_generator":
		return &domain.CapabilityOutput{Success: true, Metadata: meta, Data: map[string]interface{}{
			"status": "generated", "invoice_id": "INV-" + inv.RequestID,
		}}, nil
	default:
		// Прочие capability отвечают эхом параметров
		return &domain.CapabilityOutput{Success: true, Metadata: meta, Data: map[string]interface{}{
			"status": "ok", "echo": map[string]interface{}(inv.Params),
		}}, nil
	}
}
