package connectors

import (
	"context"
	"fmt"
	"time"

	"github.com/xela07ax/spaceai-governance/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ConnectorExecuteMethod полный путь метода на стороне коннектора.
// Сообщения передаются как google.protobuf.Struct, поэтому сгенерированный клиент не нужен.
const ConnectorExecuteMethod = "/connector.v1.ConnectorService/Execute"

const defaultCallTimeout = 15 * time.Second

type GRPCAdapter struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
	source  string
}

// NewGRPCAdapter создает экземпляр адаптера
func NewGRPCAdapter(conn grpc.ClientConnInterface, source string) *GRPCAdapter {
	return &GRPCAdapter{
		conn:    conn,
		timeout: defaultCallTimeout,
		source:  source,
	}
}

// Invoke реализует Invoker поверх внешнего gRPC коннектора
func (a *GRPCAdapter) Invoke(ctx context.Context, inv domain.Invocation) (*domain.CapabilityOutput, error) {
	// 1. Параметры в Protobuf Struct
	payload, err := structpb.NewStruct(inv.Params)
	if err != nil {
		return nil, domain.Errorf(domain.ErrValidation, "params are not representable as struct: %v", err)
	}

	req, err := structpb.NewStruct(map[string]interface{}{
		"capability_id": inv.CapabilityID,
		"request_id":    inv.RequestID,
		"metadata": map[string]interface{}{
			"source":     a.source,
			"user_id":    inv.Context.UserID,
			"session_id": inv.Context.SessionID,
			"priority":   string(inv.Context.Priority),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Fields["payload"] = structpb.NewStructValue(payload)

	// 2. Защитный таймаут на уровне вызова, даже если ReliabilityWrapper задал свой
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	// 3. Вызов коннектора
	resp := &structpb.Struct{}
	if err := a.conn.Invoke(ctx, ConnectorExecuteMethod, req, resp); err != nil {
		if status.Code(err) == codes.ResourceExhausted {
			return nil, &ThrottleError{RetryAfter: time.Second, Cause: err}
		}
		return nil, fmt.Errorf("connector call failed: %w", err)
	}

	// 4. Статус внутри ответа
	fields := resp.AsMap()
	if code, _ := fields["status_code"].(float64); code != 0 {
		msg, _ := fields["error_message"].(string)
		return &domain.CapabilityOutput{
			Success:  false,
			Error:    fmt.Sprintf("connector returned error [%d]: %s", int(code), msg),
			Metadata: domain.NewCapabilityMetadata(inv.CapabilityID, inv.CapabilityID),
		}, nil
	}

	data, _ := fields["result"].(map[string]interface{})
	return &domain.CapabilityOutput{
		Success:  true,
		Data:     data,
		Metadata: domain.NewCapabilityMetadata(inv.CapabilityID, inv.CapabilityID),
	}, nil
}
