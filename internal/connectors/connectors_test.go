package connectors

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xela07ax/spaceai-governance/internal/domain"
)

func fastSettings() ReliabilitySettings {
	s := DefaultReliabilitySettings()
	s.RateLimit = 1000
	s.RateBurst = 1000
	s.AttemptTimeout = time.Second
	return s
}

func inv(capID string) domain.Invocation {
	return domain.Invocation{CapabilityID: capID, RequestID: "r-1", Params: domain.Payload{"amount": 10.0}}
}

func TestRouter(t *testing.T) {
	var hits []string
	named := func(name string) Invoker {
		return InvokerFunc(func(context.Context, domain.Invocation) (*domain.CapabilityOutput, error) {
			hits = append(hits, name)
			return &domain.CapabilityOutput{Success: true}, nil
		})
	}
	r := NewRouter(named("fallback"))
	r.Handle("stripe_payment", named("stripe"))

	_, err := r.Invoke(context.Background(), inv("stripe_payment"))
	require.NoError(t, err)
	_, err = r.Invoke(context.Background(), inv("email_composer"))
	require.NoError(t, err)
	assert.Equal(t, []string{"stripe", "fallback"}, hits)

	_, err = NewRouter(nil).Invoke(context.Background(), inv("email_composer"))
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestMockConnector(t *testing.T) {
	m := &MockConnector{}

	out, err := m.Invoke(context.Background(), inv("stripe_payment"))
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "charged", out.Data.(map[string]interface{})["status"])

	_, err = m.Invoke(context.Background(), inv("unstable_service"))
	assert.Error(t, err)

	slow := &MockConnector{MinLatency: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = slow.Invoke(ctx, inv("stripe_payment"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReliabilityRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	next := InvokerFunc(func(context.Context, domain.Invocation) (*domain.CapabilityOutput, error) {
		if calls.Add(1) < 3 {
			return nil, &ThrottleError{RetryAfter: time.Millisecond, Cause: errors.New("busy")}
		}
		return &domain.CapabilityOutput{Success: true}, nil
	})
	w := NewReliabilityWrapper(next, fastSettings(), zaptest.NewLogger(t))

	ctx, retries := WithRetryCounter(context.Background())
	out, err := w.Invoke(ctx, inv("stripe_payment"))
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.EqualValues(t, 3, calls.Load())
	assert.EqualValues(t, 2, retries.Load())
}

func TestReliabilitySkipsRetryForValidation(t *testing.T) {
	var calls atomic.Int32
	next := InvokerFunc(func(context.Context, domain.Invocation) (*domain.CapabilityOutput, error) {
		calls.Add(1)
		return nil, domain.Errorf(domain.ErrValidation, "bad params")
	})
	w := NewReliabilityWrapper(next, fastSettings(), zaptest.NewLogger(t))

	_, err := w.Invoke(context.Background(), inv("stripe_payment"))
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
	// Валидационная ошибка не размыкает предохранитель
	assert.Equal(t, "closed", w.BreakerStates()["stripe_payment"])
}

func TestReliabilityBreakerOpens(t *testing.T) {
	s := fastSettings()
	s.RetryAttempts = 1
	s.CBMaxFailures = 1
	s.CBTimeout = time.Minute

	var calls atomic.Int32
	next := InvokerFunc(func(context.Context, domain.Invocation) (*domain.CapabilityOutput, error) {
		calls.Add(1)
		return nil, errors.New("connection refused")
	})
	w := NewReliabilityWrapper(next, s, zaptest.NewLogger(t))

	var opened []string
	w.OnBreakerChange(func(capID string, open bool) {
		if open {
			opened = append(opened, capID)
		}
	})

	for i := 0; i < 2; i++ {
		_, err := w.Invoke(context.Background(), inv("sms_sender"))
		require.Error(t, err)
	}
	assert.Equal(t, []string{"sms_sender"}, opened)
	assert.Equal(t, "open", w.BreakerStates()["sms_sender"])

	// Открытый предохранитель не пропускает вызов к коннектору
	_, err := w.Invoke(context.Background(), inv("sms_sender"))
	require.Error(t, err)
	assert.EqualValues(t, 2, calls.Load())

	// Другие capability не затронуты
	_, err = w.Invoke(context.Background(), inv("email_composer"))
	require.Error(t, err)
	assert.EqualValues(t, 3, calls.Load())
}

// connStub ClientConnInterface без сети
type connStub struct {
	method string
	req    *structpb.Struct
	reply  map[string]interface{}
	err    error
}

func (c *connStub) Invoke(_ context.Context, method string, args, reply interface{}, _ ...grpc.CallOption) error {
	c.method = method
	c.req = args.(*structpb.Struct)
	if c.err != nil {
		return c.err
	}
	s, err := structpb.NewStruct(c.reply)
	if err != nil {
		return err
	}
	proto.Merge(reply.(*structpb.Struct), s)
	return nil
}

func (c *connStub) NewStream(context.Context, *grpc.StreamDesc, string, ...grpc.CallOption) (grpc.ClientStream, error) {
	return nil, errors.New("streams are not supported")
}

func TestGRPCAdapter(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		conn := &connStub{reply: map[string]interface{}{"result": map[string]interface{}{"status": "charged"}}}
		out, err := NewGRPCAdapter(conn, "governor").Invoke(context.Background(), inv("stripe_payment"))
		require.NoError(t, err)
		assert.True(t, out.Success)
		assert.Equal(t, "charged", out.Data.(map[string]interface{})["status"])

		assert.Equal(t, ConnectorExecuteMethod, conn.method)
		req := conn.req.AsMap()
		assert.Equal(t, "stripe_payment", req["capability_id"])
		assert.Equal(t, 10.0, req["payload"].(map[string]interface{})["amount"])
		assert.Equal(t, "governor", req["metadata"].(map[string]interface{})["source"])
	})

	t.Run("status code in body", func(t *testing.T) {
		conn := &connStub{reply: map[string]interface{}{"status_code": 402, "error_message": "card declined"}}
		out, err := NewGRPCAdapter(conn, "governor").Invoke(context.Background(), inv("stripe_payment"))
		require.NoError(t, err)
		assert.False(t, out.Success)
		assert.Contains(t, out.Error, "card declined")
	})

	t.Run("throttled", func(t *testing.T) {
		conn := &connStub{err: status.Error(codes.ResourceExhausted, "slow down")}
		_, err := NewGRPCAdapter(conn, "governor").Invoke(context.Background(), inv("stripe_payment"))
		var tErr *ThrottleError
		require.ErrorAs(t, err, &tErr)
		assert.Equal(t, time.Second, tErr.RetryAfter)
	})

	t.Run("unrepresentable params", func(t *testing.T) {
		bad := inv("stripe_payment")
		bad.Params = domain.Payload{"ch": make(chan int)}
		_, err := NewGRPCAdapter(&connStub{}, "governor").Invoke(context.Background(), bad)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}
