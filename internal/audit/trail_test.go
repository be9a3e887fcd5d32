package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type memSink struct {
	mu      sync.Mutex
	batches [][]Record
	err     error
}

func (m *memSink) WriteBatch(_ context.Context, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, append([]Record(nil), records...))
	return m.err
}

func (m *memSink) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

func TestTrail_StopFlushesEverything(t *testing.T) {
	sink := &memSink{}
	trail := NewTrail(sink, zaptest.NewLogger(t), WithFlushInterval(time.Hour))
	trail.Start()

	for i := 0; i < 250; i++ {
		trail.Record(Record{Action: "execute", ResourceType: ResourceRequest})
	}
	trail.Stop()

	assert.Equal(t, 250, sink.total())
	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.batches, 3)
	assert.Len(t, sink.batches[0], 100)
	assert.Len(t, sink.batches[2], 50)
	assert.NotEmpty(t, sink.batches[0][0].ID)
	assert.False(t, sink.batches[0][0].RecordedAt.IsZero())
}

func TestTrail_FlushesOnTicker(t *testing.T) {
	sink := &memSink{}
	trail := NewTrail(sink, zaptest.NewLogger(t), WithFlushInterval(10*time.Millisecond))
	trail.Start()
	defer trail.Stop()

	trail.Record(Record{Action: "refund", ResourceType: ResourceAdmin})
	require.Eventually(t, func() bool { return sink.total() == 1 }, time.Second, 5*time.Millisecond)
}

func TestTrail_RecordAfterStopIsDropped(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	sink := &memSink{}
	trail := NewTrail(sink, zap.New(core))
	trail.Start()
	trail.Stop()
	trail.Stop() // идемпотентно

	trail.Record(Record{Action: "execute"})
	assert.Zero(t, sink.total())
	assert.Equal(t, 1, logs.FilterMessage("audit record dropped: trail is stopping").Len())
}

func TestTrail_OverflowShedsLoad(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	trail := NewTrail(&memSink{}, zap.New(core), WithBufferSize(2))
	// воркер не запущен: буфер заполняется

	for i := 0; i < 5; i++ {
		trail.Record(Record{Action: "execute"})
	}
	assert.Equal(t, 3, logs.FilterMessage("audit_buffer_overflow").Len())
}

func TestTrail_SinkErrorIsLogged(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	trail := NewTrail(&memSink{err: errors.New("db down")}, zap.New(core))
	trail.Start()
	trail.Record(Record{Action: "execute"})
	trail.Stop()
	assert.Equal(t, 1, logs.FilterMessage("audit flush failed").Len())
}
