package audit

/*
Trail асинхронный писатель аудита: горячий путь пайплайна только кладет запись
в буферизированный канал, фоновый воркер пишет пачками (100 записей или по таймеру).
Stop закрывает канал и ждет финальный flush, записи не теряются при остановке.
*/

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultBufferSize    = 10000
	defaultBatchSize     = 100
	defaultFlushInterval = 500 * time.Millisecond
)

// Sink куда физически сохраняются записи (Postgres)
type Sink interface {
	// WriteBatch сохраняет пачку записей за один раз
	WriteBatch(ctx context.Context, records []Record) error
}

// Recorder то, что нужно производителям записей
type Recorder interface {
	Record(rec Record)
}

// Gauge заполненность буфера (backpressure)
type Gauge interface {
	Set(float64)
}

type Option func(*Trail)

func WithBufferSize(n int) Option {
	return func(t *Trail) {
		if n > 0 {
			t.bufferSize = n
		}
	}
}

func WithFlushInterval(d time.Duration) Option {
	return func(t *Trail) {
		if d > 0 {
			t.flushInterval = d
		}
	}
}

func WithBufferGauge(g Gauge) Option {
	return func(t *Trail) { t.gauge = g }
}

type Trail struct {
	ch     chan Record
	sink   Sink
	logger *zap.Logger
	gauge  Gauge

	bufferSize    int
	flushInterval time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewTrail(sink Sink, logger *zap.Logger, opts ...Option) *Trail {
	t := &Trail{
		sink:          sink,
		logger:        logger.Named("audit"),
		bufferSize:    defaultBufferSize,
		flushInterval: defaultFlushInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	t.ch = make(chan Record, t.bufferSize)
	return t
}

func (t *Trail) Start() {
	t.wg.Add(1)
	go t.worker()
}

// Stop запирает вход и ждет, пока воркер всё допишет
func (t *Trail) Stop() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.logger.Info("stopping audit trail: closing channel and flushing buffer")
	close(t.ch)
	t.mu.Unlock()

	t.wg.Wait()
	t.logger.Info("audit trail stopped gracefully")
}

// Record неблокирующая постановка в очередь; при переполнении запись сбрасывается в лог
func (t *Trail) Record(rec Record) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.RecordedAt = time.Now().UTC()
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = rec.RecordedAt
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		t.logger.Warn("audit record dropped: trail is stopping", zap.String("id", rec.ID))
		return
	}

	select {
	case t.ch <- rec:
		if t.gauge != nil {
			t.gauge.Set(float64(len(t.ch)))
		}
	default:
		// Load shedding: запись уходит только в лог
		t.logger.Error("audit_buffer_overflow",
			zap.String("action", rec.Action),
			zap.String("request_id", rec.RequestID),
			zap.String("principal", rec.Principal))
	}
}

func (t *Trail) worker() {
	defer t.wg.Done()

	batch := make([]Record, 0, defaultBatchSize)
	ticker := time.NewTicker(t.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст может быть уже закрыт
		if err := t.sink.WriteBatch(context.Background(), batch); err != nil {
			t.logger.Error("audit flush failed", zap.Int("records", len(batch)), zap.Error(err))
		}
		batch = make([]Record, 0, defaultBatchSize)
		if t.gauge != nil {
			t.gauge.Set(float64(len(t.ch)))
		}
	}

	for {
		select {
		case rec, ok := <-t.ch:
			if !ok {
				flush() // Финальный сброс
				t.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, rec)
			if len(batch) >= defaultBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// LogSink пишет записи в лог (когда база не настроена)
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) WriteBatch(_ context.Context, records []Record) error {
	for _, r := range records {
		s.Logger.Info("audit",
			zap.String("action", r.Action),
			zap.String("resource_type", r.ResourceType),
			zap.String("resource_id", r.ResourceID),
			zap.String("principal", r.Principal),
			zap.Time("occurred_at", r.OccurredAt))
	}
	return nil
}
