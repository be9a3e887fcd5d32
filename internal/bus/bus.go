package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/spaceai-governance/internal/domain"
	"go.uber.org/zap"
)

const defaultInboxCapacity = 64

// Handler получатель событий (доменный агент)
type Handler interface {
	HandleExternalEvent(ctx context.Context, ev domain.Event)
}

// Forwarder зеркалирует события за пределы процесса (Redis Pub/Sub)
type Forwarder interface {
	Forward(ctx context.Context, ev domain.Event) error
}

// Observer счетчики доставки (prometheus)
type Observer interface {
	EventDelivered(name domain.EventName, target domain.AgentID)
	EventDropped(name domain.EventName, target domain.AgentID)
}

type Option func(*Bus)

func WithInboxCapacity(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.capacity = n
		}
	}
}

func WithRoutes(routes map[domain.EventName][]domain.AgentID) Option {
	return func(b *Bus) { b.routes = routes }
}

func WithForwarder(f Forwarder) Option {
	return func(b *Bus) { b.forwarder = f }
}

func WithObserver(o Observer) Option {
	return func(b *Bus) { b.observer = o }
}

type inbox struct {
	id      domain.AgentID
	ch      chan domain.Event
	handler Handler
}

// Bus межагентная шина: у каждого подписчика свой буферизированный inbox
// и своя горутина-обработчик. Emit никогда не блокируется.
type Bus struct {
	mu     sync.RWMutex
	inbox  map[domain.AgentID]*inbox
	routes map[domain.EventName][]domain.AgentID
	closed bool

	capacity  int
	forwarder Forwarder
	observer  Observer
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(logger *zap.Logger, opts ...Option) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		inbox:    make(map[domain.AgentID]*inbox),
		routes:   DefaultRoutes(),
		capacity: defaultInboxCapacity,
		logger:   logger.Named("bus"),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Subscribe регистрирует агента и запускает его обработчик.
func (b *Bus) Subscribe(id domain.AgentID, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("bus: closed")
	}
	if _, exists := b.inbox[id]; exists {
		return fmt.Errorf("bus: agent %s already subscribed", id)
	}
	in := &inbox{id: id, ch: make(chan domain.Event, b.capacity), handler: h}
	b.inbox[id] = in

	b.wg.Add(1)
	go b.drain(in)
	return nil
}

// Targets получатели события с учетом исключения источника
func (b *Bus) Targets(source domain.AgentID, name domain.EventName) []domain.AgentID {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.targets(source, name)
}

func (b *Bus) targets(source domain.AgentID, name domain.EventName) []domain.AgentID {
	route := b.routes[name]
	out := make([]domain.AgentID, 0, len(route))
	for _, id := range route {
		if id != source {
			out = append(out, id)
		}
	}
	return out
}

// Emit рассылает событие без ожидания обработчиков. Возвращает число
// поставленных в очередь доставок; переполненный inbox теряет событие.
func (b *Bus) Emit(source domain.AgentID, name domain.EventName, payload map[string]interface{}) int {
	ev := domain.Event{
		ID:        uuid.NewString(),
		Name:      name,
		Source:    source,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		b.logger.Debug("event emitted after close", zap.String("event", string(name)))
		return 0
	}
	queued := 0
	for _, target := range b.targets(source, name) {
		in, ok := b.inbox[target]
		if !ok {
			continue
		}
		select {
		case in.ch <- ev:
			queued++
		default:
			b.logger.Warn("agent inbox full, event dropped",
				zap.String("event", string(name)),
				zap.String("target", string(target)),
				zap.String("source", string(source)))
			if b.observer != nil {
				b.observer.EventDropped(name, target)
			}
		}
	}
	b.mu.RUnlock()

	if b.forwarder != nil {
		go func() {
			ctx, cancel := context.WithTimeout(b.ctx, 2*time.Second)
			defer cancel()
			if err := b.forwarder.Forward(ctx, ev); err != nil {
				b.logger.Debug("event forward failed", zap.String("event", string(name)), zap.Error(err))
			}
		}()
	}
	return queued
}

func (b *Bus) drain(in *inbox) {
	defer b.wg.Done()
	for ev := range in.ch {
		b.deliver(in, ev)
	}
}

// deliver паника обработчика не должна останавливать inbox
func (b *Bus) deliver(in *inbox, ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("agent", string(in.id)),
				zap.String("event", string(ev.Name)),
				zap.Any("panic", r))
		}
	}()
	in.handler.HandleExternalEvent(b.ctx, ev)
	if b.observer != nil {
		b.observer.EventDelivered(ev.Name, in.id)
	}
}

// Close закрывает inbox-ы и ждет, пока обработчики разберут очередь
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, in := range b.inbox {
		close(in.ch)
	}
	b.mu.Unlock()

	b.wg.Wait()
	b.cancel()
	b.logger.Info("event bus stopped")
}
