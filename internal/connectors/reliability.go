package connectors

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/spaceai-governance/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ReliabilitySettings настройки обертки (из engine.* конфига)
type ReliabilitySettings struct {
	RateLimit      float64
	RateBurst      int
	RetryAttempts  uint
	AttemptTimeout time.Duration
	CBMaxRequests  uint32
	CBInterval     time.Duration
	CBTimeout      time.Duration
	CBMaxFailures  uint32
}

func DefaultReliabilitySettings() ReliabilitySettings {
	return ReliabilitySettings{
		RateLimit:      100,
		RateBurst:      20,
		RetryAttempts:  3,
		AttemptTimeout: 10 * time.Second,
		CBMaxRequests:  3,
		CBInterval:     5 * time.Second,
		CBTimeout:      30 * time.Second,
		CBMaxFailures:  5,
	}
}

// BreakerObserver получает смену состояния предохранителя (метрики, integration-агент)
type BreakerObserver func(capID string, open bool)

// ReliabilityWrapper: rate limit -> circuit breaker (на capability) -> retry с таймаутом на попытку.
type ReliabilityWrapper struct {
	next     Invoker
	settings ReliabilitySettings
	limiter  *rate.Limiter
	logger   *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	observe  BreakerObserver
}

func NewReliabilityWrapper(next Invoker, settings ReliabilitySettings, logger *zap.Logger) *ReliabilityWrapper {
	return &ReliabilityWrapper{
		next:     next,
		settings: settings,
		limiter:  rate.NewLimiter(rate.Limit(settings.RateLimit), settings.RateBurst),
		logger:   logger.Named("reliability"),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// OnBreakerChange подписка на смену состояния. Вызывать до начала трафика.
func (w *ReliabilityWrapper) OnBreakerChange(fn BreakerObserver) {
	w.observe = fn
}

// BreakerStates открытые предохранители
func (w *ReliabilityWrapper) BreakerStates() map[string]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]string, len(w.breakers))
	for id, cb := range w.breakers {
		out[id] = cb.State().String()
	}
	return out
}

func (w *ReliabilityWrapper) breaker(capID string) *gobreaker.CircuitBreaker {
	w.mu.Lock()
	defer w.mu.Unlock()
	if cb, ok := w.breakers[capID]; ok {
		return cb
	}
	maxFailures := w.settings.CBMaxFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        capID,
		MaxRequests: w.settings.CBMaxRequests,
		Interval:    w.settings.CBInterval,
		Timeout:     w.settings.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > maxFailures
		},
		// Ошибки конфигурации и валидации не говорят о здоровье коннектора
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrConfiguration) || errors.Is(err, domain.ErrValidation)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			w.logger.Warn("circuit breaker state changed",
				zap.String("capability_id", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			if w.observe != nil {
				w.observe(name, to == gobreaker.StateOpen)
			}
		},
	})
	w.breakers[capID] = cb
	return cb
}

func (w *ReliabilityWrapper) Invoke(ctx context.Context, inv domain.Invocation) (*domain.CapabilityOutput, error) {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}

	// 2. Circuit Breaker
	cbResult, err := w.breaker(inv.CapabilityID).Execute(func() (interface{}, error) {
		var out *domain.CapabilityOutput
		attempt := 0

		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(w.settings.RetryAttempts),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Коннектор сообщил Retry-After
				if d, ok := retryAfter(err); ok {
					return d
				}
				return retry.BackOffDelay(n, err, config)
			}),
			retry.RetryIf(func(err error) bool {
				// Ошибки конфигурации/валидации повторять бессмысленно
				return !errors.Is(err, domain.ErrConfiguration) && !errors.Is(err, domain.ErrValidation)
			}),
		)

		retryErr := r.Do(func() error {
			if attempt > 0 {
				countRetry(ctx)
			}
			attempt++

			tCtx, cancel := context.WithTimeout(ctx, w.settings.AttemptTimeout)
			defer cancel()

			var callErr error
			out, callErr = w.next.Invoke(tCtx, inv)
			return callErr
		})

		return out, retryErr
	})
	if err != nil {
		return nil, err
	}

	return cbResult.(*domain.CapabilityOutput), nil
}
