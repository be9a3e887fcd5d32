package overrides

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-governance/internal/domain"
	"github.com/xela07ax/spaceai-governance/internal/infra"
	"go.uber.org/zap"
)

const (
	signalSet    = "set"
	signalDelete = "del"
)

// replicate L2: HSET/HDEL в общем хэше + сигнал остальным инстансам.
// Ошибки Redis не влияют на локальное состояние.
func (s *Store) replicate(ctx context.Context, entry domain.OverrideEntry, deleted bool) {
	if s.rdb == nil {
		return
	}

	pipe := s.rdb.TxPipeline()
	signal := signalSet
	if deleted {
		signal = signalDelete
		pipe.HDel(ctx, infra.RedisKeyOverrides, entry.Key)
	} else {
		raw, err := json.Marshal(entry)
		if err != nil {
			s.logger.Error("failed to encode override", zap.String("key", entry.Key), zap.Error(err))
			return
		}
		pipe.HSet(ctx, infra.RedisKeyOverrides, entry.Key, raw)
	}
	pipe.Publish(ctx, infra.RedisChanOverrides, entry.Key+":"+signal)

	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("override replication failed", zap.String("key", entry.Key), zap.Error(err))
	}
}

// Sync перечитывает хэш из Redis в L1. Локальные записи, которых нет в Redis, сохраняются.
func (s *Store) Sync(ctx context.Context) error {
	if s.rdb == nil {
		return nil
	}
	all, err := s.rdb.HGetAll(ctx, infra.RedisKeyOverrides).Result()
	if err != nil {
		return err
	}
	for key, raw := range all {
		var entry domain.OverrideEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			s.logger.Warn("skipping malformed override", zap.String("key", key), zap.Error(err))
			continue
		}
		s.apply(entry)
	}
	s.logger.Debug("overrides synced from redis", zap.Int("count", len(all)))
	return nil
}

// Warmup прогрев L1 из Redis и, если Redis пуст, заливка локального состояния.
// Только один инстанс заливает данные (SetNX-блокировка).
func (s *Store) Warmup(ctx context.Context) error {
	if s.rdb == nil {
		return nil
	}
	if err := s.Sync(ctx); err != nil {
		return err
	}

	local := s.Entries()
	if len(local) == 0 {
		return nil
	}

	ok, err := s.rdb.SetNX(ctx, infra.RedisKeyLockOverrides, "processing", 30*time.Second).Result()
	if err != nil || !ok {
		return nil // Либо ошибка сети, либо другой уже греет кэш
	}

	count, err := s.rdb.HLen(ctx, infra.RedisKeyOverrides).Result()
	if err != nil {
		count = 0
		s.logger.Warn("could not check overrides hash size, proceeding with warm-up", zap.Error(err))
	}
	if count > 0 {
		return nil
	}

	s.logger.Info("redis overrides are empty, performing warm-up", zap.Int("count", len(local)))
	pipe := s.rdb.Pipeline()
	for _, e := range local {
		raw, err := json.Marshal(e)
		if err != nil {
			continue
		}
		pipe.HSet(ctx, infra.RedisKeyOverrides, e.Key, raw)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Listen живучая подписка на сигналы других инстансов; при каждом переподключении Sync.
// Блокирует до отмены ctx.
func (s *Store) Listen(ctx context.Context) {
	if s.rdb == nil {
		return
	}
	ListenResilient(ctx, s.rdb, s.logger, infra.RedisChanOverrides,
		func() error { return s.Sync(ctx) },
		func(key, signal string) {
			switch signal {
			case signalDelete:
				s.forget(key)
			case signalSet:
				raw, err := s.rdb.HGet(ctx, infra.RedisKeyOverrides, key).Result()
				if err != nil {
					s.logger.Warn("override signal without value", zap.String("key", key), zap.Error(err))
					return
				}
				var entry domain.OverrideEntry
				if err := json.Unmarshal([]byte(raw), &entry); err != nil {
					s.logger.Warn("malformed override", zap.String("key", key), zap.Error(err))
					return
				}
				s.apply(entry)
			}
		})
}

// ListenResilient универсальный цикл подписки на сигналы формата "id:status"
// с переподключением. Статус отделяется по последнему двоеточию.
func ListenResilient(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	channel string,
	onReconnect func() error,
	onMessage func(id, status string),
) {
	for {
		pubsub := rdb.Subscribe(ctx, channel)

		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			logger.Error("failed to subscribe", zap.String("chan", channel), zap.Error(err))
			if !sleepCtx(ctx, 5*time.Second) {
				return
			}
			continue
		}

		// Синхронизация при каждом успешном коннекте
		if err := onReconnect(); err != nil {
			logger.Error("sync failed on reconnect", zap.Error(err))
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}
				idx := strings.LastIndex(msg.Payload, ":")
				if idx <= 0 || idx == len(msg.Payload)-1 {
					logger.Error("invalid signal format", zap.String("payload", msg.Payload))
					continue
				}
				onMessage(msg.Payload[:idx], msg.Payload[idx+1:])
			}
		}

		pubsub.Close()
		if !sleepCtx(ctx, time.Second) {
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
