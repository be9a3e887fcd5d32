package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "devit"
)

// Ключи для Hash/Set (состояние)
const (
	RedisKeyOverrides     = RedisNamespace + ":governance:overrides"
	RedisKeyLockOverrides = RedisNamespace + ":lock:warmup:overrides"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanOverrides сигнал "key:set" / "key:del" после изменения override-записи
	RedisChanOverrides = RedisNamespace + ":governance:overrides-signal"
	// RedisChanAgentEvents зеркало межагентной шины для других инстансов
	RedisChanAgentEvents = RedisNamespace + ":agents:events"
)
