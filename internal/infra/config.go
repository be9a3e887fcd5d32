package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config корневая структура конфигурации шлюза.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	GRPC       GRPCConfig       `mapstructure:"grpc"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Connectors ConnectorsConfig `mapstructure:"connectors"`
	Agents     AgentsConfig     `mapstructure:"agents"`
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	Admin      AdminConfig      `mapstructure:"admin"`
	Logger     LoggerConfig     `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type GRPCConfig struct {
	Addr string `mapstructure:"addr"`
}

// MetricsConfig отдельный листенер /metrics; пустой адрес - метрики на основном сервере
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// DatabaseConfig описывает подключение к PostgreSQL. Пустой URL - аудит уходит в лог.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig описывает подключение к Redis (override-записи и зеркало шины).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig ключи JWT и мастер-ключ административной плоскости.
type AuthConfig struct {
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	PrivateKeyPath string        `mapstructure:"private_key_path"` // Только для выпуска токенов CLI
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	// MasterKey секрет админ-команд: открытый текст или bcrypt-хеш ($2...)
	MasterKey  string `mapstructure:"master_key"`
	PublicKey  []byte
	PrivateKey []byte
}

// EngineConfig настройки конвейера и надежности вызовов.
type EngineConfig struct {
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	RecentAudit        int           `mapstructure:"recent_audit"`
	MaxParallel        int           `mapstructure:"max_parallel"`
	AuditBufferSize    int           `mapstructure:"audit_buffer_size"`
	AuditFlushInterval time.Duration `mapstructure:"audit_flush_interval"`

	RateLimit      float64       `mapstructure:"rate_limit"`
	RateBurst      int           `mapstructure:"rate_burst"`
	RetryAttempts  uint          `mapstructure:"retry_attempts"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`

	// Настройки Circuit Breaker для внешних коллабораторов
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
	CBMaxFailures uint32        `mapstructure:"cb_max_failures"`
}

// ConnectorsConfig куда уходят вызовы capability. Без адреса - встроенная имитация.
type ConnectorsConfig struct {
	Addr   string            `mapstructure:"addr"`
	Routes map[string]string `mapstructure:"routes"` // capability -> адрес отдельного коннектора
}

type AgentsConfig struct {
	InsightLimit    int           `mapstructure:"insight_limit"`
	MonitorInterval time.Duration `mapstructure:"monitor_interval"`

	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
	MaxInFlight   int     `mapstructure:"max_in_flight"`

	Pricing              map[string]float64 `mapstructure:"pricing"`
	MaxTransactionAmount float64            `mapstructure:"max_transaction_amount"`
	InjectionPatterns    []string           `mapstructure:"injection_patterns"`
	PIIFields            []string           `mapstructure:"pii_fields"`
	BlockedRegions       []string           `mapstructure:"blocked_regions"`
}

// CatalogConfig файл каталога и заданные ключи внешней конфигурации capability
type CatalogConfig struct {
	Path       string   `mapstructure:"path"`
	Configured []string `mapstructure:"configured"`
}

type AdminConfig struct {
	LogMax  int `mapstructure:"log_max"`
	LogKeep int `mapstructure:"log_keep"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
// path - явный файл (флаг --config), иначе config.yaml в . и ./configs.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	// SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет, работаем на ENV и дефолтах
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// Сначала PEM из ENV (Docker/K8s), затем файл по пути из конфига
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверки, без которых запуск бессмысленен
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("config: server.port must be positive")
	}
	if c.Admin.LogKeep > c.Admin.LogMax {
		return fmt.Errorf("config: admin.log_keep (%d) exceeds admin.log_max (%d)", c.Admin.LogKeep, c.Admin.LogMax)
	}
	if c.Engine.AuditBufferSize <= 0 {
		return fmt.Errorf("config: engine.audit_buffer_size must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("grpc.addr", ":50052")
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	// Пустые значения объявлены, чтобы AutomaticEnv видел ключи (AUTH_MASTER_KEY, DATABASE_URL)
	v.SetDefault("database.url", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("connectors.addr", "")
	v.SetDefault("auth.master_key", "")
	v.SetDefault("auth.public_key_path", "")
	v.SetDefault("auth.private_key_path", "")
	v.SetDefault("auth.token_ttl", time.Hour)

	v.SetDefault("engine.request_timeout", 30*time.Second)
	v.SetDefault("engine.recent_audit", 200)
	v.SetDefault("engine.max_parallel", 8)
	v.SetDefault("engine.audit_buffer_size", 10000)
	v.SetDefault("engine.audit_flush_interval", 500*time.Millisecond)
	v.SetDefault("engine.rate_limit", 100)
	v.SetDefault("engine.rate_burst", 20)
	v.SetDefault("engine.retry_attempts", 3)
	v.SetDefault("engine.attempt_timeout", 10*time.Second)
	v.SetDefault("engine.cb_max_requests", 3)
	v.SetDefault("engine.cb_interval", 5*time.Second)
	v.SetDefault("engine.cb_timeout", 30*time.Second)
	v.SetDefault("engine.cb_max_failures", 5)

	v.SetDefault("agents.insight_limit", 1000)
	v.SetDefault("agents.rate_per_second", 50)
	v.SetDefault("agents.burst", 100)
	v.SetDefault("agents.max_in_flight", 200)
	v.SetDefault("agents.max_transaction_amount", 10000)

	v.SetDefault("catalog.path", "configs/capabilities.yaml")

	v.SetDefault("admin.log_max", 100000)
	v.SetDefault("admin.log_keep", 50000)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
