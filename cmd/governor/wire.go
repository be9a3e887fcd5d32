package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/xela07ax/spaceai-governance/internal/admin"
	"github.com/xela07ax/spaceai-governance/internal/agents"
	"github.com/xela07ax/spaceai-governance/internal/audit"
	"github.com/xela07ax/spaceai-governance/internal/bus"
	"github.com/xela07ax/spaceai-governance/internal/connectors"
	"github.com/xela07ax/spaceai-governance/internal/domain"
	"github.com/xela07ax/spaceai-governance/internal/engine"
	"github.com/xela07ax/spaceai-governance/internal/infra"
	"github.com/xela07ax/spaceai-governance/internal/infra/auth"
	"github.com/xela07ax/spaceai-governance/internal/matrix"
	"github.com/xela07ax/spaceai-governance/internal/overrides"
	"github.com/xela07ax/spaceai-governance/internal/registry"
	"github.com/xela07ax/spaceai-governance/internal/repository/postgres"
	"github.com/xela07ax/spaceai-governance/internal/workflow"
)

// app собранный процесс шлюза
type app struct {
	cfg    *infra.Config
	logger *zap.Logger

	promReg *prometheus.Registry
	metrics *engine.Metrics

	db  *postgres.DB
	rdb *redis.Client

	conns     []*grpc.ClientConn
	trail     *audit.Trail
	bus       *bus.Bus
	overrides *overrides.Store
	registry  *registry.Registry
	matrix    *matrix.Matrix
	agents    *agents.Directory
	pipeline  *engine.Pipeline
	plane     *admin.Plane
	validator auth.TokenValidator
}

func build(ctx context.Context, cfg *infra.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	// 1. Метрики
	a.promReg = prometheus.NewRegistry()
	a.promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = engine.NewMetrics(a.promReg)

	// 2. Инфраструктура: Postgres и Redis опциональны
	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database.URL, postgres.PoolSettings{
			MaxOpenConns:    cfg.Database.MaxConns,
			MaxIdleConns:    cfg.Database.MinConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		a.db = db
	} else {
		logger.Warn("database.url is empty: audit records go to the log")
	}
	if cfg.Redis.Addr != "" {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	// 3. Аудит
	var sink audit.Sink = audit.LogSink{Logger: logger.Named("audit-sink")}
	if a.db != nil {
		sink = postgres.NewAuditRepo(a.db)
	}
	a.trail = audit.NewTrail(sink, logger,
		audit.WithBufferSize(cfg.Engine.AuditBufferSize),
		audit.WithFlushInterval(cfg.Engine.AuditFlushInterval),
		audit.WithBufferGauge(a.metrics.AuditBufferFill),
	)
	a.trail.Start()

	// 4. Override-записи: прогрев из Redis до приема трафика
	a.overrides = overrides.NewStore(a.rdb, logger)
	if err := a.overrides.Warmup(ctx); err != nil {
		logger.Error("overrides warm-up failed, starting with local state", zap.Error(err))
	}

	// 5. Каталог capability и матрица ответственности
	var catalogRepo registry.CatalogRepository
	if a.db != nil {
		catalogRepo = postgres.NewCatalogRepo(a.db)
	}
	a.registry = registry.New(catalogRepo, logger)
	a.matrix = matrix.New(logger)
	if err := a.loadCatalog(ctx); err != nil {
		return nil, err
	}

	// 6. Исполнение capability: коннекторы -> надежность
	invoker, err := a.connectors()
	if err != nil {
		return nil, err
	}
	reliable := connectors.NewReliabilityWrapper(invoker, connectors.ReliabilitySettings{
		RateLimit:      cfg.Engine.RateLimit,
		RateBurst:      cfg.Engine.RateBurst,
		RetryAttempts:  cfg.Engine.RetryAttempts,
		AttemptTimeout: cfg.Engine.AttemptTimeout,
		CBMaxRequests:  cfg.Engine.CBMaxRequests,
		CBInterval:     cfg.Engine.CBInterval,
		CBTimeout:      cfg.Engine.CBTimeout,
		CBMaxFailures:  cfg.Engine.CBMaxFailures,
	}, logger)

	// 7. Шина и агенты
	busOpts := []bus.Option{bus.WithObserver(a.metrics)}
	if a.rdb != nil {
		busOpts = append(busOpts, bus.WithForwarder(bus.NewRedisForwarder(a.rdb, infra.RedisChanAgentEvents)))
	}
	a.bus = bus.New(logger, busOpts...)
	a.agents = agents.NewDirectory(agents.Deps{
		Invoker:   reliable,
		Events:    a.bus,
		Catalog:   a.registry,
		Overrides: a.overrides,
		Breakers:  reliable,
		Logger:    logger,
	}, agentSettings(cfg.Agents))
	for _, ag := range a.agents.All() {
		if err := a.bus.Subscribe(ag.ID(), ag); err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", ag.ID(), err)
		}
	}
	integration := a.agents.Integration()
	reliable.OnBreakerChange(func(capID string, open bool) {
		a.metrics.BreakerChanged(capID, open)
		integration.BreakerChanged(capID, open)
	})

	// 8. Ядро: движок исполнения и конвейер
	exec := workflow.New(a.registry, a.matrix, a.agents, logger,
		workflow.WithSwitches(a.overrides),
		workflow.WithConfigChecker(configured(cfg.Catalog.Configured)),
		workflow.WithObserver(a.metrics),
		workflow.WithMaxParallel(cfg.Engine.MaxParallel),
	)
	a.pipeline = engine.NewPipeline(a.registry, a.matrix, a.agents, exec, a.overrides, a.bus, logger,
		engine.WithRequestTimeout(cfg.Engine.RequestTimeout),
		engine.WithAuditSink(a.trail),
		engine.WithMetrics(a.metrics),
		engine.WithRecentAudit(cfg.Engine.RecentAudit),
	)

	// 9. Административная плоскость
	if cfg.Auth.MasterKey == "" {
		logger.Warn("auth.master_key is empty: every admin command will be rejected")
	}
	planeOpts := []admin.Option{
		admin.WithAuditSink(a.trail),
		admin.WithEvents(a.bus),
		admin.WithBreakers(reliable),
		admin.WithObserver(a.metrics),
		admin.WithLogLimits(cfg.Admin.LogMax, cfg.Admin.LogKeep),
	}
	if a.db != nil {
		planeOpts = append(planeOpts,
			admin.WithArchive(postgres.NewAdminLogRepo(a.db)),
			admin.WithProbe("postgres", a.db.Ping))
	}
	if a.rdb != nil {
		rdb := a.rdb
		planeOpts = append(planeOpts, admin.WithProbe("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}))
	}
	a.plane = admin.NewPlane(cfg.Auth.MasterKey, a.overrides, a.registry, a.matrix, a.agents, a.pipeline, logger, planeOpts...)

	// 10. Проверка токенов вызывающей стороны
	if len(cfg.Auth.PublicKey) > 0 {
		pub, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("auth public key: %w", err)
		}
		a.validator = auth.NewBaseValidator(pub)
	}
	return a, nil
}

// loadCatalog YAML-каталог, затем дополнение из Postgres
func (a *app) loadCatalog(ctx context.Context) error {
	if path := a.cfg.Catalog.Path; path != "" {
		cat, err := registry.LoadCatalog(path)
		if err != nil {
			return err
		}
		if err := a.registry.Apply(cat, a.matrix); err != nil {
			a.logger.Warn("catalog contains invalid entries", zap.String("path", path), zap.Error(err))
		}
	}
	added, err := a.registry.Refresh(ctx)
	if err != nil {
		return err
	}
	for _, c := range added {
		if err := a.matrix.AssignCapability(c); err != nil {
			a.logger.Warn("capability not assigned", zap.String("capability_id", c.ID), zap.Error(err))
		}
	}
	a.logger.Info("capability catalog loaded", zap.Any("counts", a.registry.Counts()))
	return nil
}

// connectors встроенная имитация или gRPC-коннекторы (общий и по capability)
func (a *app) connectors() (connectors.Invoker, error) {
	cc := a.cfg.Connectors
	var fallback connectors.Invoker = connectors.NewMockConnector()
	if cc.Addr != "" {
		conn, err := a.dial(cc.Addr)
		if err != nil {
			return nil, err
		}
		fallback = connectors.NewGRPCAdapter(conn, "governor")
	} else {
		a.logger.Warn("connectors.addr is empty: capabilities run against the mock connector")
	}
	if len(cc.Routes) == 0 {
		return fallback, nil
	}
	router := connectors.NewRouter(fallback)
	for capID, addr := range cc.Routes {
		conn, err := a.dial(addr)
		if err != nil {
			return nil, err
		}
		router.Handle(capID, connectors.NewGRPCAdapter(conn, "governor"))
	}
	return router, nil
}

func (a *app) dial(addr string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connector %s: %w", addr, err)
	}
	a.conns = append(a.conns, conn)
	return conn, nil
}

// close освобождает ресурсы в обратном порядке сборки
func (a *app) close() {
	a.agents.StopAll()
	a.pipeline.Wait()
	a.bus.Close()
	a.agents.ShutdownAll()
	a.trail.Stop()
	for _, c := range a.conns {
		_ = c.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

func agentSettings(c infra.AgentsConfig) agents.Settings {
	s := agents.DefaultSettings()
	if c.InsightLimit > 0 {
		s.InsightLimit = c.InsightLimit
	}
	s.MonitorInterval = c.MonitorInterval
	if c.RatePerSecond > 0 {
		s.Capacity.RatePerSecond = c.RatePerSecond
	}
	if c.Burst > 0 {
		s.Capacity.Burst = c.Burst
	}
	if c.MaxInFlight > 0 {
		s.Capacity.MaxInFlight = c.MaxInFlight
	}
	for tier, price := range c.Pricing {
		s.Pricing[domain.ComplexityTier(tier)] = price
	}
	if c.MaxTransactionAmount > 0 {
		s.MaxTransactionAmount = c.MaxTransactionAmount
	}
	if len(c.InjectionPatterns) > 0 {
		s.InjectionPatterns = c.InjectionPatterns
	}
	if len(c.PIIFields) > 0 {
		s.PIIFields = c.PIIFields
	}
	s.BlockedRegions = c.BlockedRegions
	return s
}

// configured ключ задан в catalog.configured или в окружении
func configured(keys []string) registry.ConfigChecker {
	static := registry.StaticConfig{}
	for _, k := range keys {
		static[k] = true
	}
	return registry.AnyConfig{static, registry.EnvConfig{}}
}

func shutdownContext(d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 5 * time.Second
	}
	return context.WithTimeout(context.Background(), d)
}
