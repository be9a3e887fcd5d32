package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/xela07ax/spaceai-governance/internal/console/handler"
	"github.com/xela07ax/spaceai-governance/internal/console/server"
	"github.com/xela07ax/spaceai-governance/internal/engine"
	"github.com/xela07ax/spaceai-governance/internal/infra"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := infra.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("governor stopped with error", zap.Error(err))
	}
	logger.Info("governor exited properly")
}

func run(cfg *infra.Config, logger *zap.Logger) error {
	appCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := build(appCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if a.rdb != nil {
		go a.overrides.Listen(appCtx)
	}
	a.agents.StartAll(appCtx)

	// HTTP: консоль + админ-команды; /metrics на основном сервере, если отдельный адрес не задан
	metricsHandler := promhttp.HandlerFor(a.promReg, promhttp.HandlerOpts{})
	var mounted http.Handler
	if cfg.Metrics.Addr == "" {
		mounted = metricsHandler
	}
	console := server.NewConsoleServer(logger, a.validator,
		handler.NewRequestHandler(a.pipeline, logger),
		handler.NewAdminHandler(a.plane),
		mounted,
	)
	httpSrv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      console,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
	}

	var grpcOpts []grpc.ServerOption
	if a.validator != nil {
		grpcOpts = append(grpcOpts, grpc.UnaryInterceptor(engine.UnaryAuthInterceptor(a.validator, logger)))
	} else {
		logger.Warn("auth public key is not configured: request endpoints are unauthenticated")
	}
	grpcSrv := grpc.NewServer(grpcOpts...)
	engine.RegisterGatewayServer(grpcSrv, engine.NewGRPCGatewayServer(a.pipeline))

	g, gctx := errgroup.WithContext(appCtx)

	g.Go(func() error {
		logger.Info("console server started", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if metricsSrv != nil {
		g.Go(func() error {
			logger.Info("metrics server started", zap.String("addr", metricsSrv.Addr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		logger.Info("grpc server started", zap.String("addr", cfg.GRPC.Addr))
		return grpcSrv.Serve(lis)
	})

	// Graceful Shutdown по сигналу или падению любого сервера
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down governor")

		ctx, cancel := shutdownContext(cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			logger.Error("console server shutdown failed", zap.Error(err))
		}
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(ctx)
		}
		grpcSrv.GracefulStop()
		return nil
	})

	return g.Wait()
}
