package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/spaceai-governance/internal/console/handler"
	"github.com/xela07ax/spaceai-governance/internal/engine"
	"github.com/xela07ax/spaceai-governance/internal/infra/auth"
	"go.uber.org/zap"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger

	// RS256 проверка токенов вызывающей стороны; nil отключает проверку (локальный стенд)
	authValidator auth.TokenValidator

	requestHandler *handler.RequestHandler // /v1/requests, /v1/status
	adminHandler   *handler.AdminHandler   // /v1/admin/commands
	metrics        http.Handler            // /metrics, если не вынесены на отдельный порт
}

func NewConsoleServer(
	logger *zap.Logger,
	validator auth.TokenValidator,
	requestH *handler.RequestHandler,
	adminH *handler.AdminHandler,
	metrics http.Handler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:         chi.NewRouter(),
		logger:         logger.Named("http"),
		authValidator:  validator,
		requestHandler: requestH,
		adminHandler:   adminH,
		metrics:        metrics,
	}
	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(engine.TracingMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	// Админ-плоскость аутентифицируется мастер-ключом, а не токеном
	r.Route("/v1/admin", func(r chi.Router) {
		r.Get("/commands", s.adminHandler.Commands)
		r.Post("/commands", s.adminHandler.Execute)
	})

	r.Group(func(r chi.Router) {
		if s.authValidator != nil {
			r.Use(auth.NewMiddleware(s.authValidator, s.logger))
		} else {
			s.logger.Warn("token validation disabled: no public key configured")
		}
		r.Post("/v1/requests", s.requestHandler.Process)
		r.Get("/v1/status", s.requestHandler.Status)
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
