package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/xela07ax/spaceai-governance/internal/domain"
	"github.com/xela07ax/spaceai-governance/internal/engine"
	"github.com/xela07ax/spaceai-governance/internal/infra/auth"
	"go.uber.org/zap"
)

// Pipeline то, что нужно обработчику от конвейера
type Pipeline interface {
	ProcessRequest(ctx context.Context, req *domain.Request) *engine.Result
	Status() engine.Status
}

type RequestHandler struct {
	pipeline Pipeline
	logger   *zap.Logger
}

func NewRequestHandler(p Pipeline, logger *zap.Logger) *RequestHandler {
	return &RequestHandler{pipeline: p, logger: logger.Named("requests")}
}

// Process POST /v1/requests
func (h *RequestHandler) Process(w http.ResponseWriter, r *http.Request) {
	var req domain.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	auth.ApplyClaims(r.Context(), &req.Context)

	res := h.pipeline.ProcessRequest(r.Context(), &req)
	if !res.Success {
		h.logger.Debug("request not completed",
			zap.String("request_id", res.RequestID),
			zap.String("kind", res.ErrorKind),
			zap.Strings("errors", res.Errors))
	}
	writeJSON(w, statusFor(res.ErrorKind), res)
}

// Status GET /v1/status
func (h *RequestHandler) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.pipeline.Status())
}
