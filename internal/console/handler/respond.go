package handler

import (
	"encoding/json"
	"net/http"

	"github.com/xela07ax/spaceai-governance/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor HTTP-код по виду ошибки; тело ответа всегда несет полный результат
func statusFor(kind string) int {
	switch kind {
	case "":
		return http.StatusOK
	case domain.ErrValidation.Error():
		return http.StatusBadRequest
	case domain.ErrAuthorization.Error():
		return http.StatusForbidden
	case domain.ErrUnauthorizedAdmin.Error():
		return http.StatusUnauthorized
	case domain.ErrCapacity.Error():
		return http.StatusTooManyRequests
	case domain.ErrSystemHalt.Error():
		return http.StatusServiceUnavailable
	case domain.ErrConfiguration.Error():
		return http.StatusConflict
	}
	return http.StatusBadGateway
}
