package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/xela07ax/spaceai-governance/internal/admin"
)

// MasterKeyHeader заголовок с мастер-ключом админ-команд
const MasterKeyHeader = "X-Master-Key"

type Plane interface {
	ExecuteMasterCommand(ctx context.Context, cmd admin.Command, authKey string) admin.CommandResult
}

type AdminHandler struct {
	plane Plane
}

func NewAdminHandler(p Plane) *AdminHandler {
	return &AdminHandler{plane: p}
}

// Execute POST /v1/admin/commands. Проверка ключа целиком на стороне плоскости,
// чтобы неудачная попытка тоже попала в журнал.
func (h *AdminHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var cmd admin.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid command body: "+err.Error())
		return
	}
	res := h.plane.ExecuteMasterCommand(r.Context(), cmd, r.Header.Get(MasterKeyHeader))
	writeJSON(w, statusFor(res.ErrorKind), res)
}

// Commands GET /v1/admin/commands
func (h *AdminHandler) Commands(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"commands": admin.Commands()})
}
