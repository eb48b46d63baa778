package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"aigem/pkg/contracts"
	apiv1 "aigem/pkg/contracts/api/v1"
)

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	service LicenseService
	logger  *slog.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(service LicenseService, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// HealthCheck handles GET /healthz. The service is healthy whatever the
// license state; the state is reported for diagnostics.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := h.service.Validate(r.Context())
	render.JSON(w, r, apiv1.HealthResponse{
		Status:  "ok",
		Version: contracts.Version,
		State:   string(status.State),
	})
}

// Version handles GET /api/version
func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, contracts.GetVersionInfo())
}
