package health

import (
	"net/http"

	"github.com/vendorportal/core/internal/api"
)

type Handler struct {
	agg *Aggregator
}

func NewHandler(agg *Aggregator) *Handler {
	return &Handler{agg: agg}
}

// Live always answers 200; it performs no dependency checks.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	api.JSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// Ready answers 503 only when the portal is unhealthy. A degraded portal
// still serves traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	snap := h.agg.Check(r.Context())

	status := http.StatusOK
	if snap.Status == StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	api.JSON(w, status, snap)
}
