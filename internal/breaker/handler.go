package breaker

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/vendorportal/core/internal/api"
	"github.com/vendorportal/core/internal/auth"
)

// Handler exposes the registry over the admin HTTP surface.
type Handler struct {
	registry *Registry
	validate *validator.Validate
}

func NewHandler(registry *Registry) *Handler {
	return &Handler{
		registry: registry,
		validate: validator.New(),
	}
}

const (
	ActionReset      = "reset"
	ActionInitialize = "initialize"
)

type ActionRequest struct {
	Action    string `json:"action" validate:"required,oneof=reset initialize"`
	ServiceID string `json:"serviceId"`
}

type serviceView struct {
	CircuitState
	Name     string `json:"name"`
	Critical bool   `json:"critical"`
}

func (h *Handler) view(st CircuitState) serviceView {
	svc, _ := h.registry.Catalog().Lookup(st.ServiceID)
	return serviceView{CircuitState: st, Name: svc.Name, Critical: svc.Critical}
}

// List returns every catalogued circuit.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	states, err := h.registry.GetAllServiceHealth(r.Context())
	if err != nil {
		slog.Error("listing circuits", "error", err)
		api.HandleError(w, api.ErrServiceUnavailable)
		return
	}

	out := make([]serviceView, 0, len(states))
	for _, st := range states {
		out = append(out, h.view(st))
	}
	api.JSON(w, http.StatusOK, out)
}

// Summary returns circuit counts by state.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	api.JSON(w, http.StatusOK, h.registry.GetServicesSummary(r.Context()))
}

// Get returns one circuit by {serviceID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	serviceID := chi.URLParam(r, "serviceID")

	st, err := h.registry.GetServiceHealth(r.Context(), serviceID)
	if errors.Is(err, ErrServiceNotFound) {
		api.HandleError(w, api.NewNotFoundError("service not found: "+serviceID))
		return
	}
	if err != nil {
		slog.Error("reading circuit", "service", serviceID, "error", err)
		api.HandleError(w, api.ErrServiceUnavailable)
		return
	}

	api.JSON(w, http.StatusOK, h.view(*st))
}

// Action applies an administrative reset or initialize.
func (h *Handler) Action(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError("action must be one of: reset, initialize"))
		return
	}

	switch req.Action {
	case ActionReset:
		h.reset(w, r, req.ServiceID)
	case ActionInitialize:
		created, err := h.registry.InitializeAllServices(r.Context())
		if err != nil {
			slog.Error("initializing circuits", "error", err)
			api.HandleError(w, api.ErrServiceUnavailable)
			return
		}
		api.JSON(w, http.StatusOK, map[string]int{
			"initialized": created,
			"total":       len(h.registry.Catalog().Services()),
		})
	}
}

func (h *Handler) reset(w http.ResponseWriter, r *http.Request, serviceID string) {
	if serviceID == "" {
		api.HandleError(w, api.NewValidationError("serviceId is required for reset"))
		return
	}

	actor := "unknown"
	if claims := auth.GetClaims(r.Context()); claims != nil {
		actor = claims.Actor()
	}

	st, err := h.registry.ResetCircuit(r.Context(), serviceID, actor)
	if errors.Is(err, ErrServiceNotFound) {
		api.HandleError(w, api.NewNotFoundError("service not found: "+serviceID))
		return
	}
	if err != nil {
		slog.Error("resetting circuit", "service", serviceID, "error", err)
		api.HandleError(w, api.ErrServiceUnavailable)
		return
	}

	api.JSON(w, http.StatusOK, h.view(st))
}
