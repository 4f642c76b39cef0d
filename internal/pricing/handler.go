package pricing

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/vendorportal/core/internal/api"
	"github.com/vendorportal/core/internal/auth"
	"github.com/vendorportal/core/internal/breaker"
	"github.com/vendorportal/core/internal/metrics"
)

type Handler struct {
	calc     *Calculator
	usage    *UsageService
	validate *validator.Validate
	now      func() time.Time
}

func NewHandler(calc *Calculator, usage *UsageService) *Handler {
	return &Handler{
		calc:     calc,
		usage:    usage,
		validate: validator.New(),
		now:      time.Now,
	}
}

type BatchRequest struct {
	Channel       string `json:"channel" validate:"required,oneof=EMAIL SMS"`
	MessageCount  int64  `json:"messageCount" validate:"gt=0"`
	CurrentVolume int64  `json:"currentVolume" validate:"gte=0"`
}

type EstimateRequest struct {
	EmailCount int64 `json:"emailCount" validate:"gte=0"`
	SMSCount   int64 `json:"smsCount" validate:"gte=0"`
}

func (h *Handler) Batch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	res, err := h.calc.CalculateBatchCost(Channel(req.Channel), req.MessageCount, req.CurrentVolume)
	if err != nil {
		api.HandleError(w, calculationError(err))
		return
	}

	metrics.PricingEstimatesTotal.WithLabelValues("batch").Inc()
	api.JSON(w, http.StatusOK, res)
}

func (h *Handler) Estimate(w http.ResponseWriter, r *http.Request) {
	var req EstimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	res, err := h.calc.EstimateMonthlyCost(MonthlyUsage{EmailCount: req.EmailCount, SMSCount: req.SMSCount})
	if err != nil {
		api.HandleError(w, calculationError(err))
		return
	}

	metrics.PricingEstimatesTotal.WithLabelValues("monthly").Inc()
	api.JSON(w, http.StatusOK, res)
}

func (h *Handler) Tiers(w http.ResponseWriter, r *http.Request) {
	api.JSON(w, http.StatusOK, h.calc.Tiers())
}

// Usage returns the caller's snapshot for the current month.
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	snap, err := h.usage.Snapshot(r.Context(), claims.VendorID, h.now())
	switch {
	case err == nil:
		metrics.PricingEstimatesTotal.WithLabelValues("usage").Inc()
		api.JSON(w, http.StatusOK, snap)
	case errors.Is(err, ErrVendorRequired):
		api.HandleError(w, api.ErrUnauthorized)
	case errors.Is(err, breaker.ErrCircuitOpen):
		api.HandleError(w, api.ErrServiceUnavailable)
	default:
		slog.Error("building usage snapshot", "vendor_id", claims.VendorID, "error", err)
		api.HandleError(w, api.ErrServiceUnavailable)
	}
}

func calculationError(err error) error {
	if errors.Is(err, ErrNegativeCount) || errors.Is(err, ErrUnknownChannel) {
		return api.NewValidationError(err.Error())
	}
	slog.Error("pricing calculation failed", "error", err)
	return api.ErrInternalServer
}
