package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/maherkar/api/internal/platform/httpx"
	"github.com/maherkar/api/internal/services"
)

type planPayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	PricePerDay int64  `json:"price_per_day"`
	Free        bool   `json:"free"`
}

type planListResponse struct {
	Items []planPayload `json:"items"`
}

// PlanHandlers exposes the public plan catalogue.
type PlanHandlers struct {
	plans services.PlanService
}

// NewPlanHandlers constructs PlanHandlers.
func NewPlanHandlers(plans services.PlanService) *PlanHandlers {
	return &PlanHandlers{plans: plans}
}

// Routes registers the /plans endpoints.
func (h *PlanHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listPlans)
}

func (h *PlanHandlers) listPlans(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.plans == nil {
		httpx.WriteError(ctx, w, httpx.NewError("plan_service_unavailable", "plan service unavailable", http.StatusServiceUnavailable))
		return
	}

	plans, err := h.plans.ListPlans(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("plan_error", "failed to load plans", http.StatusInternalServerError))
		return
	}

	items := make([]planPayload, 0, len(plans))
	for _, plan := range plans {
		items = append(items, planPayload{
			ID:          plan.ID,
			Name:        plan.Name,
			Description: plan.Description,
			PricePerDay: plan.PricePerDay,
			Free:        plan.Free,
		})
	}
	w.Header().Set("Cache-Control", "public, max-age=60")
	writeJSONResponse(w, http.StatusOK, planListResponse{Items: items})
}
