package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sarthi-ai/gateway/internal/identity"
	"github.com/sarthi-ai/gateway/internal/model"
	"github.com/sarthi-ai/gateway/internal/orchestrator"
	"github.com/sarthi-ai/gateway/internal/quota"
	"github.com/sarthi-ai/gateway/internal/tier"
	"github.com/sarthi-ai/gateway/internal/usage"
	"github.com/sarthi-ai/gateway/pkg/ratelimit"
)

type Handler struct {
	orch    *orchestrator.Orchestrator
	limiter *ratelimit.Limiter
	tracer  trace.Tracer
}

func NewHandler(orch *orchestrator.Orchestrator, limiter *ratelimit.Limiter, tracer trace.Tracer) *Handler {
	return &Handler{orch: orch, limiter: limiter, tracer: tracer}
}

type queryRequest struct {
	Query string `json:"query"`
}

type checkRequest struct {
	Advanced      bool    `json:"advanced"`
	EstimatedCost float64 `json:"estimated_cost"`
}

type checkResponse struct {
	Allowed       bool   `json:"allowed"`
	ForceBasic    bool   `json:"force_basic"`
	ForceCheapest bool   `json:"force_cheapest"`
	Reason        string `json:"reason"`
}

type recordRequest struct {
	Advanced bool    `json:"advanced"`
	Cost     float64 `json:"cost"`
}

type routeResponse struct {
	Allowed       bool    `json:"allowed"`
	Model         string  `json:"model,omitempty"`
	Forced        bool    `json:"forced"`
	Reason        string  `json:"reason"`
	EstimatedCost float64 `json:"estimated_cost"`
}

// HandleQuery serves one query end to end: quota check, routing, model
// invocation and usage recording.
func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	user, req, ok := h.prepare(w, r, true)
	if !ok {
		return
	}

	ans, dec, err := h.orch.Handle(r.Context(), user.IdentityKey, req.Query)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if !dec.Allowed {
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"allowed": false,
			"reason":  dec.Reason,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":      identity.GetRequestID(r.Context()),
		"allowed": true,
		"answer":  ans.Text,
		"model":   ans.Model,
		"forced":  ans.Forced,
		"reason":  ans.Reason,
		"cost_usd": ans.CostUSD,
		"latency_ms": ans.LatencyMs,
	})
}

// HandleCheck is the pure quota pre-check; no side effects.
func (h *Handler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	user := identity.GetUser(r.Context())
	if user == nil {
		writeError(w, http.StatusBadRequest, "missing identity")
		return
	}

	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	dec, err := h.orch.Check(r.Context(), user.IdentityKey, req.Advanced, req.EstimatedCost)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, checkResponse{
		Allowed:       dec.Allowed,
		ForceBasic:    dec.ForcedModel == quota.ForceBasic,
		ForceCheapest: dec.ForcedModel == quota.ForceCheapest,
		Reason:        string(dec.Reason),
	})
}

// HandleRoute combines quota check and model selection without recording.
func (h *Handler) HandleRoute(w http.ResponseWriter, r *http.Request) {
	user, req, ok := h.prepare(w, r, true)
	if !ok {
		return
	}

	dec, sel, err := h.orch.Route(r.Context(), user.IdentityKey, req.Query)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	if !dec.Allowed {
		writeJSON(w, http.StatusOK, routeResponse{Allowed: false, Reason: string(dec.Reason)})
		return
	}
	writeJSON(w, http.StatusOK, routeResponse{
		Allowed:       true,
		Model:         sel.Model,
		Forced:        sel.Forced,
		Reason:        sel.Reason,
		EstimatedCost: sel.EstimatedCost,
	})
}

// HandleRecord commits usage for a request served by a trusted caller.
func (h *Handler) HandleRecord(w http.ResponseWriter, r *http.Request) {
	user := identity.GetUser(r.Context())
	if user == nil {
		writeError(w, http.StatusBadRequest, "missing identity")
		return
	}

	var req recordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.orch.RecordUsage(r.Context(), user.IdentityKey, req.Advanced, req.Cost); err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "RECORDED"})
}

// HandleUsage reports the caller's current position against their limits.
func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	user := identity.GetUser(r.Context())
	if user == nil {
		writeError(w, http.StatusBadRequest, "missing identity")
		return
	}

	sum, err := h.orch.UsageSummary(r.Context(), user.IdentityKey)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	dailyRemaining := sum.Limits.DailyQueries - sum.Daily.QueriesUsed
	if dailyRemaining < 0 {
		dailyRemaining = 0
	}
	advancedRemaining := sum.Limits.DailyAdvanced - sum.Daily.AdvancedUsed
	if advancedRemaining < 0 {
		advancedRemaining = 0
	}
	monthlyRemaining := sum.Limits.MonthlyCostUSD - sum.Monthly.CostAccruedUSD
	if monthlyRemaining < 0 {
		monthlyRemaining = 0
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":            sum.User.ID,
		"tier":               sum.User.Tier,
		"daily":              sum.Daily,
		"monthly":            sum.Monthly,
		"limits":             sum.Limits,
		"daily_remaining":    dailyRemaining,
		"advanced_remaining": advancedRemaining,
		"monthly_remaining_usd": monthlyRemaining,
	})
}

// prepare handles the steps shared by the query-shaped endpoints: identity,
// body decode, tracing and the per-user burst limit.
func (h *Handler) prepare(w http.ResponseWriter, r *http.Request, rateLimited bool) (*usage.User, *queryRequest, bool) {
	ctx := r.Context()

	user := identity.GetUser(ctx)
	if user == nil {
		writeError(w, http.StatusBadRequest, "missing identity")
		return nil, nil, false
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, nil, false
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "missing query")
		return nil, nil, false
	}

	_, span := h.tracer.Start(ctx, "gateway.query")
	defer span.End()
	span.SetAttributes(
		attribute.String("user_id", user.ID),
		attribute.String("tier", user.Tier),
		attribute.String("request_id", identity.GetRequestID(ctx)),
	)

	if rateLimited {
		allowed, err := h.limiter.Allow(ctx, user.ID)
		if err != nil || !allowed {
			w.Header().Set("Retry-After", "60s")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error":       "rate limit exceeded",
				"retry_after": "60s",
			})
			return nil, nil, false
		}
	}

	return user, &req, true
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, usage.ErrStoreUnavailable):
		// Fail closed: with the store down, unmetered usage is never allowed.
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, tier.ErrUnknownTier):
		writeError(w, http.StatusInternalServerError, err.Error())
	case errors.Is(err, orchestrator.ErrModelInvocation),
		errors.Is(err, model.ErrUnknownModel),
		errors.Is(err, model.ErrUnavailable):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
