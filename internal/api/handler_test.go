package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	extratelimit "github.com/vnmchuo/ratelimiter"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/sarthi-ai/gateway/internal/identity"
	"github.com/sarthi-ai/gateway/internal/model"
	"github.com/sarthi-ai/gateway/internal/orchestrator"
	"github.com/sarthi-ai/gateway/internal/recorder"
	"github.com/sarthi-ai/gateway/internal/router"
	"github.com/sarthi-ai/gateway/internal/usage"
	"github.com/sarthi-ai/gateway/pkg/ratelimit"
)

var testInstant = time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

const testDay = "2026-08-29"

// Mock Limiter Store
type mockLimiterStore struct {
	allowed bool
	err     error
}

func (m *mockLimiterStore) AllowN(ctx context.Context, key string, n int) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func (m *mockLimiterStore) Allow(ctx context.Context, key string) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func (m *mockLimiterStore) Status(ctx context.Context, key string) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func setupTest(t *testing.T, limiterAllowed bool) (*Handler, *usage.MemoryStore) {
	t.Helper()

	registry := model.NewRegistry()
	registry.Register(model.Info{ID: model.Basic, BaseCostUSD: 0.002},
		model.NewStaticBackend("basic", "namaste", 0.002))
	registry.Register(model.Info{ID: model.Advanced, Advanced: true, BaseCostUSD: 0.03},
		model.NewStaticBackend("advanced", "deep answer", 0.03))

	store := usage.NewMemoryStore()
	rec := recorder.New(store, recorder.NewFixedClock(time.UTC, testInstant))
	rt := router.New(registry, router.NewHeuristicEstimator(registry))
	orch := orchestrator.New(store, rec, rt, registry, 5*time.Second)

	limiter := ratelimit.NewTestLimiter(&mockLimiterStore{allowed: limiterAllowed})
	tracer := noop.NewTracerProvider().Tracer("test")

	return NewHandler(orch, limiter, tracer), store
}

func asUser(req *http.Request, identityKey string) *http.Request {
	ctx := identity.WithUser(req.Context(), &usage.User{
		ID:          "ctx-" + identityKey,
		IdentityKey: identityKey,
		Tier:        "FREE",
	})
	return req.WithContext(ctx)
}

func TestHandleQuery_MissingIdentity(t *testing.T) {
	h, _ := setupTest(t, true)
	req := httptest.NewRequest("POST", "/v1/query", strings.NewReader(`{"query":"hi"}`))
	w := httptest.NewRecorder()

	h.HandleQuery(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestHandleQuery_InvalidBody(t *testing.T) {
	h, _ := setupTest(t, true)
	req := asUser(httptest.NewRequest("POST", "/v1/query", strings.NewReader(`{bad json}`)), "a@example.com")
	w := httptest.NewRecorder()

	h.HandleQuery(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestHandleQuery_EmptyQuery(t *testing.T) {
	h, _ := setupTest(t, true)
	req := asUser(httptest.NewRequest("POST", "/v1/query", strings.NewReader(`{"query":""}`)), "a@example.com")
	w := httptest.NewRecorder()

	h.HandleQuery(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestHandleQuery_RateLimited(t *testing.T) {
	h, _ := setupTest(t, false)
	req := asUser(httptest.NewRequest("POST", "/v1/query", strings.NewReader(`{"query":"hi"}`)), "a@example.com")
	w := httptest.NewRecorder()

	h.HandleQuery(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "60s" {
		t.Errorf("Expected Retry-After header, got %q", w.Header().Get("Retry-After"))
	}
}

func TestHandleQuery_Success(t *testing.T) {
	h, store := setupTest(t, true)
	req := asUser(httptest.NewRequest("POST", "/v1/query", strings.NewReader(`{"query":"hi"}`)), "a@example.com")
	w := httptest.NewRecorder()

	h.HandleQuery(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["answer"] != "namaste" {
		t.Errorf("Expected canned answer, got %v", resp["answer"])
	}
	if resp["model"] != model.Basic {
		t.Errorf("Expected basic model, got %v", resp["model"])
	}
	if resp["forced"] != true || resp["reason"] != router.ReasonShortQuery {
		t.Errorf("Expected forced SHORT_QUERY selection, got %v / %v", resp["forced"], resp["reason"])
	}

	u, _ := store.GetOrCreateUser(context.Background(), "a@example.com")
	d, _ := store.GetOrCreateDaily(context.Background(), u.ID, testDay)
	if d.QueriesUsed != 1 {
		t.Errorf("Expected usage recorded, got %+v", d)
	}
}

func TestHandleQuery_QuotaDenied(t *testing.T) {
	h, store := setupTest(t, true)
	ctx := context.Background()

	u, _ := store.GetOrCreateUser(ctx, "capped@example.com")
	_ = store.IncrementDaily(ctx, u.ID, testDay, 30, 0)

	req := asUser(httptest.NewRequest("POST", "/v1/query", strings.NewReader(`{"query":"hi"}`)), "capped@example.com")
	w := httptest.NewRecorder()

	h.HandleQuery(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", w.Code)
	}
	var resp map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["allowed"] != false || resp["reason"] != "DAILY_LIMIT_REACHED" {
		t.Errorf("Expected quota denial payload, got %v", resp)
	}
}

func TestHandleCheck_PlusAdvancedDowngrade(t *testing.T) {
	h, store := setupTest(t, true)
	ctx := context.Background()

	_, _ = store.GetOrCreateUser(ctx, "plus@example.com")
	store.SetTier("plus@example.com", "PLUS")

	body, _ := json.Marshal(checkRequest{Advanced: true})
	req := asUser(httptest.NewRequest("POST", "/v1/query/check", bytes.NewReader(body)), "plus@example.com")
	w := httptest.NewRecorder()

	h.HandleCheck(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp checkResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !resp.Allowed || !resp.ForceBasic || resp.ForceCheapest {
		t.Errorf("Expected allowed+force_basic, got %+v", resp)
	}
	if resp.Reason != "ADVANCED_QUOTA_EXHAUSTED" {
		t.Errorf("Expected ADVANCED_QUOTA_EXHAUSTED, got %s", resp.Reason)
	}
}

func TestHandleCheck_MonthlyCapBoundary(t *testing.T) {
	h, store := setupTest(t, true)
	ctx := context.Background()

	u, _ := store.GetOrCreateUser(ctx, "free@example.com")
	_ = store.IncrementMonthlyCost(ctx, u.ID, "2026-08", 2.99)

	body, _ := json.Marshal(checkRequest{EstimatedCost: 0.02})
	req := asUser(httptest.NewRequest("POST", "/v1/query/check", bytes.NewReader(body)), "free@example.com")
	w := httptest.NewRecorder()

	h.HandleCheck(w, req)

	var resp checkResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !resp.Allowed || !resp.ForceCheapest {
		t.Errorf("Expected force_cheapest at cap boundary, got %+v", resp)
	}
}

func TestHandleRoute_ShortQuery(t *testing.T) {
	h, _ := setupTest(t, true)
	req := asUser(httptest.NewRequest("POST", "/v1/route", strings.NewReader(`{"query":"hi"}`)), "fresh@example.com")
	w := httptest.NewRecorder()

	h.HandleRoute(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp routeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !resp.Allowed || resp.Model != model.Basic || !resp.Forced || resp.Reason != router.ReasonShortQuery {
		t.Errorf("Expected forced basic SHORT_QUERY route, got %+v", resp)
	}
}

func TestHandleRoute_DoesNotRecord(t *testing.T) {
	h, store := setupTest(t, true)
	req := asUser(httptest.NewRequest("POST", "/v1/route", strings.NewReader(`{"query":"hi"}`)), "fresh@example.com")
	w := httptest.NewRecorder()

	h.HandleRoute(w, req)

	u, _ := store.GetOrCreateUser(context.Background(), "fresh@example.com")
	d, _ := store.GetOrCreateDaily(context.Background(), u.ID, testDay)
	if d.QueriesUsed != 0 {
		t.Errorf("Route must not record usage, got %+v", d)
	}
}

func TestHandleRecord(t *testing.T) {
	h, store := setupTest(t, true)

	body, _ := json.Marshal(recordRequest{Advanced: true, Cost: 0.04})
	req := asUser(httptest.NewRequest("POST", "/v1/usage/record", bytes.NewReader(body)), "svc@example.com")
	w := httptest.NewRecorder()

	h.HandleRecord(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["status"] != "RECORDED" {
		t.Errorf("Expected RECORDED status, got %v", resp)
	}

	u, _ := store.GetOrCreateUser(context.Background(), "svc@example.com")
	d, _ := store.GetOrCreateDaily(context.Background(), u.ID, testDay)
	if d.QueriesUsed != 1 || d.AdvancedUsed != 1 {
		t.Errorf("Expected recorded counters, got %+v", d)
	}
}

func TestHandleRecord_NegativeCost(t *testing.T) {
	h, _ := setupTest(t, true)

	body, _ := json.Marshal(recordRequest{Cost: -0.01})
	req := asUser(httptest.NewRequest("POST", "/v1/usage/record", bytes.NewReader(body)), "svc@example.com")
	w := httptest.NewRecorder()

	h.HandleRecord(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestHandleUsage(t *testing.T) {
	h, store := setupTest(t, true)
	ctx := context.Background()

	u, _ := store.GetOrCreateUser(ctx, "a@example.com")
	_ = store.IncrementDaily(ctx, u.ID, testDay, 10, 0)
	_ = store.IncrementMonthlyCost(ctx, u.ID, "2026-08", 1.25)

	req := asUser(httptest.NewRequest("GET", "/v1/usage", nil), "a@example.com")
	w := httptest.NewRecorder()

	h.HandleUsage(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["tier"] != "FREE" {
		t.Errorf("Expected FREE tier, got %v", resp["tier"])
	}
	if resp["daily_remaining"].(float64) != 20 {
		t.Errorf("Expected 20 daily remaining, got %v", resp["daily_remaining"])
	}
	if resp["monthly_remaining_usd"].(float64) != 1.75 {
		t.Errorf("Expected 1.75 monthly remaining, got %v", resp["monthly_remaining_usd"])
	}
}

func TestHandleUsage_MissingIdentity(t *testing.T) {
	h, _ := setupTest(t, true)
	req := httptest.NewRequest("GET", "/v1/usage", nil)
	w := httptest.NewRecorder()

	h.HandleUsage(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}
