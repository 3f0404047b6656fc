package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sarthi-ai/gateway/internal/model"
	"github.com/sarthi-ai/gateway/internal/quota"
)

type stubEstimator struct {
	est Estimate
	err error
}

func (s *stubEstimator) Estimate(ctx context.Context, query string) (Estimate, error) {
	return s.est, s.err
}

func newTestRegistry() *model.Registry {
	r := model.NewRegistry()
	r.Register(model.Info{ID: model.Basic, BaseCostUSD: 0.002}, model.NewStaticBackend("basic", "ok", 0.002))
	r.Register(model.Info{ID: model.Advanced, Advanced: true, BaseCostUSD: 0.03}, model.NewStaticBackend("advanced", "ok", 0.03))
	return r
}

func TestClassify_ForcedModelWins(t *testing.T) {
	// Estimator and length heuristic would both pick advanced; the quota
	// force must still win.
	est := &stubEstimator{est: Estimate{Model: model.Advanced, CostUSD: 0.03}}
	r := New(newTestRegistry(), est)

	dec := quota.Decision{Allowed: true, ForcedModel: quota.ForceBasic, Reason: quota.ReasonAdvancedQuotaExhausted}
	sel, err := r.Classify(context.Background(), "please analyze this very long query in depth", dec)
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if sel.Model != model.Basic {
		t.Errorf("Expected forced basic model, got %s", sel.Model)
	}
	if !sel.Forced {
		t.Errorf("Expected forced selection")
	}
	if sel.Reason != string(quota.ReasonAdvancedQuotaExhausted) {
		t.Errorf("Expected propagated quota reason, got %s", sel.Reason)
	}
}

func TestClassify_ForcedCheapestResolvesThroughRegistry(t *testing.T) {
	r := New(newTestRegistry(), &stubEstimator{})

	dec := quota.Decision{Allowed: true, ForcedModel: quota.ForceCheapest, Reason: quota.ReasonMonthlyCostCapReached}
	sel, err := r.Classify(context.Background(), "a long enough query to route", dec)
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if sel.Model != model.Basic {
		t.Errorf("Expected cheapest model %s, got %s", model.Basic, sel.Model)
	}
}

func TestClassify_ShortQuery(t *testing.T) {
	// Estimator would say advanced, but "hi" never reaches it.
	est := &stubEstimator{est: Estimate{Model: model.Advanced, CostUSD: 0.03}}
	r := New(newTestRegistry(), est)

	sel, err := r.Classify(context.Background(), "hi", quota.Decision{Allowed: true, Reason: quota.ReasonNone})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if sel.Model != model.Basic {
		t.Errorf("Expected basic for short query, got %s", sel.Model)
	}
	if !sel.Forced || sel.Reason != ReasonShortQuery {
		t.Errorf("Expected forced SHORT_QUERY selection, got %+v", sel)
	}
}

func TestClassify_DefersToEstimator(t *testing.T) {
	est := &stubEstimator{est: Estimate{Model: model.Advanced, CostUSD: 0.05}}
	r := New(newTestRegistry(), est)

	sel, err := r.Classify(context.Background(), "compare these two proposals for me", quota.Decision{Allowed: true, Reason: quota.ReasonNone})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if sel.Model != model.Advanced || sel.EstimatedCost != 0.05 {
		t.Errorf("Expected estimator suggestion, got %+v", sel)
	}
	if sel.Forced {
		t.Errorf("Estimator selection must not be marked forced")
	}
	if sel.Reason != ReasonClassifier {
		t.Errorf("Expected CLASSIFIER reason, got %s", sel.Reason)
	}
}

func TestClassify_EstimatorErrorSurfaces(t *testing.T) {
	wantErr := errors.New("classifier down")
	r := New(newTestRegistry(), &stubEstimator{err: wantErr})

	_, err := r.Classify(context.Background(), "a long enough query to route", quota.Decision{Allowed: true, Reason: quota.ReasonNone})
	if !errors.Is(err, wantErr) {
		t.Errorf("Expected estimator error to surface, got %v", err)
	}
}

func TestHeuristicEstimator(t *testing.T) {
	e := NewHeuristicEstimator(newTestRegistry())

	tests := []struct {
		query string
		want  string
	}{
		{"what time is it in delhi", model.Basic},
		{"please explain quantum entanglement", model.Advanced},
		{"compare option a with option b", model.Advanced},
	}

	for _, tc := range tests {
		est, err := e.Estimate(context.Background(), tc.query)
		if err != nil {
			t.Fatalf("Estimate(%q) failed: %v", tc.query, err)
		}
		if est.Model != tc.want {
			t.Errorf("Estimate(%q) = %s, want %s", tc.query, est.Model, tc.want)
		}
		if est.CostUSD <= 0 {
			t.Errorf("Estimate(%q): expected positive cost, got %f", tc.query, est.CostUSD)
		}
	}
}

func TestRemoteEstimator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req classifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Bad classify request: %v", err)
		}
		json.NewEncoder(w).Encode(classifyResponse{Model: model.Advanced, EstimatedCostUSD: 0.04})
	}))
	defer srv.Close()

	e := NewRemoteEstimator(srv.URL)
	est, err := e.Estimate(context.Background(), "some long analytical query")
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if est.Model != model.Advanced || est.CostUSD != 0.04 {
		t.Errorf("Unexpected estimate: %+v", est)
	}
}

func TestRemoteEstimator_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := NewRemoteEstimator(srv.URL)
	if _, err := e.Estimate(context.Background(), "query"); err == nil {
		t.Errorf("Expected error from failing classifier")
	}
}
