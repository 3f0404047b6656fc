package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RemoteEstimator delegates classification to an external service that
// returns a suggested model and a cost estimate. Errors surface as-is; retry
// policy belongs to the caller.
type RemoteEstimator struct {
	url    string
	client *http.Client
}

func NewRemoteEstimator(url string) *RemoteEstimator {
	return &RemoteEstimator{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type classifyRequest struct {
	Query string `json:"query"`
}

type classifyResponse struct {
	Model            string  `json:"model"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

func (e *RemoteEstimator) Estimate(ctx context.Context, query string) (Estimate, error) {
	body, err := json.Marshal(classifyRequest{Query: query})
	if err != nil {
		return Estimate{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", e.url, bytes.NewBuffer(body))
	if err != nil {
		return Estimate{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return Estimate{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return Estimate{}, fmt.Errorf("classifier error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var cr classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return Estimate{}, err
	}
	if cr.Model == "" {
		return Estimate{}, fmt.Errorf("classifier returned no model")
	}

	return Estimate{Model: cr.Model, CostUSD: cr.EstimatedCostUSD}, nil
}
