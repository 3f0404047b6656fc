package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPBackend invokes an OpenAI-compatible chat completion endpoint for one
// upstream model and converts reported token usage into a realized cost.
type HTTPBackend struct {
	name        string
	upstream    string // upstream model name sent on the wire
	endpoint    string
	apiKey      string
	inCostUSD   float64 // per input token
	outCostUSD  float64 // per output token
	client      *http.Client
}

func NewHTTPBackend(name, upstream, endpoint, apiKey string, inCostUSD, outCostUSD float64, timeout time.Duration) *HTTPBackend {
	return &HTTPBackend{
		name:       name,
		upstream:   upstream,
		endpoint:   endpoint,
		apiKey:     apiKey,
		inCostUSD:  inCostUSD,
		outCostUSD: outCostUSD,
		client:     &http.Client{Timeout: timeout},
	}
}

type completionRequest struct {
	Model    string              `json:"model"`
	Messages []completionMessage `json:"messages"`
}

type completionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionResponse struct {
	Choices []struct {
		Message completionMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (b *HTTPBackend) Invoke(ctx context.Context, query string) (*Result, error) {
	body, err := json.Marshal(completionRequest{
		Model:    b.upstream,
		Messages: []completionMessage{{Role: "user", Content: query}},
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", b.endpoint, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", b.apiKey))
	}

	start := time.Now()
	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("model backend %s error (status %d): %s", b.name, resp.StatusCode, string(respBody))
	}

	var cr completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, err
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("model backend %s returned no choices", b.name)
	}

	return &Result{
		Text: cr.Choices[0].Message.Content,
		ActualCostUSD: float64(cr.Usage.PromptTokens)*b.inCostUSD +
			float64(cr.Usage.CompletionTokens)*b.outCostUSD,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

func (b *HTTPBackend) Name() string {
	return b.name
}
