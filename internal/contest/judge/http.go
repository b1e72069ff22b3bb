package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"arena/internal/contest/model"
)

// HTTPConfig points the client at the judge service.
type HTTPConfig struct {
	BaseURL string        `yaml:"baseURL" env:"BASE_URL"`
	Timeout time.Duration `yaml:"timeout"`
}

// HTTPClient calls POST {BaseURL}/evaluate.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type evaluateCase struct {
	Input    string `json:"input"`
	Expected string `json:"expected"`
}

type evaluateRequest struct {
	Code      string         `json:"code"`
	Language  string         `json:"language"`
	TestCases []evaluateCase `json:"test_cases"`
}

type evaluateResponse struct {
	Pass                bool               `json:"pass"`
	Results             []model.CaseResult `json:"results"`
	InfrastructureError string             `json:"infrastructure_error,omitempty"`
}

func (c *HTTPClient) Evaluate(ctx context.Context, req Request) (*Result, error) {
	payload := evaluateRequest{Code: req.Code, Language: req.Language, TestCases: make([]evaluateCase, 0, len(req.TestCases))}
	for _, tc := range req.TestCases {
		payload.TestCases = append(payload.TestCases, evaluateCase{Input: tc.Input, Expected: tc.Expected})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode evaluate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build evaluate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.AttemptID != "" {
		httpReq.Header.Set("X-Request-Id", req.AttemptID)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var out evaluateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if out.InfrastructureError != "" {
		return &Result{InfraError: out.InfrastructureError}, fmt.Errorf("%w: %s", ErrUnavailable, out.InfrastructureError)
	}
	return &Result{Passed: out.Pass, Cases: out.Results}, nil
}

var _ Judge = (*HTTPClient)(nil)
