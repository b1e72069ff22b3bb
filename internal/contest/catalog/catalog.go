// Package catalog reads problems from the external problem service.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"arena/internal/common/cache"
	"arena/internal/contest/model"
	appErr "arena/pkg/errors"
)

// Catalog looks problems up by id. Implementations return ProblemNotFound
// for unknown ids and never mutate problems.
type Catalog interface {
	GetProblem(ctx context.Context, problemID string) (*model.Problem, error)
}

// HTTPConfig points the client at the problem service.
type HTTPConfig struct {
	BaseURL string        `yaml:"baseURL" env:"BASE_URL"`
	Timeout time.Duration `yaml:"timeout"`
}

// HTTPClient calls GET {BaseURL}/problems/{id}.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPClient{baseURL: strings.TrimRight(cfg.BaseURL, "/"), client: &http.Client{Timeout: timeout}}
}

// envelope matches the platform's response wrapper; bare problem bodies are accepted too.
type envelope struct {
	Code int             `json:"code"`
	Data json.RawMessage `json:"data"`
}

func (c *HTTPClient) GetProblem(ctx context.Context, problemID string) (*model.Problem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/problems/"+url.PathEscape(problemID), nil)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InternalServerError, "build catalog request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ServiceUnavailable, "problem catalog unreachable")
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, appErr.New(appErr.ProblemNotFound).WithDetail("problem_id", problemID)
	case resp.StatusCode != http.StatusOK:
		return nil, appErr.Newf(appErr.ServiceUnavailable, "problem catalog returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ServiceUnavailable, "read catalog response")
	}
	problem, err := decodeProblem(body)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ServiceUnavailable, "decode catalog response")
	}
	if problem.ID == "" {
		problem.ID = problemID
	}
	return problem, nil
}

func decodeProblem(body []byte) (*model.Problem, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && len(env.Data) > 0 && string(env.Data) != "null" {
		body = env.Data
	}
	var p model.Problem
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("problem payload: %w", err)
	}
	return &p, nil
}

// CachedConfig tunes the cache-aside decorator.
type CachedConfig struct {
	KeyPrefix string        `yaml:"keyPrefix"`
	TTL       time.Duration `yaml:"ttl"`
	EmptyTTL  time.Duration `yaml:"emptyTTL"`
}

// Cached wraps a Catalog with Redis cache-aside. Unknown ids are cached as
// null markers for EmptyTTL.
type Cached struct {
	next  Catalog
	cache cache.Cache
	cfg   CachedConfig
}

func NewCached(next Catalog, c cache.Cache, cfg CachedConfig) *Cached {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "contest:problem:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.EmptyTTL <= 0 {
		cfg.EmptyTTL = 30 * time.Second
	}
	return &Cached{next: next, cache: c, cfg: cfg}
}

func (c *Cached) GetProblem(ctx context.Context, problemID string) (*model.Problem, error) {
	p, err := cache.GetWithCached(ctx, c.cache, c.cfg.KeyPrefix+problemID, c.cfg.TTL, c.cfg.EmptyTTL,
		func(p *model.Problem) bool { return p == nil },
		func(p *model.Problem) (string, error) {
			b, err := json.Marshal(p)
			return string(b), err
		},
		func(s string) (*model.Problem, error) {
			var p model.Problem
			return &p, json.Unmarshal([]byte(s), &p)
		},
		func(ctx context.Context) (*model.Problem, error) {
			p, err := c.next.GetProblem(ctx, problemID)
			if appErr.Is(err, appErr.ProblemNotFound) {
				return nil, nil
			}
			return p, err
		},
	)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, appErr.New(appErr.ProblemNotFound).WithDetail("problem_id", problemID)
	}
	return p, nil
}

var (
	_ Catalog = (*HTTPClient)(nil)
	_ Catalog = (*Cached)(nil)
)
