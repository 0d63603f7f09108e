package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/inaiurai/studio/internal/models"
)

const maxAssetBytes = 256 << 20

// HTTPProvider talks to a JSON job API:
//
//	POST {base}/v1/jobs        {"kind","params"} -> {"id"}
//	GET  {base}/v1/jobs/{id}   -> {"status","output_url","content_type","error","retryable"}
type HTTPProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[any]
}

type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

func NewHTTPProvider(cfg HTTPConfig) *HTTPProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPProvider{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:        "inference-provider",
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			// Rejected input says nothing about provider health.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrFatal)
			},
		}),
	}
}

var _ Provider = (*HTTPProvider)(nil)

func (p *HTTPProvider) Submit(ctx context.Context, kind models.Kind, params json.RawMessage) (string, error) {
	body, err := json.Marshal(struct {
		Kind   models.Kind     `json:"kind"`
		Params json.RawMessage `json:"params"`
	}{kind, params})
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %v", ErrFatal, err)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := p.doJSON(ctx, http.MethodPost, p.baseURL+"/v1/jobs", body, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("%w: provider returned no job id", ErrTransient)
	}
	return out.ID, nil
}

func (p *HTTPProvider) Poll(ctx context.Context, handle string) (*Result, error) {
	var out struct {
		Status      string `json:"status"`
		OutputURL   string `json:"output_url"`
		ContentType string `json:"content_type"`
		Error       string `json:"error"`
		Retryable   bool   `json:"retryable"`
	}
	if err := p.doJSON(ctx, http.MethodGet, p.baseURL+"/v1/jobs/"+url.PathEscape(handle), nil, &out); err != nil {
		return nil, err
	}
	res := &Result{AssetURL: out.OutputURL, ContentType: out.ContentType, Error: out.Error, Retryable: out.Retryable}
	switch strings.ToLower(out.Status) {
	case "succeeded", "completed":
		res.State = StateSucceeded
	case "failed", "error":
		res.State = StateFailed
	default:
		res.State = StatePending
	}
	return res, nil
}

func (p *HTTPProvider) Fetch(ctx context.Context, assetURL string) ([]byte, string, error) {
	var data []byte
	var contentType string
	_, err := p.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFatal, err)
		}
		resp, err := p.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: fetch asset: %v", ErrTransient, err)
		}
		defer resp.Body.Close()
		if err := classifyStatus(resp); err != nil {
			return nil, err
		}
		data, err = io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes))
		if err != nil {
			return nil, fmt.Errorf("%w: read asset: %v", ErrTransient, err)
		}
		contentType = resp.Header.Get("Content-Type")
		return nil, nil
	})
	if err != nil {
		return nil, "", breakerErr(err)
	}
	return data, contentType, nil
}

func (p *HTTPProvider) doJSON(ctx context.Context, method, endpoint string, body []byte, out any) error {
	_, err := p.breaker.Execute(func() (any, error) {
		var r io.Reader
		if body != nil {
			r = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFatal, err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if p.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+p.apiKey)
		}
		resp, err := p.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransient, err)
		}
		defer resp.Body.Close()
		if err := classifyStatus(resp); err != nil {
			return nil, err
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("%w: decode response: %v", ErrTransient, err)
		}
		return nil, nil
	})
	return breakerErr(err)
}

// classifyStatus maps 429 and 5xx to ErrTransient and other non-2xx codes to ErrFatal.
func classifyStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d: %s", ErrTransient, resp.StatusCode, bytes.TrimSpace(msg))
	}
	return fmt.Errorf("%w: status %d: %s", ErrFatal, resp.StatusCode, bytes.TrimSpace(msg))
}

func breakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return err
}
