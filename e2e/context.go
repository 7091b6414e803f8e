package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TestContext holds the HTTP client and the last response of a scenario.
type TestContext struct {
	BaseURL string
	client  *http.Client

	status int
	body   []byte
}

func NewTestContext(baseURL string) *TestContext {
	return &TestContext{BaseURL: baseURL, client: &http.Client{Timeout: 10 * time.Second}}
}

func (tc *TestContext) reset() {
	tc.status = 0
	tc.body = nil
}

func (tc *TestContext) POST(path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, tc.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return tc.do(req)
}

func (tc *TestContext) GET(path string) error {
	req, err := http.NewRequest(http.MethodGet, tc.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return tc.do(req)
}

func (tc *TestContext) do(req *http.Request) error {
	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	tc.status = resp.StatusCode
	tc.body, err = io.ReadAll(resp.Body)
	return err
}

// Status returns the status code of the last response.
func (tc *TestContext) Status() int { return tc.status }

// DecodeResponse unmarshals the last response body into v.
func (tc *TestContext) DecodeResponse(v any) error {
	if err := json.Unmarshal(tc.body, v); err != nil {
		return fmt.Errorf("decode response %q: %w", tc.body, err)
	}
	return nil
}

func (tc *TestContext) serverIsHealthy(context.Context) error {
	if err := tc.GET("/healthz"); err != nil {
		return err
	}
	return tc.responseStatusShouldBe(context.Background(), http.StatusOK)
}

func (tc *TestContext) responseStatusShouldBe(_ context.Context, want int) error {
	if tc.status != want {
		return fmt.Errorf("expected status %d, got %d: %s", want, tc.status, tc.body)
	}
	return nil
}
