// Package bridge is the web service's client for the execution/explanation
// backend (cmd/runner, or anything speaking the same JSON contract):
//
//	POST /run     {"code": "..."}  →  {"stdout": "...", "stderr": "..."}
//	POST /explain {"code": "..."}  →  {"explanation": "..."}
//
// Either endpoint may answer {"error": "..."} instead.
//
// Failures come back classified so the caller can tell them apart:
//   - apperror.ErrUnavailable: nothing answered (refused, DNS, timeout)
//   - apperror.ErrUpstream: the backend answered but reported a failure
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sakif/nalar/internal/apperror"
)

const (
	executionService   = "execution backend"
	explanationService = "explanation backend"

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 4 << 20
)

// RunOutput is what the program printed.
type RunOutput struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// Client calls the backend over HTTP. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a Client for baseURL. timeout bounds each call end to end;
// zero means no limit beyond the caller's context.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type codeRequest struct {
	Code string `json:"code"`
}

type runResponse struct {
	RunOutput
	Error string `json:"error"`
}

type explainResponse struct {
	Explanation string `json:"explanation"`
	Error       string `json:"error"`
}

// Run executes code on the backend.
func (c *Client) Run(ctx context.Context, code string) (*RunOutput, error) {
	var resp runResponse
	if err := c.post(ctx, executionService, "/run", code, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, apperror.Upstream(executionService, resp.Error)
	}
	return &resp.RunOutput, nil
}

// Explain asks the backend for a Markdown explanation of code.
func (c *Client) Explain(ctx context.Context, code string) (string, error) {
	var resp explainResponse
	if err := c.post(ctx, explanationService, "/explain", code, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", apperror.Upstream(explanationService, resp.Error)
	}
	// An empty answer would leave nothing to show and keep Ask AI on offer.
	if strings.TrimSpace(resp.Explanation) == "" {
		return "", apperror.Upstream(explanationService, "empty explanation")
	}
	return resp.Explanation, nil
}

func (c *Client) post(ctx context.Context, service, path, code string, dst any) error {
	body, err := json.Marshal(codeRequest{Code: code})
	if err != nil {
		return fmt.Errorf("bridge: encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("bridge: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return apperror.Unavailable(service, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		// The connection dropped mid-body.
		return apperror.Unavailable(service, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperror.Upstream(service, errorDetail(resp.StatusCode, raw))
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		return apperror.Upstream(service, "malformed response: "+err.Error())
	}
	return nil
}

// errorDetail pulls a message out of an error body. It understands our own
// {"error": ...} and the {"detail": ...} shape FastAPI backends send.
func errorDetail(status int, raw []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Detail  any    `json:"detail"`
	}
	if json.Unmarshal(raw, &body) == nil {
		switch {
		case body.Message != "":
			return body.Message
		case body.Error != "":
			return body.Error
		case body.Detail != nil:
			return fmt.Sprint(body.Detail)
		}
	}
	return fmt.Sprintf("%d %s", status, http.StatusText(status))
}
