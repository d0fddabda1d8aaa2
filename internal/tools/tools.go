// Package tools wraps the DingTalk workspace APIs (contact, todo, calendar,
// doc) behind uniform action-style clients. Every failure, including a bad
// parameter, comes back as a structured Result instead of an error so
// callers can relay it verbatim.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

const tokenHeader = "x-acs-dingtalk-access-token"

// Result is the uniform outcome of one tool invocation.
type Result struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

func failure(format string, args ...any) Result {
	return Result{Error: fmt.Sprintf(format, args...)}
}

// TokenFunc supplies an access token for one call.
type TokenFunc func(ctx context.Context) (string, error)

// Client issues authenticated calls against the DingTalk workspace APIs.
type Client struct {
	apiBase    string
	httpClient *http.Client
	token      TokenFunc
	logger     *slog.Logger
}

// NewClient creates a workspace API client.
func NewClient(log *slog.Logger, apiBase string, httpClient *http.Client, token TokenFunc) *Client {
	if log == nil {
		log = slog.Default()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		apiBase:    apiBase,
		httpClient: httpClient,
		token:      token,
		logger:     log.With(slog.String("component", "tools")),
	}
}

// call performs one authenticated request and normalizes the response.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, body any) Result {
	token, err := c.token(ctx)
	if err != nil {
		return failure("token: %v", err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return failure("encode request: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	u := c.apiBase + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return failure("build request: %v", err)
	}
	req.Header.Set(tokenHeader, token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return failure("%v", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return failure("read response: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return failure("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	data := json.RawMessage(respBody)
	if len(respBody) == 0 || !json.Valid(respBody) {
		data, _ = json.Marshal(string(respBody))
	}
	return Result{OK: true, Data: data}
}
