package dingtalk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/memohai/dingbot/internal/config"
)

const tokenPath = "/v1.0/oauth2/accessToken"

// ErrNotConfigured means an account lacks a usable credential pair. Sends
// against such accounts fail before any network I/O.
var ErrNotConfigured = errors.New("dingtalk credentials not configured")

// AuthError is a failed token exchange: non-2xx status, network error,
// timeout, or a success body missing the token value.
type AuthError struct {
	Status int
	Body   string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("token exchange failed: %v", e.Err)
	}
	return fmt.Sprintf("token exchange failed: HTTP %d: %s", e.Status, e.Body)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// ProbeResult is the outcome of a credential probe.
type ProbeResult struct {
	OK        bool   `json:"ok"`
	RobotCode string `json:"robotCode,omitempty"`
	Error     string `json:"error,omitempty"`
}

// TokenCache acquires access tokens per account. When the account has a
// live stream connection, the connection's own cached token is reused;
// otherwise a direct exchange is performed. Concurrent exchanges for one
// account are coalesced, but every call may still perform network I/O.
type TokenCache struct {
	registry   *Registry
	apiBase    string
	httpClient *http.Client
	logger     *slog.Logger
	group      singleflight.Group
}

// NewTokenCache creates a TokenCache backed by the given connection
// registry.
func NewTokenCache(log *slog.Logger, registry *Registry, apiBase string, httpClient *http.Client) *TokenCache {
	if log == nil {
		log = slog.Default()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &TokenCache{
		registry:   registry,
		apiBase:    apiBase,
		httpClient: httpClient,
		logger:     log.With(slog.String("component", "token")),
	}
}

// GetToken returns a live access token for the account.
func (t *TokenCache) GetToken(ctx context.Context, account config.Account) (string, error) {
	if !account.Configured() {
		return "", ErrNotConfigured
	}
	if t.registry != nil {
		if client, ok := t.registry.Get(account.AccountID); ok {
			return client.AccessToken(ctx)
		}
	}

	value, err, _ := t.group.Do(account.AccountID, func() (any, error) {
		token, _, err := ExchangeToken(ctx, t.httpClient, t.apiBase, account.ClientID, account.ClientSecret)
		return token, err
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

// Probe verifies the credential pair by performing a token exchange with an
// explicit timeout. Expiry of the timeout is a failure, never a success.
func (t *TokenCache) Probe(ctx context.Context, clientID, clientSecret string, timeout time.Duration) ProbeResult {
	if clientID == "" || clientSecret == "" {
		return ProbeResult{Error: "missing clientId or clientSecret"}
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if _, _, err := ExchangeToken(ctx, t.httpClient, t.apiBase, clientID, clientSecret); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ProbeResult{Error: "timeout"}
		}
		return ProbeResult{Error: err.Error()}
	}
	return ProbeResult{OK: true, RobotCode: clientID}
}

// ExchangeToken performs one access-token exchange against the identity
// provider. The returned expiry is the upstream hint in seconds.
func ExchangeToken(ctx context.Context, httpClient *http.Client, apiBase, clientID, clientSecret string) (string, int, error) {
	payload, err := json.Marshal(map[string]string{
		"appKey":    clientID,
		"appSecret": clientSecret,
	})
	if err != nil {
		return "", 0, &AuthError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiBase+tokenPath, bytes.NewReader(payload))
	if err != nil {
		return "", 0, &AuthError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", 0, &AuthError{Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, &AuthError{Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, &AuthError{Status: resp.StatusCode, Body: string(body)}
	}

	var data struct {
		AccessToken string `json:"accessToken"`
		ExpireIn    int    `json:"expireIn"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return "", 0, &AuthError{Status: resp.StatusCode, Err: err}
	}
	if data.AccessToken == "" {
		return "", 0, &AuthError{Status: resp.StatusCode, Body: "no access token in response"}
	}
	return data.AccessToken, data.ExpireIn, nil
}
