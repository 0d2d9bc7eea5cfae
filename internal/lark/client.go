// Package lark implements the Lark (Feishu) Open Platform channel: an HTTP
// client for sending and updating messages, a websocket event stream for
// inbound messages, and a webhook handler for event subscriptions.
package lark

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/wukaijin/moltbot-with-lark/internal/provider"
)

const (
	// DefaultBaseURL is the Lark Open Platform API origin.
	DefaultBaseURL = "https://open.feishu.cn"

	// maxResponseBytes caps API response reads.
	maxResponseBytes = 10 << 20

	// tokenRefreshMargin refreshes the tenant token this long before its
	// reported expiry.
	tokenRefreshMargin = 5 * time.Minute
)

// APIError is a non-zero business code returned by the Lark API.
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lark: API error %d: %s", e.Code, e.Msg)
}

// Client is a thin HTTP wrapper around the Lark Open Platform API with
// cached tenant access token handling.
type Client struct {
	appID     string
	appSecret string
	baseURL   string
	http      *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time

	// now is replaceable in tests.
	now func() time.Time
}

// NewClient creates a Lark API client. baseURL may be empty to use the
// production endpoint.
func NewClient(appID, appSecret, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		appID:     appID,
		appSecret: appSecret,
		baseURL:   baseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
		},
		now: time.Now,
	}
}

// apiResponse is the standard Lark response envelope.
type apiResponse[T any] struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}

// tenantTokenResponse is the token endpoint's envelope (token at top level).
type tenantTokenResponse struct {
	Code              int    `json:"code"`
	Msg               string `json:"msg"`
	TenantAccessToken string `json:"tenant_access_token"`
	Expire            int    `json:"expire"`
}

// accessToken returns a valid tenant access token, fetching a fresh one
// when the cached token is absent or near expiry.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry.Add(-tokenRefreshMargin)) {
		return c.token, nil
	}

	payload, err := json.Marshal(map[string]string{
		"app_id":     c.appID,
		"app_secret": c.appSecret,
	})
	if err != nil {
		return "", fmt.Errorf("lark: marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/open-apis/auth/v3/tenant_access_token/internal",
		bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("lark: create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("lark: token request failed: %w", err)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	_ = resp.Body.Close()
	if err != nil {
		return "", fmt.Errorf("lark: read token response: %w", err)
	}

	if err := mapHTTPError(resp.StatusCode, body); err != nil {
		return "", err
	}

	var tr tenantTokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("lark: parse token response: %w", err)
	}
	if tr.Code != 0 {
		return "", fmt.Errorf("lark: fetch token: %w", &APIError{Code: tr.Code, Msg: tr.Msg})
	}

	c.token = tr.TenantAccessToken
	c.tokenExpiry = c.now().Add(time.Duration(tr.Expire) * time.Second)
	return c.token, nil
}

// do sends an authenticated JSON request and decodes the enveloped response.
func do[T any](ctx context.Context, c *Client, method, path string, payload any) (*T, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("lark: marshal %s request: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("lark: create %s request: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lark: %s request failed: %w", path, err)
	}
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	_ = resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("lark: read %s response: %w", path, err)
	}

	if err := mapHTTPError(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	var envelope apiResponse[T]
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, fmt.Errorf("lark: parse %s response: %w", path, err)
	}
	if envelope.Code != 0 {
		return nil, mapAPIError(envelope.Code, envelope.Msg)
	}

	return &envelope.Data, nil
}

// mapHTTPError maps a non-2xx HTTP status to a taxonomy sentinel.
func mapHTTPError(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	msg := string(body)
	switch {
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", provider.ErrRateLimit, msg)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", provider.ErrAuth, msg)
	case statusCode >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", provider.ErrProviderDown, statusCode, msg)
	default:
		return fmt.Errorf("lark: HTTP %d: %s", statusCode, msg)
	}
}

// Lark business codes that signal throttling or expired credentials.
const (
	codeRateLimited  = 99991400
	codeTokenExpired = 99991663
)

// mapAPIError maps a Lark business code to the taxonomy where one applies.
func mapAPIError(code int, msg string) error {
	apiErr := &APIError{Code: code, Msg: msg}
	switch code {
	case codeRateLimited:
		return fmt.Errorf("%w: %w", provider.ErrRateLimit, apiErr)
	case codeTokenExpired:
		return fmt.Errorf("%w: %w", provider.ErrAuth, apiErr)
	default:
		return apiErr
	}
}
