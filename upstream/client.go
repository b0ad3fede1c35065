// Package upstream implements the outbound half of the OAuth 2.0 Device
// Authorization Grant (RFC 8628): the device-code request and the token
// exchange against a configured provider. The client is stateless and never
// retries; poll cadence belongs to the caller.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sandboxhq/devicelink/domain"
	serrors "github.com/sandboxhq/devicelink/errors"
)

const deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"

// DefaultTimeout bounds every upstream round trip unless the caller's
// context is stricter.
const DefaultTimeout = 10 * time.Second

// DeviceCodeResponse is the upstream's answer to a device authorization
// request (RFC 8628 §3.2).
type DeviceCodeResponse struct {
	DeviceCode      string
	UserCode        string
	VerificationURI string
	ExpiresIn       int
	Interval        int
}

// TokenOutcome tags the result of one token exchange.
type TokenOutcome string

const (
	OutcomeSuccess  TokenOutcome = "success"
	OutcomePending  TokenOutcome = "pending"
	OutcomeSlowDown TokenOutcome = "slow_down"
	OutcomeExpired  TokenOutcome = "expired"
	OutcomeDenied   TokenOutcome = "denied"
	OutcomeError    TokenOutcome = "error"
)

// TokenResult is the typed outcome of a token exchange. AccessToken and
// Scopes are set only for OutcomeSuccess; ErrorCode/ErrorDescription only
// for OutcomeError.
type TokenResult struct {
	Outcome          TokenOutcome
	AccessToken      string
	Scopes           []string
	ErrorCode        string
	ErrorDescription string
}

// Client performs device-grant HTTP calls. Safe for concurrent use.
type Client struct {
	httpClient *http.Client
}

// NewClient builds a Client whose requests are bounded by timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

// NewClientWithHTTP wraps an existing http.Client, mainly for tests.
func NewClientWithHTTP(hc *http.Client) *Client {
	return &Client{httpClient: hc}
}

// RequestDeviceCode asks the provider's device authorization endpoint for a
// fresh device code / user code pair. A transport failure or a non-success
// response is reported as an error; no flow state exists yet at this point.
func (c *Client) RequestDeviceCode(ctx context.Context, provider *domain.Provider) (*DeviceCodeResponse, error) {
	form := url.Values{
		"client_id": {provider.ClientID},
		"scope":     {strings.Join(provider.Scopes, " ")},
	}

	body, status, err := c.postForm(ctx, provider.DeviceAuthURL, form)
	if err != nil {
		return nil, fmt.Errorf("device code request to %s: %w", provider.ID, err)
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("device code request to %s: unexpected status %d", provider.ID, status)
	}

	// GitHub answers with verification_uri; a few older servers use
	// verification_url. Accept both.
	var payload struct {
		DeviceCode      string `json:"device_code"`
		UserCode        string `json:"user_code"`
		VerificationURI string `json:"verification_uri"`
		VerificationURL string `json:"verification_url"`
		ExpiresIn       int    `json:"expires_in"`
		Interval        int    `json:"interval"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("device code request to %s: decoding response: %w", provider.ID, err)
	}
	if payload.DeviceCode == "" || payload.UserCode == "" {
		return nil, fmt.Errorf("device code request to %s: response missing device_code or user_code", provider.ID)
	}

	verificationURI := payload.VerificationURI
	if verificationURI == "" {
		verificationURI = payload.VerificationURL
	}

	return &DeviceCodeResponse{
		DeviceCode:      payload.DeviceCode,
		UserCode:        payload.UserCode,
		VerificationURI: verificationURI,
		ExpiresIn:       payload.ExpiresIn,
		Interval:        payload.Interval,
	}, nil
}

// ExchangeToken performs one poll of the provider's token endpoint. Protocol
// outcomes, including OAuth error codes, are returned inside the TokenResult;
// the error return is reserved for transport-level failures (connection
// errors, timeouts, undecodable bodies), which callers treat as transient.
func (c *Client) ExchangeToken(ctx context.Context, provider *domain.Provider, deviceCode string) (*TokenResult, error) {
	form := url.Values{
		"client_id":   {provider.ClientID},
		"device_code": {deviceCode},
		"grant_type":  {deviceGrantType},
	}

	body, _, err := c.postForm(ctx, provider.TokenURL, form)
	if err != nil {
		return nil, fmt.Errorf("token exchange with %s: %w", provider.ID, err)
	}

	// Some servers signal protocol errors with HTTP 400, GitHub with 200.
	// The body is authoritative either way.
	var payload struct {
		AccessToken      string `json:"access_token"`
		TokenType        string `json:"token_type"`
		Scope            string `json:"scope"`
		ErrorCode        string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("token exchange with %s: decoding response: %w", provider.ID, err)
	}

	if payload.AccessToken != "" {
		return &TokenResult{
			Outcome:     OutcomeSuccess,
			AccessToken: payload.AccessToken,
			Scopes:      splitScope(payload.Scope),
		}, nil
	}

	switch payload.ErrorCode {
	case serrors.AuthorizationPending:
		return &TokenResult{Outcome: OutcomePending}, nil
	case serrors.SlowDown:
		return &TokenResult{Outcome: OutcomeSlowDown}, nil
	case serrors.ExpiredToken:
		return &TokenResult{Outcome: OutcomeExpired}, nil
	case serrors.AccessDenied:
		return &TokenResult{Outcome: OutcomeDenied}, nil
	case "":
		return nil, fmt.Errorf("token exchange with %s: response carries neither access_token nor error", provider.ID)
	default:
		return &TokenResult{
			Outcome:          OutcomeError,
			ErrorCode:        payload.ErrorCode,
			ErrorDescription: payload.ErrorDescription,
		}, nil
	}
}

func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response body: %w", err)
	}

	return body, resp.StatusCode, nil
}

func splitScope(scope string) []string {
	if scope == "" {
		return nil
	}
	return strings.Fields(scope)
}
