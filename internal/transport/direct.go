package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/nerrad567/reolink-core/internal/device"
)

const (
	cgiPath = "/cgi-bin/api.cgi"

	// rspLoginRequired is the device's "please login first" code, returned
	// when a cached token has expired or the device rebooted.
	rspLoginRequired = -6

	maxResponseBytes = 8 << 20

	tokenMinTTL      = 30 * time.Second
	tokenSafetyGap   = time.Minute
	tokenCacheExpiry = 50 * time.Minute
	tokenCacheSweep  = 10 * time.Minute
)

// DirectClient speaks the camera's native CGI API: every call POSTs a JSON
// array of commands and receives an array of results aligned with it.
//
// Login tokens are cached per device address and user until shortly before
// the lease ends. A "login required" answer drops the token and retries once.
//
// Thread Safety: All methods are safe for concurrent use.
type DirectClient struct {
	httpClient *http.Client
	tokens     *cache.Cache
	logger     Logger
}

// NewDirectClient creates a client. Cameras ship self-signed certificates,
// so certificate verification is disabled for https devices.
func NewDirectClient() *DirectClient {
	return &DirectClient{
		httpClient: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // self-signed device certificates
			},
		},
		tokens: cache.New(tokenCacheExpiry, tokenCacheSweep),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the client.
func (c *DirectClient) SetLogger(logger Logger) {
	c.logger = logger
}

// Send posts payloads as one batched call and returns the device's results.
func (c *DirectClient) Send(ctx context.Context, creds device.Credentials, payloads []string) ([]Result, error) {
	body, err := joinPayloads(payloads)
	if err != nil {
		return nil, err
	}

	token, err := c.token(ctx, creds)
	if err != nil {
		return nil, err
	}
	results, err := c.post(ctx, cgiURL(creds, "token="+token), body)
	if err != nil {
		return nil, err
	}

	if loginRequired(results) {
		c.logger.Debug("device token rejected, logging in again", "host", creds.Host)
		c.tokens.Delete(tokenKey(creds))
		if token, err = c.token(ctx, creds); err != nil {
			return nil, err
		}
		if results, err = c.post(ctx, cgiURL(creds, "token="+token), body); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// Login verifies the credentials, caching the token on success.
func (c *DirectClient) Login(ctx context.Context, creds device.Credentials) error {
	c.tokens.Delete(tokenKey(creds))
	_, err := c.token(ctx, creds)
	return err
}

// Forget drops any cached token for creds.
func (c *DirectClient) Forget(creds device.Credentials) {
	c.tokens.Delete(tokenKey(creds))
}

func (c *DirectClient) token(ctx context.Context, creds device.Credentials) (string, error) {
	key := tokenKey(creds)
	if cached, ok := c.tokens.Get(key); ok {
		return cached.(string), nil //nolint:forcetypeassert // only strings are stored
	}

	login := []map[string]any{{
		"cmd": "Login",
		"param": map[string]any{
			"User": map[string]any{
				"Version":  "0",
				"userName": creds.Username,
				"password": creds.Password,
			},
		},
	}}
	body, err := json.Marshal(login)
	if err != nil {
		return "", fmt.Errorf("encoding login: %w", err)
	}

	results, err := c.post(ctx, cgiURL(creds, "cmd=Login"), body)
	if err != nil {
		return "", err
	}
	if len(results) == 0 || results[0].Failed() {
		detail := "empty response"
		if len(results) > 0 && results[0].Error != nil {
			detail = results[0].Error.Error()
		}
		return "", fmt.Errorf("%w: %s: %s", ErrLoginFailed, creds.Host, detail)
	}

	var value struct {
		Token struct {
			Name      string `json:"name"`
			LeaseTime int    `json:"leaseTime"`
		} `json:"Token"`
	}
	if err := json.Unmarshal(results[0].Value, &value); err != nil || value.Token.Name == "" {
		return "", fmt.Errorf("%w: %s: no token in login response", ErrTransportUnreachable, creds.Host)
	}

	ttl := time.Duration(value.Token.LeaseTime)*time.Second - tokenSafetyGap
	if ttl < tokenMinTTL {
		ttl = tokenMinTTL
	}
	c.tokens.Set(key, value.Token.Name, ttl)
	c.logger.Debug("device login succeeded", "host", creds.Host, "lease_seconds", value.Token.LeaseTime)
	return value.Token.Name, nil
}

func (c *DirectClient) post(ctx context.Context, url string, body []byte) ([]Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ErrTransportUnreachable, err) //nolint:errorlint // sentinel carries the classification
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportUnreachable, err) //nolint:errorlint // sentinel carries the classification
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrTransportUnreachable, err) //nolint:errorlint // sentinel carries the classification
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: HTTP %d", ErrTransportUnreachable, resp.StatusCode)
	}

	var results []Result
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("%w: unparseable response: %v", ErrTransportUnreachable, err) //nolint:errorlint // sentinel carries the classification
	}
	return results, nil
}

func loginRequired(results []Result) bool {
	for _, r := range results {
		if r.Error != nil && r.Error.RspCode == rspLoginRequired {
			return true
		}
	}
	return false
}

// joinPayloads builds the request array, rejecting anything that is not a
// JSON object so a bad template never reaches the device.
func joinPayloads(payloads []string) ([]byte, error) {
	if len(payloads) == 0 {
		return nil, fmt.Errorf("%w: no payloads", ErrInvalidPayload)
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, p := range payloads {
		p = strings.TrimSpace(p)
		if !json.Valid([]byte(p)) || !strings.HasPrefix(p, "{") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPayload, p)
		}
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p)
	}
	b.WriteByte(']')
	return []byte(b.String()), nil
}

func cgiURL(creds device.Credentials, query string) string {
	return creds.BaseURL() + cgiPath + "?" + query
}

func tokenKey(creds device.Credentials) string {
	return creds.BaseURL() + "#" + creds.Username
}
