// Package client talks to a running gateway. The CLI status and watch
// commands use it.
package client

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"grimm.is/vpnadmin/internal/brand"
	"grimm.is/vpnadmin/internal/firewall"
	"grimm.is/vpnadmin/internal/health"
	"grimm.is/vpnadmin/internal/journal"
	"grimm.is/vpnadmin/internal/users"
)

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
	Details    string
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("API error (status %d): %s: %s", e.StatusCode, e.Message, e.Details)
	}
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// HTTPClient is a gateway API client.
type HTTPClient struct {
	baseURL             string
	apiKey              string
	httpClient          *http.Client
	expectedFingerprint string
	SeenFingerprint     string
}

// ClientOption configures the HTTPClient.
type ClientOption func(*HTTPClient)

// WithAPIKey sets the API key for authentication.
func WithAPIKey(key string) ClientOption {
	return func(c *HTTPClient) {
		c.apiKey = key
	}
}

// WithFingerprint pins the server certificate by its SHA-256 hex digest.
func WithFingerprint(fp string) ClientOption {
	return func(c *HTTPClient) {
		c.expectedFingerprint = strings.ToLower(strings.ReplaceAll(fp, ":", ""))
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.httpClient.Timeout = d
	}
}

// NewHTTPClient creates a client for baseURL, for example
// "https://vpn.example.com:3000". Self-signed certificates are accepted;
// use WithFingerprint to pin one.
func NewHTTPClient(baseURL string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.httpClient.Transport = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true, // verified below
			VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
				if len(rawCerts) == 0 {
					return nil
				}
				hash := sha256.Sum256(rawCerts[0])
				fingerprint := hex.EncodeToString(hash[:])
				c.SeenFingerprint = fingerprint

				if c.expectedFingerprint != "" && c.expectedFingerprint != fingerprint {
					return fmt.Errorf("certificate fingerprint mismatch: expected %s, got %s", c.expectedFingerprint, fingerprint)
				}
				return nil
			},
		},
	}
	return c
}

func (c *HTTPClient) doRequest(ctx context.Context, method, path string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", brand.UserAgent(brand.Version))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var e struct {
			Error   string `json:"error"`
			Details string `json:"details"`
		}
		if json.Unmarshal(respBody, &e) == nil && e.Error != "" {
			apiErr.Message = e.Error
			apiErr.Details = e.Details
		}
		return apiErr
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// Status retrieves a fresh status snapshot.
func (c *HTTPClient) Status(ctx context.Context) (*health.Snapshot, error) {
	var snap health.Snapshot
	if err := c.doRequest(ctx, http.MethodGet, "/api/status", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Users lists the provisioned VPN users.
func (c *HTTPClient) Users(ctx context.Context) ([]users.User, error) {
	var list []users.User
	if err := c.doRequest(ctx, http.MethodGet, "/api/users", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Rules lists the firewall rules.
func (c *HTTPClient) Rules(ctx context.Context) ([]firewall.Rule, error) {
	var rules []firewall.Rule
	if err := c.doRequest(ctx, http.MethodGet, "/api/iptables/list", nil, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// Logs returns recent journal entries of a monitored service. lines <= 0
// uses the server default.
func (c *HTTPClient) Logs(ctx context.Context, service string, lines int) ([]journal.Entry, error) {
	q := url.Values{"service": {service}}
	if lines > 0 {
		q.Set("lines", strconv.Itoa(lines))
	}
	var entries []journal.Entry
	if err := c.doRequest(ctx, http.MethodGet, "/api/logs?"+q.Encode(), nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// WatchStatus streams status snapshots from the websocket endpoint until ctx
// is cancelled or the connection drops. onSnapshot runs on the reading
// goroutine.
func (c *HTTPClient) WatchStatus(ctx context.Context, onSnapshot func(health.Snapshot)) error {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/api/ws/status"

	headers := http.Header{}
	if c.apiKey != "" {
		headers.Set("X-API-Key", c.apiKey)
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 45 * time.Second,
	}
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		dialer.TLSClientConfig = transport.TLSClientConfig
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return &APIError{StatusCode: resp.StatusCode, Message: "websocket handshake rejected"}
		}
		return fmt.Errorf("failed to dial websocket: %w", err)
	}
	defer conn.Close()

	// Unblock the read loop on cancel.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var snap health.Snapshot
		if err := conn.ReadJSON(&snap); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read error: %w", err)
		}
		onSnapshot(snap)
	}
}
