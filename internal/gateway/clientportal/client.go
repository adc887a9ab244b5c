// Package clientportal implements the gateway session over the IBKR Client
// Portal gateway: REST for accounts, summaries, positions and contract
// search, and the streaming websocket for market data snapshots.
package clientportal

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/TruWeaveTrader/plat-ibkr/internal/config"
)

const (
	userAgent = "plat-ibkr"
	// positions are served in pages of at most this many entries
	positionsPageSize = 100
)

// Client is a thin wrapper around the Client Portal REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// APIError is a non-2xx gateway response
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// NewClient creates a new Client Portal client
func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// the gateway serves a self-signed certificate on localhost
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: cfg.InsecureTLS} //nolint:gosec

	jar, _ := cookiejar.New(nil)

	burst := int(cfg.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}

	return &Client{
		baseURL: cfg.BaseURL(),
		httpClient: &http.Client{
			Timeout:   cfg.HTTPTimeout,
			Transport: transport,
			Jar:       jar,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		logger:  logger,
	}
}

// doRequest performs a paced HTTP request against the gateway
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body interface{}) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("gateway request", zap.String("method", method), zap.String("path", path))
	return c.httpClient.Do(req)
}

// parseResponse reads and unmarshals the response
func parseResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return &APIError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, target interface{}) error {
	resp, err := c.doRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	return parseResponse(resp, target)
}

// Tickle keeps the gateway session alive and reports its state
func (c *Client) Tickle(ctx context.Context) (*TickleResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/tickle", nil, struct{}{})
	if err != nil {
		return nil, err
	}

	var tickle TickleResponse
	if err := parseResponse(resp, &tickle); err != nil {
		return nil, err
	}
	return &tickle, nil
}

// Accounts lists the accounts the gateway session manages. The gateway
// requires this call before any other portfolio endpoint.
func (c *Client) Accounts(ctx context.Context) ([]Account, error) {
	var accounts []Account
	if err := c.get(ctx, "/portfolio/accounts", nil, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// Summary retrieves the account summary keyed by lower-case tag
func (c *Client) Summary(ctx context.Context, accountID string) (map[string]SummaryValue, error) {
	var summary map[string]SummaryValue
	path := fmt.Sprintf("/portfolio/%s/summary", url.PathEscape(accountID))
	if err := c.get(ctx, path, nil, &summary); err != nil {
		return nil, err
	}
	return summary, nil
}

// Positions retrieves one page of positions for an account
func (c *Client) Positions(ctx context.Context, accountID string, page int) ([]Position, error) {
	var positions []Position
	path := fmt.Sprintf("/portfolio/%s/positions/%d", url.PathEscape(accountID), page)
	if err := c.get(ctx, path, nil, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

// SearchContract looks up contracts by symbol
func (c *Client) SearchContract(ctx context.Context, symbol, secType string) ([]SecdefResult, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	if secType != "" {
		query.Set("secType", secType)
	}

	var results []SecdefResult
	if err := c.get(ctx, "/iserver/secdef/search", query, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// CloseIdleConnections releases pooled connections
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}
