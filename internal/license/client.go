package license

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"aigem/internal/config"
	licenseErrors "aigem/internal/errors"
	"aigem/pkg/contracts"
	api "aigem/pkg/contracts/api/v1"
)

const (
	requestTimeout  = 30 * time.Second
	maxResponseSize = 1 << 20
)

// Client talks to the licensing server. Per-call deadlines come from the
// caller's context; the HTTP client timeout is only an upper bound.
type Client struct {
	baseURL   string
	userAgent string

	httpClient *http.Client
}

type OptFunc func(*Client)

// WithBaseURL sets the licensing server base URL, e.g. https://host/api.
func WithBaseURL(baseURL string) OptFunc {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

func WithUserAgent(userAgent string) OptFunc {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// WithHTTPClient sets a custom HTTP client to use for requests
func WithHTTPClient(httpClient *http.Client) OptFunc {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a licensing server client with the default HTTP client
func NewClient(opts ...OptFunc) *Client {
	c := &Client{
		baseURL:   config.DefaultAPIBaseURL,
		userAgent: "aigem-license/" + contracts.Version,

		httpClient: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// BaseURL returns the configured server address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Activate exchanges a license key for an activation key. A non-200 reply is a
// *RejectionError with the server's message; transport failures are *NetworkError.
func (c *Client) Activate(ctx context.Context, activateReq api.ActivateRequest) (*api.ActivateResponse, error) {
	status, body, err := c.post(ctx, config.ActivateEndpoint, activateReq)
	if err != nil {
		return nil, err
	}

	if status != http.StatusOK {
		return nil, licenseErrors.NewRejectionError(status, serverMessage(body))
	}

	var response api.ActivateResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("%w: could not decode activation response: %v", licenseErrors.ErrActivationFailed, err)
	}
	if response.ActivationKey == "" {
		return nil, fmt.Errorf("%w: activation response has no activation key", licenseErrors.ErrActivationFailed)
	}

	return &response, nil
}

// Heartbeat refreshes an activation key.
func (c *Client) Heartbeat(ctx context.Context, heartbeatReq api.HeartbeatRequest) (*api.HeartbeatResponse, error) {
	status, body, err := c.post(ctx, config.HeartbeatEndpoint, heartbeatReq)
	if err != nil {
		return nil, err
	}

	if status != http.StatusOK {
		msg := serverMessage(body)
		if msg == "" {
			msg = http.StatusText(status)
		}
		return nil, fmt.Errorf("heartbeat rejected with status %d: %s", status, msg)
	}

	var response api.HeartbeatResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("could not decode heartbeat response: %w", err)
	}
	if response.ActivationKey == "" {
		return nil, fmt.Errorf("heartbeat response has no activation key")
	}

	return &response, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload interface{}) (int, []byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, licenseErrors.NewNetworkError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, nil, licenseErrors.NewNetworkError(fmt.Errorf("failed to read response: %w", err))
	}

	return resp.StatusCode, body, nil
}

// serverMessage extracts the "error" field of a failure body, if any.
func serverMessage(body []byte) string {
	var response api.ErrorResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ""
	}
	return strings.TrimSpace(response.Error)
}
