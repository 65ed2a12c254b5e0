package keys

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rothirschtec/Simple-Backup-Environment/pkg/health"
)

// HealthTimeout bounds the key service health probe
const HealthTimeout = 5 * time.Second

// ErrKeyNotFound is returned when the key service has no key for a host
var ErrKeyNotFound = errors.New("key not found")

// ClientConfig configures a key service client
type ClientConfig struct {
	Host      string
	APIKey    string
	VerifyTLS bool
	Timeout   time.Duration
}

// Client talks to the remote key service:
//
//	GET    /health               -> {"status":"healthy"}
//	POST   /api/keys             <- {"hostname","key"}
//	GET    /api/keys/{hostname}  -> {"hostname","key"}, 404 if absent
//	DELETE /api/keys/{hostname}
//
// Every request carries the API key as a bearer token.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

type keyPayload struct {
	Hostname string `json:"hostname"`
	Key      string `json:"key"`
}

// NewClient creates a key service client
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}
	if !cfg.VerifyTLS {
		httpClient.Transport = health.InsecureTransport()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.Host, "/"),
		apiKey:  cfg.APIKey,
		http:    httpClient,
	}
}

// Health probes /health with a 5 second timeout
func (c *Client) Health(ctx context.Context) error {
	probeClient := &http.Client{Timeout: HealthTimeout, Transport: c.http.Transport}
	checker := health.NewHTTPChecker(c.baseURL+"/health").
		WithClient(probeClient).
		WithHeader("Authorization", "Bearer "+c.apiKey).
		WithBodyCheck(func(body []byte) error {
			var resp struct {
				Status string `json:"status"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("invalid health response: %w", err)
			}
			if resp.Status != "healthy" {
				return fmt.Errorf("key service status %q", resp.Status)
			}
			return nil
		})

	result := checker.Check(ctx)
	if !result.Healthy {
		return fmt.Errorf("key service unhealthy: %s", result.Message)
	}
	return nil
}

// Get fetches the key stored for hostname
func (c *Client) Get(ctx context.Context, hostname string) ([]byte, error) {
	if hostname == "" {
		return nil, fmt.Errorf("hostname is required")
	}

	resp, err := c.do(ctx, http.MethodGet, "/api/keys/"+url.PathEscape(hostname), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w for %s", ErrKeyNotFound, hostname)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("retrieving key", resp)
	}

	var payload keyPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("invalid JSON response from key service: %w", err)
	}
	if payload.Key == "" {
		return nil, fmt.Errorf("key missing in response for %s", hostname)
	}
	return []byte(payload.Key), nil
}

// Store saves a key for hostname
func (c *Client) Store(ctx context.Context, hostname string, key []byte) error {
	if hostname == "" || len(key) == 0 {
		return fmt.Errorf("hostname and key are required")
	}

	body, err := json.Marshal(keyPayload{Hostname: hostname, Key: string(key)})
	if err != nil {
		return fmt.Errorf("failed to encode key: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/keys", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return statusError("storing key", resp)
	}
	return nil
}

// Delete removes the key of hostname
func (c *Client) Delete(ctx context.Context, hostname string) error {
	if hostname == "" {
		return fmt.Errorf("hostname is required")
	}

	resp, err := c.do(ctx, http.MethodDelete, "/api/keys/"+url.PathEscape(hostname), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w for %s", ErrKeyNotFound, hostname)
	}
	if resp.StatusCode != http.StatusOK {
		return statusError("deleting key", resp)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error connecting to key service: %w", err)
	}
	return resp, nil
}

func statusError(action string, resp *http.Response) error {
	text, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := fmt.Sprintf("error %s: HTTP %d", action, resp.StatusCode)
	if t := strings.TrimSpace(string(text)); t != "" {
		msg += " - " + t
	}
	return errors.New(msg)
}
