package health

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxBodyBytes caps how much of a response body a BodyCheck sees
const maxBodyBytes = 64 << 10

// HTTPChecker probes an HTTP endpoint, such as the key service /health
type HTTPChecker struct {
	URL     string
	Method  string
	Headers map[string]string

	// ExpectedStatusMin and ExpectedStatusMax bound acceptable status codes
	ExpectedStatusMin int
	ExpectedStatusMax int

	// BodyCheck validates the response body when set
	BodyCheck func(body []byte) error

	Client *http.Client
}

// NewHTTPChecker creates an HTTP checker accepting 200-299
func NewHTTPChecker(url string) *HTTPChecker {
	return &HTTPChecker{
		URL:               url,
		Method:            http.MethodGet,
		Headers:           make(map[string]string),
		ExpectedStatusMin: 200,
		ExpectedStatusMax: 299,
		Client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Check performs the HTTP probe
func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, h.Method, h.URL, nil)
	if err != nil {
		return failed(start, fmt.Sprintf("failed to create request: %v", err))
	}
	for key, value := range h.Headers {
		req.Header.Set(key, value)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return failed(start, fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()

	message := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	if resp.StatusCode < h.ExpectedStatusMin || resp.StatusCode > h.ExpectedStatusMax {
		return failed(start, fmt.Sprintf("%s (expected %d-%d)", message, h.ExpectedStatusMin, h.ExpectedStatusMax))
	}

	if h.BodyCheck != nil {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return failed(start, fmt.Sprintf("failed to read body: %v", err))
		}
		if err := h.BodyCheck(body); err != nil {
			return failed(start, fmt.Sprintf("%s: %v", message, err))
		}
	}

	return passed(start, message)
}

// Type returns the probe type
func (h *HTTPChecker) Type() CheckType {
	return CheckTypeHTTP
}

// WithHeader adds a request header
func (h *HTTPChecker) WithHeader(key, value string) *HTTPChecker {
	h.Headers[key] = value
	return h
}

// WithBodyCheck sets the body validator
func (h *HTTPChecker) WithBodyCheck(fn func(body []byte) error) *HTTPChecker {
	h.BodyCheck = fn
	return h
}

// WithTimeout sets the client timeout
func (h *HTTPChecker) WithTimeout(timeout time.Duration) *HTTPChecker {
	h.Client.Timeout = timeout
	return h
}

// WithClient replaces the HTTP client, keeping its own timeout
func (h *HTTPChecker) WithClient(client *http.Client) *HTTPChecker {
	h.Client = client
	return h
}

// InsecureTransport returns a transport that skips certificate verification,
// for key services using self-signed certificates
func InsecureTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 -- opt-in via verify_tls=false
	return t
}
