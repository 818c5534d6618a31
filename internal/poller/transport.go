package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"tgnms.poller/internal/core/domain"
)

const (
	// DefaultControllerPort is the controller API service port.
	DefaultControllerPort = 8080

	defaultRequestTimeout = 30 * time.Second
	maxResponseBytes      = 64 << 20
)

// Request describes one call against a controller's management API.
type Request struct {
	Address string // controller host, IPv4 or IPv6 literal or hostname
	BaseURL string // overrides Address when set
	Method  string // API method, e.g. getTopology
	Body    any    // JSON body; nil sends {}
}

// Client performs a single call. Implementations never return errors: a failure
// is reported through the outcome.
type Client interface {
	Call(ctx context.Context, req Request) domain.QueryOutcome
}

type ClientFunc func(ctx context.Context, req Request) domain.QueryOutcome

func (f ClientFunc) Call(ctx context.Context, req Request) domain.QueryOutcome {
	return f(ctx, req)
}

// StatusError is recorded on outcomes whose response was not 2xx.
type StatusError struct {
	Method     string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Method, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Method, e.StatusCode, e.Body)
}

// HTTPClient posts JSON to the controller API service.
type HTTPClient struct {
	client *http.Client
	port   int
}

type HTTPOption func(*HTTPClient)

func WithPort(port int) HTTPOption {
	return func(c *HTTPClient) {
		if port > 0 {
			c.port = port
		}
	}
}

func WithTimeout(d time.Duration) HTTPOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) {
		if hc != nil {
			c.client = hc
		}
	}
}

func NewHTTPClient(opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		client: &http.Client{
			Timeout:   defaultRequestTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		port: DefaultControllerPort,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL builds the API service root for a controller address, bracketing
// IPv6 literals.
func BaseURL(address string, port int) string {
	host := strings.TrimSpace(address)
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	host = strings.ReplaceAll(host, "%", "%25") // IPv6 zone
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// URL returns the endpoint for req.
func (c *HTTPClient) URL(req Request) string {
	base := strings.TrimRight(strings.TrimSpace(req.BaseURL), "/")
	if base == "" {
		base = BaseURL(req.Address, c.port)
	}
	return base + "/api/" + req.Method
}

func (c *HTTPClient) Call(ctx context.Context, req Request) domain.QueryOutcome {
	start := time.Now()
	outcome := domain.QueryOutcome{Attempts: 1}
	fail := func(err error) domain.QueryOutcome {
		outcome.Success = false
		outcome.Err = err
		outcome.ResponseTime = time.Since(start)
		return outcome
	}

	body := []byte("{}")
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return fail(fmt.Errorf("marshal %s body: %w", req.Method, err))
		}
		body = data
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(req), bytes.NewReader(body))
	if err != nil {
		return fail(fmt.Errorf("create %s request: %w", req.Method, err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fail(fmt.Errorf("post %s: %w", req.Method, err))
	}
	defer resp.Body.Close()

	outcome.StatusCode = resp.StatusCode
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fail(fmt.Errorf("read %s response: %w", req.Method, err))
	}
	outcome.Payload = decodePayload(data)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := strings.TrimSpace(string(data))
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return fail(&StatusError{Method: req.Method, StatusCode: resp.StatusCode, Body: snippet})
	}
	if outcome.Payload == nil && len(bytes.TrimSpace(data)) > 0 {
		return fail(fmt.Errorf("decode %s response: invalid JSON", req.Method))
	}

	outcome.Success = true
	outcome.ResponseTime = time.Since(start)
	return outcome
}

func decodePayload(data []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return nil
	}
	return json.RawMessage(trimmed)
}
