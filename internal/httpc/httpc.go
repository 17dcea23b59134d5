package httpc

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/loykin/apingest/internal/common"
	"github.com/loykin/apingest/internal/request"
)

// Response is the part of an HTTP response the pipeline evaluates.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport sends one request. An error means no response was received
// (connection failure, timeout, DNS); any HTTP status is a Response.
type Transport interface {
	Execute(ctx context.Context, spec request.Spec) (*Response, error)
}

// Httpc builds resty clients from TLS and timeout settings.
type Httpc struct {
	TlsConfig *tls.Config
	Timeout   time.Duration
}

// New returns a resty.Client configured according to the receiver's settings.
// Defaults: MinVersion TLS1.2 when a TLS config is given with MinVersion zero.
// Resty's own retry stays disabled; retries belong to the pipeline.
func (h *Httpc) New() *resty.Client {
	c := resty.New()
	c.SetRetryCount(0)
	c.SetAllowGetMethodPayload(true)
	if h.Timeout > 0 {
		c.SetTimeout(h.Timeout)
	}
	cfg := h.TlsConfig
	if cfg == nil {
		return c
	}
	if cfg.MinVersion == 0 {
		cfg.MinVersion = tls.VersionTLS12
	}
	c.SetTLSClientConfig(cfg)
	return c
}

// Client is the resty-backed Transport.
type Client struct {
	rc *resty.Client
}

var _ Transport = (*Client)(nil)

// NewClient creates a Transport from h.
func NewClient(h Httpc) *Client {
	return &Client{rc: h.New()}
}

// Execute sends spec. Headers and query params go out in declaration order,
// duplicates included.
func (c *Client) Execute(ctx context.Context, spec request.Spec) (*Response, error) {
	logger := common.GetLogger().WithComponent("httpc")
	url := spec.URL()
	method := string(spec.Method)
	if method == "" {
		method = string(request.MethodGet)
	}

	req := c.rc.R().SetContext(ctx)
	headers := make(map[string]any, len(spec.Headers))
	for _, h := range spec.HeaderStrings() {
		req.Header.Add(h.Name, h.Value.(string))
		headers[h.Name] = common.MaskKeyValue(h.Name, h.Value)
	}
	body, err := spec.BodyBytes()
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	if body != nil {
		if req.Header.Get("Content-Type") == "" {
			req.SetHeader("Content-Type", "application/json")
		}
		req.SetBody(body)
	}

	logger.Debug("sending HTTP request", "method", method, "url", common.MaskSensitiveData(url), "headers", headers, "body_size", len(body))
	resp, err := req.Execute(strings.ToUpper(method), url)
	if err != nil {
		return nil, err
	}
	logger.Debug("received HTTP response", "status_code", resp.StatusCode(), "response_size", len(resp.Body()))
	return &Response{
		StatusCode: resp.StatusCode(),
		Header:     resp.Header(),
		Body:       resp.Body(),
	}, nil
}

// ParseTLSVersion converts a TLS version string to the corresponding crypto/tls constant.
// Supports "1.2", "12", "tls1.2", "tls12" style values; returns 0 when unrecognized.
func ParseTLSVersion(version string) uint16 {
	switch strings.TrimSpace(strings.ToLower(version)) {
	case "1.0", "10", "tls1.0", "tls10":
		return tls.VersionTLS10
	case "1.1", "11", "tls1.1", "tls11":
		return tls.VersionTLS11
	case "1.2", "12", "tls1.2", "tls12":
		return tls.VersionTLS12
	case "1.3", "13", "tls1.3", "tls13":
		return tls.VersionTLS13
	default:
		return 0
	}
}
