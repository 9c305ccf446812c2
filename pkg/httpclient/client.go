// Package httpclient is the outbound service client. It issues a single
// HTTP request with JSON bodies and a mandatory timeout, decodes JSON
// responses, and classifies failures into engine-native error kinds.
//
// The client never retries; retry policy is owned by the executor.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/meshflow/meshflow/pkg/mesherr"
)

// DefaultTimeout is the per-request deadline applied when none is configured.
const DefaultTimeout = 10 * time.Second

// Response is the normalized result of a request.
type Response struct {
	Status  int
	Headers http.Header
	// Body holds the decoded JSON value when the response declared
	// application/json; otherwise nil.
	Body any
	// Raw holds the undecoded payload for non-JSON responses.
	Raw []byte
}

type Client struct {
	client    *http.Client
	userAgent string
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = timeout
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

func New(opts ...Option) *Client {
	client := &Client{
		client:    &http.Client{Timeout: DefaultTimeout},
		userAgent: "meshflow",
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

var bodyMethods = map[string]bool{
	http.MethodPost:  true,
	http.MethodPut:   true,
	http.MethodPatch: true,
}

// Request issues a single HTTP request. body, when non-nil, is JSON-encoded
// and only legal for POST/PUT/PATCH. Responses with status >= 400 return a
// tool_non_2xx error alongside the decoded response so callers can keep the
// downstream payload in the audit trail.
func (c *Client) Request(ctx context.Context, method, rawURL string, query url.Values, headers map[string]string, body any) (*Response, error) {
	method = strings.ToUpper(method)

	if body != nil && !bodyMethods[method] {
		return nil, mesherr.New(mesherr.KindValidation, "%s request must not carry a body", method)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, mesherr.Wrap(mesherr.KindValidation, err, "invalid URL %q", rawURL)
	}
	if len(query) > 0 {
		q := u.Query()
		for key, values := range query {
			for _, v := range values {
				q.Add(key, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, mesherr.Wrap(mesherr.KindValidation, err, "failed to encode request body")
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, mesherr.Wrap(mesherr.KindValidation, err, "failed to build request")
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, mesherr.Wrap(mesherr.KindToolHTTP, err, "failed to read response body")
	}

	result := &Response{
		Status:  resp.StatusCode,
		Headers: resp.Header,
	}

	if isJSON(resp.Header.Get("Content-Type")) && len(payload) > 0 {
		var decoded any
		if err := json.Unmarshal(payload, &decoded); err != nil {
			// Keep the raw payload; a lying content-type is not fatal.
			result.Raw = payload
		} else {
			result.Body = decoded
		}
	} else {
		result.Raw = payload
	}

	if resp.StatusCode >= 400 {
		return result, mesherr.New(mesherr.KindToolNon2xx,
			"%s %s returned %d", method, u.Path, resp.StatusCode).
			WithStatus(resp.StatusCode)
	}

	return result, nil
}

// Get is a convenience wrapper for query-only requests.
func (c *Client) Get(ctx context.Context, rawURL string, query url.Values) (*Response, error) {
	return c.Request(ctx, http.MethodGet, rawURL, query, nil, nil)
}

// Post is a convenience wrapper for JSON body requests.
func (c *Client) Post(ctx context.Context, rawURL string, body any) (*Response, error) {
	return c.Request(ctx, http.MethodPost, rawURL, nil, nil, body)
}

func isJSON(contentType string) bool {
	mediaType := contentType
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		mediaType = contentType[:idx]
	}
	mediaType = strings.TrimSpace(strings.ToLower(mediaType))
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// String renders the decoded body for logs and snapshots.
func (r *Response) String() string {
	if r.Body != nil {
		if data, err := json.Marshal(r.Body); err == nil {
			return string(data)
		}
	}
	if len(r.Raw) > 0 {
		return fmt.Sprintf("%d bytes", len(r.Raw))
	}
	return ""
}
