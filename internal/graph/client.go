package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Graph endpoints.
const (
	DefaultBaseURL = "https://graph.microsoft.com/v1.0"
	BetaBaseURL    = "https://graph.microsoft.com/beta"
)

const (
	defaultUserAgent = "office365-go/0.1"
	defaultMaxPages  = 10000
)

// TokenProvider supplies bearer tokens and renews them on demand. Defined at
// the consumer; *Authority is the production implementation.
type TokenProvider interface {
	AccessToken() string
	Refresh(ctx context.Context) error
}

// Request is one logical API call. Path is relative to the client's base URL
// (e.g. "me/messages") or an absolute URL such as a next link, in which case
// Query is appended to whatever query the URL already carries.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Query  QueryFilter
	// Body is sent as JSON. []byte and json.RawMessage are sent verbatim,
	// anything else is marshaled.
	Body any
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRateLimit throttles outgoing requests to rps with the given burst.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithMaxPages caps how many pages FetchAll follows before giving up.
func WithMaxPages(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxPages = n
		}
	}
}

// Client executes authenticated requests against the Microsoft Graph API.
// On a 401 it asks the TokenProvider for a refresh and retries exactly once;
// every other failure is returned to the caller as a typed error.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenProvider
	logger     *slog.Logger
	limiter    *rate.Limiter
	userAgent  string
	maxPages   int
}

// NewClient creates a Graph API client.
// baseURL is typically DefaultBaseURL.
func NewClient(baseURL string, httpClient *http.Client, token TokenProvider, logger *slog.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		token:      token,
		logger:     logger,
		userAgent:  defaultUserAgent,
		maxPages:   defaultMaxPages,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// BaseURL returns the API root every relative path is joined to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Execute issues req and returns the JSON response body, or nil for an empty
// success body. A 401 triggers one token refresh and one retry; the retry's
// outcome is returned as-is, including a second 401.
func (c *Client) Execute(ctx context.Context, req Request) (json.RawMessage, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	fullURL, err := c.buildURL(req.Path, req.Query)
	if err != nil {
		return nil, err
	}

	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, method, fullURL, req.Header, body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)

		c.logger.Info("access token rejected, refreshing",
			slog.String("method", method),
			slog.String("url", fullURL),
		)

		if refreshErr := c.token.Refresh(ctx); refreshErr != nil {
			return nil, authFailure(method, fullURL, refreshErr)
		}

		resp, err = c.send(ctx, method, fullURL, req.Header, body)
		if err != nil {
			return nil, err
		}
	}

	return c.handleResponse(method, fullURL, resp)
}

// ExecuteInto runs req and decodes a non-empty response body into out.
func (c *Client) ExecuteInto(ctx context.Context, req Request, out any) error {
	raw, err := c.Execute(ctx, req)
	if err != nil {
		return err
	}

	if len(raw) == 0 || out == nil {
		return nil
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decoding %s response: %w", ErrProtocol, req.Path, err)
	}

	return nil
}

// send performs a single HTTP round trip with fresh auth headers.
func (c *Client) send(ctx context.Context, method, fullURL string, header http.Header, body []byte) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, cancelled(ctx, err)
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, malformed("creating request %s %s: %v", method, fullURL, err)
	}

	requestID := uuid.NewString()

	httpReq.Header.Set("Authorization", "Bearer "+c.token.AccessToken())
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("client-request-id", requestID)

	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	// Caller headers win on collision.
	for key, values := range header {
		httpReq.Header.Del(key)

		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	c.logger.Info("graph request",
		slog.String("method", method),
		slog.String("url", fullURL),
		slog.String("client_request_id", requestID),
	)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelled(ctx, ctx.Err())
		}

		return nil, fmt.Errorf("graph: %s %s: %w", method, fullURL, err)
	}

	return resp, nil
}

// handleResponse classifies a response and closes its body.
func (c *Client) handleResponse(method, fullURL string, resp *http.Response) (json.RawMessage, error) {
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s %s response: %w", ErrProtocol, method, fullURL, err)
	}

	reqID := resp.Header.Get("request-id")

	switch {
	case resp.StatusCode < http.StatusMultipleChoices:
		c.logger.Debug("request succeeded",
			slog.String("method", method),
			slog.String("url", fullURL),
			slog.Int("status", resp.StatusCode),
		)

		trimmed := bytes.TrimSpace(data)
		if len(trimmed) == 0 {
			return nil, nil
		}

		if !json.Valid(trimmed) {
			return nil, fmt.Errorf("%w: %s %s returned a non-JSON success body", ErrProtocol, method, fullURL)
		}

		return json.RawMessage(trimmed), nil

	case resp.StatusCode < http.StatusInternalServerError:
		clientErr := newClientError(resp.StatusCode, data, reqID)
		c.logger.Warn("request failed",
			slog.String("method", method),
			slog.String("url", fullURL),
			slog.Int("status", resp.StatusCode),
			slog.String("code", clientErr.Code),
		)

		return nil, clientErr

	default:
		serverErr := newServerError(resp.StatusCode, data, reqID)
		c.logger.Warn("server error",
			slog.String("method", method),
			slog.String("url", fullURL),
			slog.Int("status", resp.StatusCode),
			slog.String("code", serverErr.Code),
		)

		return nil, serverErr
	}
}

// buildURL resolves a request path against the base URL and appends the
// encoded query. Absolute URLs (next links, delta links) are kept as given
// but must live under the base URL.
func (c *Client) buildURL(path string, query QueryFilter) (string, error) {
	var full string

	switch {
	case strings.HasPrefix(path, "https://"), strings.HasPrefix(path, "http://"):
		if !c.withinBase(path) {
			return "", fmt.Errorf("%w: URL %q does not match base URL %q", ErrProtocol, path, c.baseURL)
		}

		full = path
	default:
		trimmed := strings.Trim(path, "/")
		if trimmed == "" {
			full = c.baseURL
		} else {
			full = c.baseURL + "/" + trimmed
		}
	}

	qs := query.encode()
	if qs == "" {
		return full, nil
	}

	if strings.Contains(full, "?") {
		return full + "&" + qs, nil
	}

	return full + "?" + qs, nil
}

// withinBase reports whether an absolute URL lives under the base URL.
// "https://graph.microsoft.com/v1.0evil" does not.
func (c *Client) withinBase(link string) bool {
	rest, ok := strings.CutPrefix(link, c.baseURL)
	if !ok {
		return false
	}

	return rest == "" || rest[0] == '/' || rest[0] == '?'
}

// encodeBody turns a request body into bytes so it can be replayed after a
// token refresh.
func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return b, nil
	case []byte:
		return b, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, malformed("encoding request body: %v", err)
		}

		return data, nil
	}
}

// authFailure converts a failed refresh into the error surfaced to callers.
func authFailure(method, fullURL string, err error) error {
	if KindOf(err) == KindCancelled || KindOf(err) == KindAuthExpired {
		return fmt.Errorf("graph: %s %s: %w", method, fullURL, err)
	}

	return fmt.Errorf("graph: %s %s: %w: %w", method, fullURL, ErrAuthExpired, err)
}

// cancelled wraps a context error so KindOf reports KindCancelled.
func cancelled(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, ctxErr)
	}

	return fmt.Errorf("%w: %w", ErrCancelled, err)
}

// drain discards and closes a response body so the connection can be reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
