package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/inovacc/deploywatch/internal/model"
	"golang.org/x/oauth2"
)

const (
	// DefaultBaseURL is the provider REST API root
	DefaultBaseURL = "https://api.vercel.com"

	// CacheControlPath responds with a non-JSON body
	CacheControlPath = "/v1/cache-control"
)

// CurrentFunc returns the connection used when a call does not name one.
type CurrentFunc func() (model.Connection, bool)

// InvalidCredentialFunc is called when the API rejects a connection's token.
type InvalidCredentialFunc func(ctx context.Context, connectionID string)

// ClientOptions configures the API client
type ClientOptions struct {
	BaseURL string
	Timeout time.Duration

	// Transport is the base round tripper, http.DefaultTransport when nil
	Transport http.RoundTripper

	// Current resolves the default connection
	Current CurrentFunc

	Logger *slog.Logger
}

// Client performs authenticated calls against the provider REST API.
type Client struct {
	baseURL   string
	timeout   time.Duration
	transport http.RoundTripper
	current   CurrentFunc
	logger    *slog.Logger

	mu        sync.RWMutex
	onInvalid []InvalidCredentialFunc
}

// NewClient creates a new API client
func NewClient(opts ClientOptions) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:   baseURL,
		timeout:   timeout,
		transport: opts.Transport,
		current:   opts.Current,
		logger:    logger,
	}
}

// SetCurrent replaces the default connection resolver.
func (c *Client) SetCurrent(fn CurrentFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = fn
}

// OnInvalidCredential registers fn to be called when a token is rejected.
func (c *Client) OnInvalidCredential(fn InvalidCredentialFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onInvalid = append(c.onInvalid, fn)
}

func (c *Client) resolve(conn *model.Connection) (model.Connection, error) {
	if conn != nil {
		if !conn.HasToken() {
			return model.Connection{}, ErrMissingToken
		}

		return *conn, nil
	}

	c.mu.RLock()
	current := c.current
	c.mu.RUnlock()

	if current == nil {
		return model.Connection{}, ErrNoConnection
	}

	resolved, ok := current()
	if !ok {
		return model.Connection{}, ErrNoConnection
	}

	if !resolved.HasToken() {
		return model.Connection{}, ErrMissingToken
	}

	return resolved, nil
}

func (c *Client) httpClient(token string) *http.Client {
	return &http.Client{
		Timeout: c.timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   c.transport,
		},
	}
}

// rawResponse reports whether the response body must not be decoded as JSON.
func rawResponse(method, path string) bool {
	if method == http.MethodDelete {
		return true
	}

	p, _, _ := strings.Cut(path, "?")

	return p == CacheControlPath
}

// Do performs an authenticated request for conn, or the current connection when conn is nil.
// A 2xx JSON body is decoded into out. Raw bodies are copied into out when it is a *[]byte.
func (c *Client) Do(ctx context.Context, conn *model.Connection, method, path string, body, out any) error {
	target, err := c.resolve(conn)
	if err != nil {
		return err
	}

	var reader io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}

		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("making API request",
		slog.String("method", method),
		slog.String("path", path),
		slog.String("connection", target.ID),
	)

	resp, err := c.httpClient(target.APIToken).Do(req)
	if err != nil {
		return &Error{Code: "network_error", Message: err.Error(), Err: err}
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{StatusCode: resp.StatusCode, Code: "network_error", Message: err.Error(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := parseError(resp.StatusCode, data)

		c.logger.Debug("API request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.String("code", apiErr.Code),
		)

		if apiErr.InvalidCredential {
			c.invalidate(ctx, target.ID)
		}

		return apiErr
	}

	if rawResponse(method, path) {
		if raw, ok := out.(*[]byte); ok {
			*raw = data
		}

		return nil
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

func parseError(status int, data []byte) *Error {
	apiErr := &Error{
		StatusCode:        status,
		Message:           http.StatusText(status),
		InvalidCredential: status == http.StatusUnauthorized,
	}

	var envelope errorBody
	if err := json.Unmarshal(data, &envelope); err == nil {
		if envelope.Error.Code != "" {
			apiErr.Code = envelope.Error.Code
		}

		if envelope.Error.Message != "" {
			apiErr.Message = envelope.Error.Message
		}

		if envelope.Error.InvalidToken {
			apiErr.InvalidCredential = true
		}
	}

	return apiErr
}

func (c *Client) invalidate(ctx context.Context, connectionID string) {
	c.mu.RLock()
	hooks := make([]InvalidCredentialFunc, len(c.onInvalid))
	copy(hooks, c.onInvalid)
	c.mu.RUnlock()

	c.logger.Warn("credential rejected", slog.String("connection", connectionID))

	for _, fn := range hooks {
		fn(ctx, connectionID)
	}
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, conn *model.Connection, path string, out any) error {
	return c.Do(ctx, conn, http.MethodGet, path, nil, out)
}

// Post performs a POST request.
func (c *Client) Post(ctx context.Context, conn *model.Connection, path string, body, out any) error {
	return c.Do(ctx, conn, http.MethodPost, path, body, out)
}

// Put performs a PUT request.
func (c *Client) Put(ctx context.Context, conn *model.Connection, path string, body, out any) error {
	return c.Do(ctx, conn, http.MethodPut, path, body, out)
}

// Patch performs a PATCH request.
func (c *Client) Patch(ctx context.Context, conn *model.Connection, path string, body, out any) error {
	return c.Do(ctx, conn, http.MethodPatch, path, body, out)
}

// Delete performs a DELETE request. The response body is not decoded.
func (c *Client) Delete(ctx context.Context, conn *model.Connection, path string) error {
	return c.Do(ctx, conn, http.MethodDelete, path, nil, nil)
}
