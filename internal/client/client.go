// Package client implements the HTTP client for the triage API.
//
// It attaches the stored bearer token, encodes JSON bodies, turns non-2xx
// responses into *APIError and reports transport failures on the event bus.
// A 401 (or an "unauthenticated" body) purges cached credentials.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/carein/triageflow/internal/events"
	"github.com/carein/triageflow/internal/store"
)

// DefaultBaseURL is used when no base URL is configured.
const DefaultBaseURL = "https://api.triage.carein:8443/api"

// DefaultTimeout bounds a single request.
const DefaultTimeout = 30 * time.Second

// Opts holds configuration options for the client.
type Opts struct {
	BaseURL     string
	HTTPClient  *http.Client
	Store       store.KV
	Bus         *events.Bus
	Timeout     time.Duration
	InsecureTLS bool
}

// Option defines a configuration option for the client.
type Option func(*Opts)

// WithBaseURL sets the API base URL. A trailing slash is removed.
func WithBaseURL(u string) Option {
	return func(o *Opts) {
		o.BaseURL = u
	}
}

// WithHTTPClient sets the underlying *http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		o.HTTPClient = c
	}
}

// WithStore sets the store that holds the auth token and credential snapshots.
func WithStore(kv store.KV) Option {
	return func(o *Opts) {
		o.Store = kv
	}
}

// WithBus sets the event bus used for sign-out and network notifications.
func WithBus(bus *events.Bus) Option {
	return func(o *Opts) {
		o.Bus = bus
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.Timeout = d
	}
}

// WithInsecureTLS disables certificate verification, for self-signed API hosts.
func WithInsecureTLS(insecure bool) Option {
	return func(o *Opts) {
		o.InsecureTLS = insecure
	}
}

// Client issues requests against the triage API.
type Client struct {
	baseURL string
	http    *http.Client
	kv      store.KV
	bus     *events.Bus
}

// Request describes a single API call. Body is JSON-encoded unless it is a
// string or []byte, which are sent as-is.
type Request struct {
	Method string
	Path   string
	Body   interface{}
	Header http.Header
}

// Response is a successful API response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// New creates a Client.
func New(opts ...Option) *Client {
	cfg := Opts{BaseURL: DefaultBaseURL, Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.InsecureTLS {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		httpClient = &http.Client{Timeout: cfg.Timeout, Transport: transport}
	}
	if cfg.Bus == nil {
		cfg.Bus = events.NewBus()
	}
	if cfg.Store == nil {
		cfg.Store = store.NewInMemoryStore()
	}
	slog.Debug("Client created", "base_url", cfg.BaseURL, "insecure_tls", cfg.InsecureTLS)
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		http:    httpClient,
		kv:      cfg.Store,
		bus:     cfg.Bus,
	}
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Bus returns the event bus the client publishes to.
func (c *Client) Bus() *events.Bus {
	return c.bus
}

// Do sends req and returns the response body for 2xx statuses.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	header := req.Header.Clone()
	if header == nil {
		header = http.Header{}
	}

	var body []byte
	switch b := req.Body.(type) {
	case nil:
	case string:
		body = []byte(b)
	case []byte:
		body = b
	default:
		encoded, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body for %s: %w", req.Path, err)
		}
		body = encoded
		if header.Get("Content-Type") == "" {
			header.Set("Content-Type", "application/json")
		}
	}

	c.bus.SetLastRequest(events.Replay{Method: method, Path: req.Path, Body: body, Header: header, CanRetry: true})
	return c.send(ctx, method, req.Path, body, header)
}

// Upload sends a multipart form with a single file field. Multipart bodies are
// never replayed.
func (c *Client) Upload(ctx context.Context, path, field, filename string, content io.Reader) (*Response, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("failed to read upload %s: %w", filename, err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", writer.FormDataContentType())
	c.bus.SetLastRequest(events.Replay{Method: http.MethodPost, Path: path, CanRetry: false})
	return c.send(ctx, http.MethodPost, path, buf.Bytes(), header)
}

// RetryLast re-issues the last request if its body can be replayed.
func (c *Client) RetryLast(ctx context.Context) (*Response, error) {
	last, err := c.bus.LastRequest()
	if err != nil {
		return nil, err
	}
	slog.Info("Client RetryLast", "method", last.Method, "path", last.Path)
	return c.send(ctx, last.Method, last.Path, last.Body, last.Header)
}

func (c *Client) send(ctx context.Context, method, path string, body []byte, header http.Header) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request %s %s: %w", method, path, err)
	}
	for key, values := range header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if httpReq.Header.Get("Authorization") == "" {
		if token, _ := store.GetOptional(ctx, c.kv, store.KeyAuthToken); token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}

	slog.Debug("Client request", "method", method, "path", path)
	resp, err := c.http.Do(httpReq)
	if err != nil {
		slog.Warn("Client request failed", "method", method, "path", path, "error", err)
		c.bus.NotifyNetworkError()
		return nil, &NetworkError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.bus.NotifyNetworkError()
		return nil, &NetworkError{Method: method, Path: path, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{
			Status:     resp.StatusCode,
			StatusText: http.StatusText(resp.StatusCode),
			Body:       data,
			JSON:       isJSON(resp.Header.Get("Content-Type")),
		}
		slog.Debug("Client response error", "method", method, "path", path, "status", resp.StatusCode)
		if IsUnauthenticated(apiErr) {
			c.signOut(ctx)
		}
		return nil, apiErr
	}

	slog.Debug("Client response", "method", method, "path", path, "status", resp.StatusCode, "bytes", len(data))
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// signOut purges cached credentials and publishes the unauthenticated event.
func (c *Client) signOut(ctx context.Context) {
	if err := c.kv.Delete(ctx, store.CredentialKeys...); err != nil {
		slog.Warn("Client signOut failed to clear credentials", "error", err)
	}
	slog.Info("Client signed out after unauthenticated response")
	c.bus.Publish(events.Event{Kind: events.KindUnauthenticated})
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(contentType, "application/json")
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
