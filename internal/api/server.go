// Package api serves the inbound proxy that relays browser calls to the
// evaluation API, plus health and metrics endpoints.
package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/carein/triageflow/internal/client"
)

// Defaults
const (
	DefaultAddr            = ":8080"
	DefaultShutdownTimeout = 10 * time.Second
)

// Opts holds configuration options for the proxy server.
type Opts struct {
	Addr        string
	Upstream    string
	InsecureTLS bool
	Timeout     time.Duration
	HTTPClient  *http.Client
	Registry    *prometheus.Registry
}

// Option configures the server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithUpstream sets the upstream base URL.
func WithUpstream(u string) Option {
	return func(o *Opts) {
		o.Upstream = u
	}
}

// WithInsecureTLS disables certificate verification on the upstream transport.
func WithInsecureTLS(insecure bool) Option {
	return func(o *Opts) {
		o.InsecureTLS = insecure
	}
}

// WithTimeout bounds each upstream round trip.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.Timeout = d
	}
}

// WithHTTPClient replaces the upstream HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		o.HTTPClient = c
	}
}

// WithRegistry sets the Prometheus registry the metrics are exposed from.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *Opts) {
		o.Registry = reg
	}
}

// Server is the HTTP proxy server.
type Server struct {
	addr     string
	upstream string
	handler  http.Handler
	metrics  *Metrics
}

// NewServer validates the options and builds the route table.
func NewServer(opts ...Option) (*Server, error) {
	cfg := Opts{Addr: DefaultAddr, Upstream: client.DefaultBaseURL, Timeout: client.DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	base := strings.TrimRight(strings.TrimSpace(cfg.Upstream), "/")
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid upstream URL %q", cfg.Upstream)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.InsecureTLS {
			slog.Warn("Proxy upstream TLS verification disabled")
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		httpClient = &http.Client{Transport: transport, Timeout: cfg.Timeout}
	}

	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	metrics := NewMetrics(reg)

	fwd := &forwarder{baseURL: base, client: httpClient, metrics: metrics}
	mux := http.NewServeMux()
	mux.HandleFunc(ProxyPrefix, fwd.proxyHandler)
	mux.HandleFunc(ProxyPrefix+"/", fwd.proxyHandler)
	mux.HandleFunc("/api/identity/register", fwd.registerHandler)
	mux.HandleFunc("/healthz", healthHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	slog.Debug("Proxy server configured", "addr", cfg.Addr, "upstream", base, "insecure_tls", cfg.InsecureTLS)
	return &Server{addr: cfg.Addr, upstream: base, handler: mux, metrics: metrics}, nil
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Proxy server listening", "addr", ln.Addr().String(), "upstream", s.upstream)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("proxy server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		slog.Info("Proxy server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
