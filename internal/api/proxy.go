package api

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ProxyPrefix is stripped from inbound paths before forwarding.
const ProxyPrefix = "/api/proxy"

// Upstream failure envelope.
const (
	upstreamErrorCode    = "upstream_fetch_failed"
	upstreamErrorMessage = "API proxy failed to reach upstream service."
)

// Request headers that are never forwarded upstream.
var strippedRequestHeaders = []string{"Host", "Content-Length", "Connection", "Accept-Encoding"}

// Response headers that net/http manages itself.
var strippedResponseHeaders = []string{"Connection", "Content-Length", "Transfer-Encoding", "Keep-Alive"}

// forwarder relays requests to a fixed upstream base URL.
type forwarder struct {
	baseURL string
	client  *http.Client
	metrics *Metrics
}

// ProxyPath returns the upstream path for an inbound proxy path.
func ProxyPath(inbound string) string {
	if !strings.HasPrefix(inbound, ProxyPrefix) {
		return "/"
	}
	rest := strings.TrimPrefix(inbound, ProxyPrefix)
	if rest == "" {
		return "/"
	}
	if !strings.HasPrefix(rest, "/") {
		return "/"
	}
	return rest
}

// proxyHandler forwards everything under ProxyPrefix.
func (f *forwarder) proxyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	f.forward(w, r, "proxy", ProxyPath(r.URL.Path))
}

// registerHandler forwards identity registration.
func (f *forwarder) registerHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
	case http.MethodPost:
		f.forward(w, r, "register", "/identity/register")
	default:
		w.Header().Set("Allow", "POST, OPTIONS")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *forwarder) forward(w http.ResponseWriter, r *http.Request, route, path string) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	target := f.baseURL + path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		slog.Warn("Proxy forward: failed to read request body", "route", route, "error", err)
		writeProxyError(w, http.StatusBadRequest)
		return
	}
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, reader)
	if err != nil {
		f.upstreamFailed(w, r, route, target, err)
		return
	}
	req.Header = r.Header.Clone()
	for _, h := range strippedRequestHeaders {
		req.Header.Del(h)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	f.metrics.Duration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	if err != nil {
		f.upstreamFailed(w, r, route, target, err)
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		f.upstreamFailed(w, r, route, target, err)
		return
	}

	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	for _, h := range strippedResponseHeaders {
		w.Header().Del(h)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(respBody); err != nil {
		slog.Warn("Proxy forward: failed to write response", "route", route, "error", err)
	}
	f.metrics.Requests.WithLabelValues(route, r.Method, strconv.Itoa(resp.StatusCode)).Inc()
	slog.Debug("Proxy forward succeeded", "route", route, "method", r.Method, "path", path, "status", resp.StatusCode)
}

func (f *forwarder) upstreamFailed(w http.ResponseWriter, r *http.Request, route, target string, err error) {
	slog.Error("Proxy forward: upstream unreachable", "route", route, "url", target, "error", err)
	f.metrics.UpstreamFailures.WithLabelValues(route).Inc()
	f.metrics.Requests.WithLabelValues(route, r.Method, strconv.Itoa(http.StatusBadGateway)).Inc()
	writeProxyError(w, http.StatusBadGateway)
}
