package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// ErrorResponse is the JSON envelope returned when the proxy itself fails.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// proxyErrors are envelopes the proxy emits on its own behalf, encoded once.
var proxyErrors = map[int][]byte{}

func init() {
	for status, e := range map[int]ErrorResponse{
		http.StatusBadRequest:          {Error: "invalid_body", Message: "Unable to read request body."},
		http.StatusBadGateway:          {Error: upstreamErrorCode, Message: upstreamErrorMessage},
		http.StatusInternalServerError: {Error: "internal_error", Message: "Internal server error"},
	} {
		data, err := json.Marshal(e)
		if err != nil {
			panic(fmt.Sprintf("api: cannot encode %d envelope: %v", status, err))
		}
		proxyErrors[status] = data
	}
}

// writeProxyError writes the envelope registered for status.
func writeProxyError(w http.ResponseWriter, status int) {
	data, ok := proxyErrors[status]
	if !ok {
		status = http.StatusInternalServerError
		data = proxyErrors[status]
	}
	writeBody(w, status, data)
}

// writeJSONResponse encodes v and writes it with statusCode. An encoding
// failure becomes the 500 envelope.
func writeJSONResponse(w http.ResponseWriter, statusCode int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("Proxy writeJSONResponse: encode failed", "error", err)
		writeProxyError(w, http.StatusInternalServerError)
		return
	}
	writeBody(w, statusCode, data)
}

func writeBody(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.Warn("Proxy response write failed", "status", status, "error", err)
	}
}
