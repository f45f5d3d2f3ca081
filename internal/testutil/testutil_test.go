package testutil

import (
	"io"
	"net/http"
	"testing"
)

func TestAPIServerRoutes(t *testing.T) {
	srv := NewAPIServer(t)
	srv.JSON(http.MethodGet, "/evaluations/current", http.StatusOK, `{"session":{"id":1}}`)

	resp, err := http.Get(srv.URL + "/evaluations/current")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	AssertHTTPStatus(t, http.StatusOK, resp.StatusCode, "registered route")
	if string(body) != `{"session":{"id":1}}` {
		t.Errorf("body = %s", body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}

	resp, err = http.Post(srv.URL+"/evaluations/current", "application/json", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	AssertHTTPStatus(t, http.StatusNotFound, resp.StatusCode, "method mismatch")

	if n := srv.Called(http.MethodGet, "/evaluations/current"); n != 1 {
		t.Errorf("Called(GET) = %d, want 1", n)
	}
	calls := srv.Calls()
	if len(calls) != 2 || calls[1] != "POST /evaluations/current" {
		t.Errorf("Calls() = %v", calls)
	}
}

func TestCreateHTTPRequest(t *testing.T) {
	req := CreateHTTPRequest(t, http.MethodPost, "http://example.test/identity/login", map[string]string{"identifier": "+2250700000000"})
	if req.Header.Get("Content-Type") != "application/json" {
		t.Errorf("content type = %q", req.Header.Get("Content-Type"))
	}
	body, _ := io.ReadAll(req.Body)
	var decoded map[string]string
	MustUnmarshalJSON(t, body, &decoded)
	if decoded["identifier"] != "+2250700000000" {
		t.Errorf("decoded = %v", decoded)
	}

	empty := CreateHTTPRequest(t, http.MethodGet, "http://example.test/identity/me", nil)
	if empty.Header.Get("Content-Type") != "" {
		t.Error("bodiless request should not set a content type")
	}
}
