package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carein/triageflow/internal/events"
	"github.com/carein/triageflow/internal/store"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *store.InMemoryStore, *events.Bus) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	kv := store.NewInMemoryStore()
	bus := events.NewBus()
	return New(WithBaseURL(server.URL+"/"), WithStore(kv), WithBus(bus)), kv, bus
}

func TestDoSendsTokenAndJSON(t *testing.T) {
	var gotAuth, gotAccept, gotType, gotBody, gotPath string
	c, kv, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		gotType = r.Header.Get("Content-Type")
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	})
	require.NoError(t, kv.Set(context.Background(), store.KeyAuthToken, "secret"))

	resp, err := c.Do(context.Background(), Request{Method: http.MethodPost, Path: "/evaluations/start", Body: map[string]string{"type": "complete"}})
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "application/json", gotAccept)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, "/evaluations/start", gotPath)
	assert.JSONEq(t, `{"type":"complete"}`, gotBody)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
}

func TestUnauthorizedPurgesCredentials(t *testing.T) {
	c, kv, bus := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"Unauthenticated."}`))
	})
	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, store.KeyAuthToken, "secret"))
	require.NoError(t, kv.Set(ctx, store.KeyIdentity, `{"id":1}`))
	require.NoError(t, kv.Set(ctx, store.KeyTranscript, `{"version":4}`))

	var signedOut bool
	bus.Subscribe(func(e events.Event) {
		if e.Kind == events.KindUnauthenticated {
			signedOut = true
		}
	})

	_, err := c.Do(ctx, Request{Path: "/identity/me"})
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusUnauthorized))
	assert.True(t, IsUnauthenticated(err))
	assert.True(t, signedOut)

	_, err = kv.Get(ctx, store.KeyAuthToken)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = kv.Get(ctx, store.KeyIdentity)
	assert.ErrorIs(t, err, store.ErrNotFound)
	transcript, err := kv.Get(ctx, store.KeyTranscript)
	require.NoError(t, err)
	assert.Equal(t, `{"version":4}`, transcript)
}

func TestUnauthenticatedTextBody(t *testing.T) {
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("Unauthenticated request"))
	})
	_, err := c.Do(context.Background(), Request{Path: "/evaluations/current"})
	assert.True(t, IsUnauthenticated(err))
	assert.False(t, IsStatus(err, http.StatusUnauthorized))
}

func TestNetworkErrorNotifiesAndRetries(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		b, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Write(b)
	}))
	bus := events.NewBus()
	var notified []events.Event
	bus.Subscribe(func(e events.Event) { notified = append(notified, e) })

	c := New(WithBaseURL(server.URL), WithBus(bus))
	server.Close()

	_, err := c.Do(context.Background(), Request{Method: http.MethodPost, Path: "/evaluations/42/advance", Body: map[string]string{"question_id": "q1"}})
	var netErr *NetworkError
	require.True(t, errors.As(err, &netErr))
	require.Len(t, notified, 1)
	assert.Equal(t, events.KindNetworkError, notified[0].Kind)
	assert.True(t, notified[0].CanRetry)

	_, err = c.Do(context.Background(), Request{Path: "/evaluations/current"})
	require.Error(t, err)
	assert.Len(t, notified, 1, "second failure inside the window is not re-notified")
	assert.Equal(t, 0, calls)
}

func TestRetryLastReplaysJSONBody(t *testing.T) {
	var bodies []string
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, r.Method+" "+r.URL.Path+" "+string(b))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	})
	ctx := context.Background()
	_, err := c.Do(ctx, Request{Method: http.MethodPost, Path: "/evaluations/start", Body: map[string]string{"type": "complete"}})
	require.NoError(t, err)

	_, err = c.RetryLast(ctx)
	require.NoError(t, err)
	require.Len(t, bodies, 2)
	assert.Equal(t, bodies[0], bodies[1])
}

func TestUploadIsNotReplayable(t *testing.T) {
	var field, filename string
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		f, header, err := r.FormFile("file")
		if err == nil {
			f.Close()
			field = "file"
			filename = header.Filename
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"file_id":"f1"}`))
	})
	ctx := context.Background()
	_, err := c.Upload(ctx, "/uploads", "file", "photo.jpg", strings.NewReader("jpeg"))
	require.NoError(t, err)
	assert.Equal(t, "file", field)
	assert.Equal(t, "photo.jpg", filename)

	_, err = c.RetryLast(ctx)
	assert.ErrorIs(t, err, events.ErrNotReplayable)
}

func TestFormatAPIError(t *testing.T) {
	tests := []struct {
		name string
		err  *APIError
		want string
	}{
		{
			name: "first field error in document order",
			err:  &APIError{Status: 422, JSON: true, Body: []byte(`{"errors":{"type":[1,"Type invalide."],"bloc_keys":["Bloc requis."]},"message":"Invalid"}`)},
			want: "Type invalide.",
		},
		{
			name: "string field error",
			err:  &APIError{Status: 422, JSON: true, Body: []byte(`{"errors":{"pin":"PIN invalide."}}`)},
			want: "PIN invalide.",
		},
		{
			name: "message",
			err:  &APIError{Status: 409, JSON: true, Body: []byte(`{"message":"Conflit."}`)},
			want: "Conflit.",
		},
		{
			name: "raw json",
			err:  &APIError{Status: 500, JSON: true, Body: []byte(`{ "detail": "boom" }`)},
			want: `Erreur 500. {"detail":"boom"}`,
		},
		{
			name: "text body",
			err:  &APIError{Status: 502, Body: []byte("Bad gateway")},
			want: "Bad gateway",
		},
		{
			name: "empty body",
			err:  &APIError{Status: 503},
			want: "Erreur 503. Veuillez reessayer.",
		},
		{
			name: "json null",
			err:  &APIError{Status: 500, JSON: true, Body: []byte(`null`)},
			want: "Erreur 500. Veuillez reessayer.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatAPIError(tt.err))
		})
	}
}
