package keys

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKeyServer(t *testing.T, status string) (*httptest.Server, map[string]string) {
	t.Helper()
	store := map[string]string{}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
	})
	mux.HandleFunc("POST /api/keys", func(w http.ResponseWriter, r *http.Request) {
		var p keyPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		store[p.Hostname] = p.Key
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("GET /api/keys/{host}", func(w http.ResponseWriter, r *http.Request) {
		key, ok := store[r.PathValue("host")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(keyPayload{Hostname: r.PathValue("host"), Key: key})
	})
	mux.HandleFunc("DELETE /api/keys/{host}", func(w http.ResponseWriter, r *http.Request) {
		if _, ok := store[r.PathValue("host")]; !ok {
			http.NotFound(w, r)
			return
		}
		delete(store, r.PathValue("host"))
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, store
}

func TestClientRoundTrip(t *testing.T) {
	srv, store := newKeyServer(t, "healthy")
	c := NewClient(ClientConfig{Host: srv.URL + "/", APIKey: "token", VerifyTLS: true})
	ctx := context.Background()

	require.NoError(t, c.Health(ctx))
	require.NoError(t, c.Store(ctx, "web01", []byte("s3cret")))
	assert.Equal(t, "s3cret", store["web01"])

	key, err := c.Get(ctx, "web01")
	require.NoError(t, err)
	assert.Equal(t, []byte("s3cret"), key)

	require.NoError(t, c.Delete(ctx, "web01"))
	_, err = c.Get(ctx, "web01")
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.ErrorIs(t, c.Delete(ctx, "web01"), ErrKeyNotFound)
}

func TestClientHealthFailures(t *testing.T) {
	srv, _ := newKeyServer(t, "degraded")
	ctx := context.Background()

	c := NewClient(ClientConfig{Host: srv.URL, APIKey: "token", VerifyTLS: true})
	err := c.Health(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "degraded")

	c = NewClient(ClientConfig{Host: srv.URL, APIKey: "wrong", VerifyTLS: true})
	assert.Error(t, c.Health(ctx))

	_, err = c.Get(ctx, "web01")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrKeyNotFound)
}

func TestClientValidation(t *testing.T) {
	c := NewClient(ClientConfig{Host: "http://127.0.0.1:1"})
	ctx := context.Background()

	_, err := c.Get(ctx, "")
	assert.Error(t, err)
	assert.Error(t, c.Store(ctx, "web01", nil))
	assert.Error(t, c.Delete(ctx, ""))
}
