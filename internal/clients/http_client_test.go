package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClient_GetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Write([]byte(`{"solana":{"usd":142.5}}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(time.Second, 0)

	var out map[string]any
	require.NoError(t, c.GetJSON(context.Background(), srv.URL, &out))
	assert.Contains(t, out, "solana")
}

func TestHTTPClient_PostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`{"SOL":"150.1"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(time.Second, 10)

	var out map[string]string
	require.NoError(t, c.PostJSON(context.Background(), srv.URL, map[string]string{"type": "allMids"}, &out))
	assert.Equal(t, "150.1", out["SOL"])
}

func TestHTTPClient_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/down":
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/garbage":
			w.Write([]byte(`<html>`))
		case "/slow":
			time.Sleep(200 * time.Millisecond)
			w.Write([]byte(`{}`))
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(time.Second, 0)
	var out map[string]any

	assert.Error(t, c.GetJSON(context.Background(), srv.URL+"/down", &out))
	assert.Error(t, c.GetJSON(context.Background(), srv.URL+"/garbage", &out))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, c.GetJSON(ctx, srv.URL+"/slow", &out))
}
