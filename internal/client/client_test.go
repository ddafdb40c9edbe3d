package client

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Slade66/disk-proxy/internal/config"
)

func TestClientDoesNotFollowRedirects(t *testing.T) {
	var hits atomic.Int32
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer target.Close()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusFound)
	}))
	defer origin.Close()

	c := New(config.HTTPConfig{HopTimeout: time.Second})
	resp, err := c.Get(origin.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, target.URL, resp.Header.Get("Location"))
	assert.Zero(t, hits.Load())
}

func TestClientKeepsCompressedBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Accept-Encoding"))
		w.Write([]byte("plain"))
	}))
	defer srv.Close()

	resp, err := New(config.HTTPConfig{HopTimeout: time.Second}).Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.False(t, resp.Uncompressed)
}
