package proxyerr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultStatus(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected int
	}{
		{NotFound, http.StatusNotFound},
		{NoDownloadLink, http.StatusInternalServerError},
		{TooManyRedirects, http.StatusLoopDetected},
		{InvalidRedirectTarget, http.StatusInternalServerError},
		{Timeout, http.StatusGatewayTimeout},
		{StreamError, http.StatusInternalServerError},
		{Internal, http.StatusInternalServerError},
		{InvalidRange, http.StatusRequestedRangeNotSatisfiable},
		{InvalidFilename, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.expected, New(tt.kind, "x").HTTPStatus)
		})
	}
}

func TestUpstreamKeepsErrorStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, Upstream(404, "x").HTTPStatus)
	assert.Equal(t, http.StatusServiceUnavailable, Upstream(503, "x").HTTPStatus)
	// 没有 Location 的 3xx 不能原样返回给客户端
	assert.Equal(t, http.StatusBadGateway, Upstream(302, "x").HTTPStatus)
	assert.Equal(t, map[string]any{"upstream_status": 302}, Upstream(302, "x").Details)
}

func TestPayload(t *testing.T) {
	assert.Nil(t, Payload(nil))
	assert.Nil(t, Payload([]byte("  \n")))
	assert.Equal(t, json.RawMessage(`{"error":"DiskNotFoundError"}`), Payload([]byte(` {"error":"DiskNotFoundError"} `)))
	assert.Equal(t, "<html>bad gateway</html>", Payload([]byte("<html>bad gateway</html>")))
}

func TestFromAndKindOf(t *testing.T) {
	wrapped := fmt.Errorf("resolve: %w", New(NotFound, "missing"))

	pe := From(wrapped)
	require.NotNil(t, pe)
	assert.Equal(t, NotFound, pe.Kind)
	assert.Equal(t, NotFound, KindOf(wrapped))

	plain := errors.New("boom")
	assert.Equal(t, Internal, KindOf(plain))
	assert.ErrorIs(t, From(plain), plain)

	assert.Nil(t, From(nil))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestIsMatchesKind(t *testing.T) {
	err := Wrap(Timeout, errors.New("deadline"), "上游超时")
	assert.ErrorIs(t, err, &Error{Kind: Timeout})
	assert.NotErrorIs(t, err, &Error{Kind: NotFound})
	assert.Contains(t, err.Error(), "deadline")
}
