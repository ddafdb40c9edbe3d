package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Slade66/disk-proxy/internal/client"
	"github.com/Slade66/disk-proxy/internal/config"
	"github.com/Slade66/disk-proxy/internal/downloader"
	"github.com/Slade66/disk-proxy/internal/fetcher"
	"github.com/Slade66/disk-proxy/internal/metrics"
	"github.com/Slade66/disk-proxy/internal/resolver"
	"github.com/Slade66/disk-proxy/internal/status"
	"github.com/Slade66/disk-proxy/internal/streamer"
	"github.com/Slade66/disk-proxy/pkg/proxyerr"
	"github.com/Slade66/disk-proxy/pkg/task"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// stubResolver 把文件名映射到上游地址
type stubResolver struct {
	links map[string]string
}

func (r *stubResolver) Resolve(ctx context.Context, filename string) (*resolver.ResolvedLink, error) {
	u, ok := r.links[filename]
	if !ok {
		return nil, proxyerr.New(proxyerr.NotFound, "文件不存在").WithDetails(map[string]string{"filename": filename})
	}
	return &resolver.ResolvedLink{URL: u, ObtainedAt: time.Now()}, nil
}

type stubLister struct {
	listing *resolver.Listing
	err     error
}

func (l *stubLister) List(ctx context.Context) (*resolver.Listing, error) {
	return l.listing, l.err
}

type stubPublisher struct {
	status.Nop
	events []status.Event
	err    error
	asked  int64
}

func (p *stubPublisher) Recent(ctx context.Context, n int64) ([]status.Event, error) {
	p.asked = n
	return p.events, p.err
}

// downloadsFunc 让测试直接控制 Serve 的行为
type downloadsFunc func(ctx context.Context, req task.DownloadRequest, sink streamer.Sink) (int64, error)

func (f downloadsFunc) Serve(ctx context.Context, req task.DownloadRequest, sink streamer.Sink) (int64, error) {
	return f(ctx, req, sink)
}

var payload = bytes.Repeat([]byte("0123456789"), 100)

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/signed", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/file?sig=1", http.StatusFound)
	})
	mux.HandleFunc("/file", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Length", "1000")
		_, _ = w.Write(payload)
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"gone"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig() *config.Config {
	return &config.Config{
		Provider: config.ProviderYandex,
		Yandex:   config.YandexConfig{PublicFolderURL: "https://disk.yandex.ru/d/abc"},
		HTTP: config.HTTPConfig{
			MaxRedirects:   5,
			ResolveTimeout: time.Second,
			HopTimeout:     time.Second,
			StreamTimeout:  5 * time.Second,
			UserAgent:      "disk-proxy-test",
			ChunkSize:      64,
		},
	}
}

func newPipeline(t *testing.T, cfg *config.Config) Downloads {
	t.Helper()
	upstream := newUpstream(t)
	res := &stubResolver{links: map[string]string{
		"report.pdf":  upstream.URL + "/signed",
		"missing.pdf": upstream.URL + "/gone",
	}}
	log := zerolog.Nop()
	return downloader.New(downloader.Options{
		Resolver: res,
		Fetcher:  fetcher.New(client.New(cfg.HTTP), cfg.HTTP, log),
		Streamer: streamer.New(cfg.HTTP.ChunkSize, log),
		HTTP:     cfg.HTTP,
		Log:      log,
	})
}

func newTestRouter(t *testing.T, opts Options) *gin.Engine {
	t.Helper()
	if opts.Config == nil {
		opts.Config = testConfig()
	}
	if opts.Downloads == nil {
		opts.Downloads = newPipeline(t, opts.Config)
	}
	opts.Log = zerolog.Nop()
	return NewServer(opts).Router()
}

func doRequest(router http.Handler, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t, Options{})
	rec := doRequest(router, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestIndexShowsFolder(t *testing.T) {
	router := newTestRouter(t, Options{})
	rec := doRequest(router, http.MethodGet, "/", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "https://disk.yandex.ru/d/abc")
	assert.Contains(t, rec.Body.String(), "/download/report.xlsx")
}

func TestDownloadFullFile(t *testing.T) {
	router := newTestRouter(t, Options{})
	rec := doRequest(router, http.MethodGet, "/download/report.pdf", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, payload, rec.Body.Bytes())
	assert.Equal(t, "1000", rec.Header().Get("Content-Length"))
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.Equal(t, "attachment; filename=report.pdf", rec.Header().Get("Content-Disposition"))
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "Content-Range")
}

func TestDownloadRange(t *testing.T) {
	router := newTestRouter(t, Options{})
	rec := doRequest(router, http.MethodGet, "/download/report.pdf", http.Header{"Range": {"bytes=100-199"}})

	require.Equal(t, http.StatusPartialContent, rec.Code, rec.Body.String())
	assert.Equal(t, payload[100:200], rec.Body.Bytes())
	assert.Equal(t, "bytes 100-199/1000", rec.Header().Get("Content-Range"))
	assert.Equal(t, "100", rec.Header().Get("Content-Length"))
}

func TestDownloadRangeNotSatisfiable(t *testing.T) {
	router := newTestRouter(t, Options{})
	rec := doRequest(router, http.MethodGet, "/download/report.pdf", http.Header{"Range": {"bytes=5000-"}})

	require.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
	assert.Equal(t, "bytes */1000", rec.Header().Get("Content-Range"))
	assert.Empty(t, rec.Header().Get("Content-Disposition"))
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	body := decodeError(t, rec)
	assert.Equal(t, string(proxyerr.InvalidRange), body["error"])
	assert.EqualValues(t, http.StatusRequestedRangeNotSatisfiable, body["status"])
}

func TestDownloadMalformedRange(t *testing.T) {
	router := newTestRouter(t, Options{})
	rec := doRequest(router, http.MethodGet, "/download/report.pdf", http.Header{"Range": {"bytes=0-1,5-9"}})

	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Range"))
}

func TestDownloadErrors(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		status   int
		kind     proxyerr.Kind
	}{
		{"文件不存在", "nothing.pdf", http.StatusNotFound, proxyerr.NotFound},
		{"上游返回 404", "missing.pdf", http.StatusNotFound, proxyerr.UpstreamError},
		{"非法文件名", "a..b", http.StatusBadRequest, proxyerr.InvalidFilename},
	}

	router := newTestRouter(t, Options{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(router, http.MethodGet, "/download/"+tt.filename, nil)

			assert.Equal(t, tt.status, rec.Code)
			assert.Empty(t, rec.Header().Get("Content-Disposition"))
			body := decodeError(t, rec)
			assert.Equal(t, string(tt.kind), body["error"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestDownloadUpstreamErrorCarriesDetails(t *testing.T) {
	router := newTestRouter(t, Options{})
	rec := doRequest(router, http.MethodGet, "/download/missing.pdf", nil)

	body := decodeError(t, rec)
	details, ok := body["details"].(map[string]any)
	require.True(t, ok, rec.Body.String())
	assert.EqualValues(t, 404, details["upstream_status"])
}

func TestRequestID(t *testing.T) {
	router := newTestRouter(t, Options{})

	id := "5f0c6e2a-3b1d-4c8e-9a7f-2d4b6c8e0a1f"
	rec := doRequest(router, http.MethodGet, "/health", http.Header{requestIDHeader: {id}})
	assert.Equal(t, id, rec.Header().Get(requestIDHeader))

	rec = doRequest(router, http.MethodGet, "/health", http.Header{requestIDHeader: {"not-a-uuid"}})
	got := rec.Header().Get(requestIDHeader)
	assert.NotEqual(t, "not-a-uuid", got)
	assert.Len(t, got, 36)
}

func TestCORSPreflight(t *testing.T) {
	cfg := testConfig()
	cfg.CORSOrigin = "https://example.org"
	router := newTestRouter(t, Options{Config: cfg})

	rec := doRequest(router, http.MethodOptions, "/download/report.pdf", http.Header{"Access-Control-Request-Headers": {"Range"}})

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://example.org", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Range")
}

func TestList(t *testing.T) {
	lister := &stubLister{listing: &resolver.Listing{
		Folder: "https://disk.yandex.ru/d/abc",
		Total:  1,
		Files:  []resolver.File{{Name: "report.pdf", Path: "/report.pdf", Size: 1000}},
	}}
	router := newTestRouter(t, Options{Lister: lister})

	rec := doRequest(router, http.MethodGet, "/list", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var got resolver.Listing
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 1, got.Total)
	assert.Equal(t, "report.pdf", got.Files[0].Name)
}

func TestListError(t *testing.T) {
	lister := &stubLister{err: proxyerr.Upstream(http.StatusForbidden, "目录不可访问")}
	router := newTestRouter(t, Options{Lister: lister})

	rec := doRequest(router, http.MethodGet, "/list", nil)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, string(proxyerr.UpstreamError), decodeError(t, rec)["error"])
}

func TestTransfers(t *testing.T) {
	events := &stubPublisher{events: []status.Event{{ID: "a", Filename: "report.pdf", Status: status.StatusCompleted, Bytes: 1000}}}
	router := newTestRouter(t, Options{Events: events})

	rec := doRequest(router, http.MethodGet, "/api/transfers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, defaultTransfers, events.asked)

	var body struct {
		Transfers []status.Event `json:"transfers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Transfers, 1)
	assert.Equal(t, "report.pdf", body.Transfers[0].Filename)

	rec = doRequest(router, http.MethodGet, "/api/transfers?limit=5000", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, maxTransfers, events.asked)

	rec = doRequest(router, http.MethodGet, "/api/transfers?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransfersStoreUnavailable(t *testing.T) {
	events := &stubPublisher{err: errors.New("connection refused")}
	router := newTestRouter(t, Options{Events: events})

	rec := doRequest(router, http.MethodGet, "/api/transfers", nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, string(proxyerr.Internal), decodeError(t, rec)["error"])
}

func TestMetricsRoute(t *testing.T) {
	router := newTestRouter(t, Options{})
	assert.Equal(t, http.StatusNotFound, doRequest(router, http.MethodGet, "/metrics", nil).Code)

	router = newTestRouter(t, Options{Metrics: metrics.New().Handler()})
	rec := doRequest(router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "disk_proxy_downloads_in_flight")
}

func TestPanicBecomesJSONError(t *testing.T) {
	boom := downloadsFunc(func(context.Context, task.DownloadRequest, streamer.Sink) (int64, error) {
		panic("boom")
	})
	router := newTestRouter(t, Options{Downloads: boom})

	rec := doRequest(router, http.MethodGet, "/download/report.pdf", nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, string(proxyerr.Internal), decodeError(t, rec)["error"])
}

func TestFailureAfterCommitAbortsConnection(t *testing.T) {
	partial := downloadsFunc(func(ctx context.Context, req task.DownloadRequest, sink streamer.Sink) (int64, error) {
		sink.Header().Set("Content-Length", "100")
		sink.WriteHeader(http.StatusOK)
		n, _ := sink.Write(payload[:10])
		sink.(http.Flusher).Flush()
		return int64(n), proxyerr.Wrap(proxyerr.StreamError, io.ErrUnexpectedEOF, "上游响应体提前结束")
	})
	srv := httptest.NewServer(newTestRouter(t, Options{Downloads: partial}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/download/report.pdf")
	if err != nil {
		return
	}
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	assert.Error(t, err)
	assert.Equal(t, payload[:10], body)
}
