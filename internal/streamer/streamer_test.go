package streamer

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Slade66/disk-proxy/internal/fetcher"
	"github.com/Slade66/disk-proxy/pkg/fileinfo"
	"github.com/Slade66/disk-proxy/pkg/proxyerr"
)

// countingReader 记录被读取了多少字节
type countingReader struct {
	r    io.Reader
	read int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read += int64(n)
	return n, err
}

// fakeSink 记录头部是否已经提交
type fakeSink struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
	writeErr    error
}

func newFakeSink() *fakeSink {
	return &fakeSink{header: http.Header{}}
}

func (s *fakeSink) Header() http.Header { return s.header }

func (s *fakeSink) WriteHeader(code int) {
	if s.wroteHeader {
		return
	}
	s.wroteHeader = true
	s.status = code
}

func (s *fakeSink) Write(p []byte) (int, error) {
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	return s.body.Write(p)
}

func sequence(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func newResult(body io.Reader, size int64, contentType string) *fetcher.Result {
	return &fetcher.Result{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       io.NopCloser(body),
		Info:       fileinfo.Info{Size: size, ContentType: contentType},
	}
}

func newTestStreamer() *Streamer {
	// 小缓冲区，确保区间跨越多个分块
	return New(7, zerolog.Nop())
}

func TestStreamFullBody(t *testing.T) {
	payload := sequence(1000)
	rec := httptest.NewRecorder()

	n, err := newTestStreamer().Stream(newResult(bytes.NewReader(payload), int64(len(payload)), "application/pdf"), "", rec)
	require.NoError(t, err)

	assert.Equal(t, int64(len(payload)), n)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, payload, rec.Body.Bytes())
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "1000", rec.Header().Get("Content-Length"))
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.Empty(t, rec.Header().Get("Content-Range"))
	assert.True(t, rec.Flushed)
}

func TestStreamRange(t *testing.T) {
	payload := sequence(1000)
	tests := []struct {
		header       string
		start, end   int
		contentRange string
	}{
		{"bytes=100-199", 100, 199, "bytes 100-199/1000"},
		{"bytes=0-", 0, 999, "bytes 0-999/1000"},
		{"bytes=0-0", 0, 0, "bytes 0-0/1000"},
		{"bytes=995-2000", 995, 999, "bytes 995-999/1000"},
		{"bytes=999-", 999, 999, "bytes 999-999/1000"},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			rec := httptest.NewRecorder()
			n, err := newTestStreamer().Stream(newResult(bytes.NewReader(payload), 1000, "text/plain"), tt.header, rec)
			require.NoError(t, err)

			want := payload[tt.start : tt.end+1]
			assert.Equal(t, int64(len(want)), n)
			assert.Equal(t, http.StatusPartialContent, rec.Code)
			assert.Equal(t, want, rec.Body.Bytes())
			assert.Equal(t, tt.contentRange, rec.Header().Get("Content-Range"))
			assert.Equal(t, strconv.Itoa(len(want)), rec.Header().Get("Content-Length"))
		})
	}
}

func TestStreamRangeWithUnknownSizeFallsBackToFull(t *testing.T) {
	payload := sequence(300)
	rec := httptest.NewRecorder()

	n, err := newTestStreamer().Stream(newResult(bytes.NewReader(payload), -1, fileinfo.DefaultContentType), "bytes=100-199", rec)
	require.NoError(t, err)

	assert.Equal(t, int64(300), n)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, payload, rec.Body.Bytes())
	assert.Empty(t, rec.Header().Get("Content-Length"))
	assert.Empty(t, rec.Header().Get("Content-Range"))
}

func TestStreamInvalidRangeDoesNotReadBody(t *testing.T) {
	for _, header := range []string{"bytes=200-100", "bytes=1000-", "bytes=abc-"} {
		t.Run(header, func(t *testing.T) {
			body := &countingReader{r: bytes.NewReader(sequence(1000))}
			sink := newFakeSink()

			n, err := newTestStreamer().Stream(newResult(body, 1000, "text/plain"), header, sink)
			assert.Equal(t, proxyerr.InvalidRange, proxyerr.KindOf(err))
			assert.Zero(t, n)
			assert.Zero(t, body.read)
			assert.False(t, sink.wroteHeader)
		})
	}
}

func TestStreamTruncatedBody(t *testing.T) {
	payload := sequence(500)
	sink := newFakeSink()

	// 上游声明 1000 字节，只发送了 500
	n, err := newTestStreamer().Stream(newResult(bytes.NewReader(payload), 1000, "text/plain"), "", sink)
	assert.Equal(t, proxyerr.StreamError, proxyerr.KindOf(err))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, int64(500), n)
	assert.True(t, sink.wroteHeader)
}

func TestStreamTruncatedBeforeRangeStartIsNotCommitted(t *testing.T) {
	sink := newFakeSink()

	n, err := newTestStreamer().Stream(newResult(bytes.NewReader(sequence(50)), 1000, "text/plain"), "bytes=100-199", sink)
	assert.Equal(t, proxyerr.StreamError, proxyerr.KindOf(err))
	assert.Zero(t, n)
	assert.False(t, sink.wroteHeader)
}

func TestStreamReadErrorBeforeFirstByte(t *testing.T) {
	sink := newFakeSink()
	broken := &failingReader{err: errors.New("connection reset")}

	n, err := newTestStreamer().Stream(newResult(broken, 10, "text/plain"), "", sink)
	assert.Equal(t, proxyerr.StreamError, proxyerr.KindOf(err))
	assert.Zero(t, n)
	assert.False(t, sink.wroteHeader)
}

func TestStreamClientWriteError(t *testing.T) {
	sink := newFakeSink()
	sink.writeErr = errors.New("broken pipe")

	_, err := newTestStreamer().Stream(newResult(bytes.NewReader(sequence(100)), 100, "text/plain"), "", sink)
	require.Error(t, err)
	assert.Equal(t, proxyerr.StreamError, proxyerr.KindOf(err))
	assert.ErrorIs(t, err, sink.writeErr)
}

func TestStreamEmptyFileCommitsHeaders(t *testing.T) {
	sink := newFakeSink()

	n, err := newTestStreamer().Stream(newResult(bytes.NewReader(nil), 0, "text/plain"), "", sink)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.True(t, sink.wroteHeader)
	assert.Equal(t, http.StatusOK, sink.status)
	assert.Equal(t, "0", sink.header.Get("Content-Length"))
}

type failingReader struct {
	err error
}

func (f *failingReader) Read(p []byte) (int, error) {
	return 0, f.err
}
