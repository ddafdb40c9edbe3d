// internal/downloader/util.go
package downloader

import (
	"net/http"
	"strconv"

	"github.com/Slade66/disk-proxy/internal/streamer"
)

// progressSink 包装 Sink 来跟踪进度，并记录头部是否已经提交
type progressSink struct {
	streamer.Sink
	onBegin    func(total int64)
	onProgress func(n int64)
	committed  bool
}

func (s *progressSink) WriteHeader(code int) {
	if !s.committed {
		s.committed = true
		total := int64(-1)
		if v, err := strconv.ParseInt(s.Header().Get("Content-Length"), 10, 64); err == nil {
			total = v
		}
		s.onBegin(total)
	}
	s.Sink.WriteHeader(code)
}

// Write 实现 io.Writer 接口
func (s *progressSink) Write(p []byte) (int, error) {
	if !s.committed {
		s.WriteHeader(http.StatusOK)
	}
	n, err := s.Sink.Write(p)
	if n > 0 {
		s.onProgress(int64(n))
	}
	return n, err
}

// Flush 透传给底层的 http.Flusher
func (s *progressSink) Flush() {
	if f, ok := s.Sink.(http.Flusher); ok {
		f.Flush()
	}
}
