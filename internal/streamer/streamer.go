// internal/streamer/streamer.go
package streamer

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/Slade66/disk-proxy/internal/fetcher"
	"github.com/Slade66/disk-proxy/pkg/proxyerr"
)

// Sink 是响应的写入端，http.ResponseWriter 满足这个接口。
// 头部只在第一次 Write 前提交，在那之前出错仍然可以返回结构化的错误。
type Sink interface {
	Header() http.Header
	WriteHeader(statusCode int)
	Write(p []byte) (int, error)
}

// Streamer 把上游响应体按需截取后写入 Sink，内存占用只有一个固定大小的缓冲区
type Streamer struct {
	chunkSize int
	log       zerolog.Logger
}

func New(chunkSize int, log zerolog.Logger) *Streamer {
	if chunkSize <= 0 {
		chunkSize = 32 << 10
	}
	return &Streamer{chunkSize: chunkSize, log: log}
}

// Stream 消费 res.Body 并写入 sink，返回写给客户端的字节数。
// rangeHeader 为空或上游长度未知时转发整个文件；否则返回 206 和对应的字节区间。
// Range 无效时在读取响应体之前就返回 InvalidRange。调用方负责关闭 res.Body。
func (s *Streamer) Stream(res *fetcher.Result, rangeHeader string, sink Sink) (int64, error) {
	info := res.Info

	var (
		spec     Spec
		hasRange bool
	)
	if rangeHeader != "" {
		var err error
		if spec, err = ParseSpec(rangeHeader); err != nil {
			return 0, err
		}
		hasRange = true
	}

	h := sink.Header()
	h.Set("Content-Type", info.ContentType)
	h.Set("Accept-Ranges", "bytes")

	if hasRange && info.SizeKnown() {
		br, err := spec.Resolve(info.Size)
		if err != nil {
			return 0, err
		}
		h.Set("Content-Range", br.ContentRange())
		h.Set("Content-Length", strconv.FormatInt(br.Length(), 10))
		return s.copyRange(res.Body, br, newCommitWriter(sink, http.StatusPartialContent))
	}

	if hasRange {
		s.log.Debug().Str("range", rangeHeader).Msg("上游没有声明长度，忽略 Range 转发整个文件")
	}
	if info.SizeKnown() {
		h.Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	return s.copyFull(res.Body, info.Size, newCommitWriter(sink, http.StatusOK))
}

func (s *Streamer) copyFull(body io.Reader, size int64, w *commitWriter) (int64, error) {
	buf := make([]byte, s.chunkSize)
	src := body
	if size >= 0 {
		src = io.LimitReader(body, size)
	}

	n, err := io.CopyBuffer(w, src, buf)
	if err != nil {
		return n, w.streamErr(err)
	}
	if size >= 0 && n < size {
		return n, proxyerr.Wrap(proxyerr.StreamError, io.ErrUnexpectedEOF,
			fmt.Sprintf("上游响应体提前结束: %d/%d 字节", n, size))
	}
	w.commit()
	return n, nil
}

func (s *Streamer) copyRange(body io.Reader, br ByteRange, w *commitWriter) (int64, error) {
	// 响应体不能 seek，起始位置之前的字节要读出来丢掉
	if br.Start > 0 {
		skipped, err := io.CopyN(io.Discard, body, br.Start)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return 0, proxyerr.Wrap(proxyerr.StreamError, err,
				fmt.Sprintf("跳过前 %d 字节时上游响应体中断，只读到 %d 字节", br.Start, skipped))
		}
	}

	buf := make([]byte, s.chunkSize)
	n, err := io.CopyBuffer(w, io.LimitReader(body, br.Length()), buf)
	if err != nil {
		return n, w.streamErr(err)
	}
	if n < br.Length() {
		return n, proxyerr.Wrap(proxyerr.StreamError, io.ErrUnexpectedEOF,
			fmt.Sprintf("上游响应体提前结束: %d/%d 字节", n, br.Length()))
	}
	w.commit()
	return n, nil
}

// commitWriter 在第一次写入时才提交状态码，每个分块写完后 flush
type commitWriter struct {
	sink      Sink
	status    int
	committed bool
	flusher   http.Flusher
	writeErr  error
}

func newCommitWriter(sink Sink, status int) *commitWriter {
	w := &commitWriter{sink: sink, status: status}
	w.flusher, _ = sink.(http.Flusher)
	return w
}

func (w *commitWriter) commit() {
	if w.committed {
		return
	}
	w.committed = true
	w.sink.WriteHeader(w.status)
}

func (w *commitWriter) Write(p []byte) (int, error) {
	w.commit()
	n, err := w.sink.Write(p)
	if err != nil {
		w.writeErr = err
		return n, err
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return n, nil
}

// streamErr 区分是写客户端失败还是读上游失败
func (w *commitWriter) streamErr(err error) error {
	if w.writeErr != nil {
		return proxyerr.Wrap(proxyerr.StreamError, w.writeErr, "写入客户端失败")
	}
	return proxyerr.Wrap(proxyerr.StreamError, err, "读取上游响应体失败")
}
