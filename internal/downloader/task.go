// internal/downloader/task.go
package downloader

import (
	"context"
	"mime"
	"sync/atomic"
	"time"

	"github.com/Slade66/disk-proxy/internal/resolver"
	"github.com/Slade66/disk-proxy/internal/streamer"
	"github.com/Slade66/disk-proxy/pkg/proxyerr"
	"github.com/Slade66/disk-proxy/pkg/task"
)

// Serve 为一次请求跑完整条管道，返回写给 sink 的字节数。
// sink 的头部提交之前返回的错误都可以作为 JSON 响应交给客户端；
// 提交之后出错只能中断连接。
func (d *Downloader) Serve(ctx context.Context, req task.DownloadRequest, sink streamer.Sink) (written int64, err error) {
	log := d.log.With().Str("request_id", req.ID.String()).Str("filename", req.Filename).Logger()
	start := time.Now()

	d.metrics.DownloadStarted()
	d.events.Started(ctx, req)
	defer func() {
		kind := "ok"
		if err != nil {
			kind = string(proxyerr.KindOf(err))
		}
		d.metrics.DownloadFinished(kind, time.Since(start))
		d.metrics.BytesRelayed(written)
		d.events.Finished(ctx, req, written, err)

		if err != nil {
			log.Warn().Err(err).Str("kind", kind).Int64("bytes", written).Dur("elapsed", time.Since(start)).Msg("下载失败")
			return
		}
		log.Info().Int64("bytes", written).Dur("elapsed", time.Since(start)).Msg("下载完成")
	}()

	if err := req.Validate(); err != nil {
		return 0, err
	}
	// 语法错误的 Range 不需要访问上游
	if req.RangeHeader != "" {
		if _, err := streamer.ParseSpec(req.RangeHeader); err != nil {
			return 0, err
		}
	}

	link, err := d.resolve(ctx, req.Filename)
	if err != nil {
		return 0, err
	}

	// 客户端断开或传输超时都会取消这个 context，上游连接随之关闭
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fetchStart := time.Now()
	res, err := d.fetcher.Fetch(ctx, link.URL)
	d.metrics.StageDuration("fetch", time.Since(fetchStart))
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	d.metrics.Redirects(res.Redirects())
	log.Debug().Int("redirects", res.Redirects()).Int64("size", res.Info.Size).Msg("上游已响应")

	var timedOut atomic.Bool
	timer := time.AfterFunc(d.streamTimeout, func() {
		timedOut.Store(true)
		cancel()
	})
	defer timer.Stop()

	sink.Header().Set("Content-Disposition", contentDisposition(req.Filename))
	ps := &progressSink{Sink: sink, onBegin: d.begin, onProgress: d.Notify}

	streamStart := time.Now()
	written, err = d.streamer.Stream(res, req.RangeHeader, ps)
	d.metrics.StageDuration("stream", time.Since(streamStart))

	if err != nil && timedOut.Load() && !ps.committed {
		err = proxyerr.Wrap(proxyerr.Timeout, err, "传输超时")
	}
	return written, err
}

func (d *Downloader) resolve(ctx context.Context, filename string) (*resolver.ResolvedLink, error) {
	ctx, cancel := context.WithTimeout(ctx, d.resolveTimeout)
	defer cancel()

	start := time.Now()
	link, err := d.resolver.Resolve(ctx, filename)
	d.metrics.StageDuration("resolve", time.Since(start))
	return link, err
}

// contentDisposition 按 RFC 6266 编码文件名，非 ASCII 字符使用 filename*
func contentDisposition(filename string) string {
	v := mime.FormatMediaType("attachment", map[string]string{"filename": filename})
	if v == "" {
		return "attachment"
	}
	return v
}
