// internal/fetcher/fetcher.go
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Slade66/disk-proxy/internal/config"
	"github.com/Slade66/disk-proxy/pkg/fileinfo"
	"github.com/Slade66/disk-proxy/pkg/proxyerr"
)

const (
	// 重定向响应体最多读这么多字节，读完可以复用连接
	maxDrainBytes = 4 << 10
	// 错误响应体只保留前面一小段作为详情
	maxErrorBody = 4 << 10
)

// Doer 是 *http.Client 的最小子集
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Result 是重定向链终点的 200 响应。
// Body 只能被读取一次；关闭它会中止上游连接并释放这一跳的 context。
type Result struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
	Info       fileinfo.Info
	// URL 是最终返回 200 的地址
	URL string
	// Chain 是依次访问过的地址，第一个是初始链接
	Chain []string
}

// Redirects 返回跟随过的重定向次数
func (r *Result) Redirects() int {
	return len(r.Chain) - 1
}

// Fetcher 手动跟随重定向，直到拿到 200 响应
type Fetcher struct {
	client       Doer
	maxRedirects int
	hopTimeout   time.Duration
	userAgent    string
	log          zerolog.Logger
}

// New 创建 Fetcher，client 必须不自动跟随重定向（见 internal/client）
func New(client Doer, cfg config.HTTPConfig, log zerolog.Logger) *Fetcher {
	return &Fetcher{
		client:       client,
		maxRedirects: cfg.MaxRedirects,
		hopTimeout:   cfg.HopTimeout,
		userAgent:    cfg.UserAgent,
		log:          log,
	}
}

// Fetch 请求 rawURL 并跟随 3xx 响应。
// 每一跳都有 hopTimeout 的时间返回响应头；请求总数不超过 maxRedirects+1。
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	current, err := url.Parse(rawURL)
	if err != nil || !isHTTP(current) {
		return nil, proxyerr.Wrap(proxyerr.Internal, err, "无效的下载链接")
	}

	chain := []string{current.String()}
	redirects := 0

	for {
		resp, release, err := f.hop(ctx, current)
		if err != nil {
			return nil, err
		}

		location := resp.Header.Get("Location")
		switch {
		case resp.StatusCode == http.StatusOK:
			f.log.Debug().
				Str("url", current.Redacted()).
				Int("redirects", redirects).
				Int64("size", resp.ContentLength).
				Msg("上游返回 200，开始传输")
			return &Result{
				StatusCode: resp.StatusCode,
				Header:     resp.Header,
				Body:       &hopBody{ReadCloser: resp.Body, release: release},
				Info:       fileinfo.FromResponse(resp),
				URL:        current.String(),
				Chain:      chain,
			}, nil

		case isRedirect(resp.StatusCode) && location != "":
			drain(resp.Body)
			release()

			redirects++
			if redirects > f.maxRedirects {
				return nil, proxyerr.New(proxyerr.TooManyRedirects,
					fmt.Sprintf("重定向次数超过上限 %d", f.maxRedirects)).
					WithDetails(map[string]any{"max_redirects": f.maxRedirects, "hops": len(chain)})
			}

			next, err := resolveLocation(current, location)
			if err != nil {
				return nil, err
			}
			f.log.Debug().
				Int("status", resp.StatusCode).
				Str("from", current.Redacted()).
				Str("to", next.Redacted()).
				Msg("跟随重定向")
			current = next
			chain = append(chain, current.String())

		default:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			resp.Body.Close()
			release()

			pe := proxyerr.Upstream(resp.StatusCode, fmt.Sprintf("上游返回了非预期的状态码: %s", resp.Status))
			if payload := proxyerr.Payload(body); payload != nil {
				pe.Details.(map[string]any)["body"] = payload
			}
			return nil, pe
		}
	}
}

// hop 发出一次 GET。返回的 release 必须在响应体用完后调用。
func (f *Fetcher) hop(ctx context.Context, target *url.URL) (*http.Response, func(), error) {
	hopCtx, cancel := context.WithCancel(ctx)
	var timedOut atomic.Bool
	timer := time.AfterFunc(f.hopTimeout, func() {
		timedOut.Store(true)
		cancel()
	})

	req, err := http.NewRequestWithContext(hopCtx, http.MethodGet, target.String(), nil)
	if err != nil {
		timer.Stop()
		cancel()
		return nil, nil, proxyerr.Wrap(proxyerr.Internal, err, "无法创建请求")
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if !timer.Stop() && err == nil {
		// 计时器在响应头到达的同时触发，body 已经不可用
		resp.Body.Close()
		err = context.DeadlineExceeded
	}
	if err != nil {
		cancel()
		return nil, nil, classify(ctx, err, timedOut.Load(), target)
	}
	return resp, cancel, nil
}

// classify 把传输层错误映射为 Timeout 或 StreamError
func classify(ctx context.Context, err error, hopTimedOut bool, target *url.URL) error {
	var netErr net.Error
	switch {
	case hopTimedOut, errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return proxyerr.Wrap(proxyerr.Timeout, err, fmt.Sprintf("等待上游 %s 响应超时", target.Host))
	case ctx.Err() != nil:
		return proxyerr.Wrap(proxyerr.StreamError, err, "请求已取消")
	default:
		return proxyerr.Wrap(proxyerr.StreamError, err, fmt.Sprintf("无法连接上游 %s", target.Host))
	}
}

// resolveLocation 支持绝对和相对的 Location
func resolveLocation(base *url.URL, location string) (*url.URL, error) {
	ref, err := url.Parse(location)
	if err != nil {
		return nil, proxyerr.Wrap(proxyerr.InvalidRedirectTarget, err, "无法解析重定向地址").
			WithDetails(map[string]string{"location": location})
	}
	next := base.ResolveReference(ref)
	if !isHTTP(next) {
		return nil, proxyerr.New(proxyerr.InvalidRedirectTarget, "不支持的重定向地址").
			WithDetails(map[string]string{"location": location})
	}
	return next, nil
}

func isHTTP(u *url.URL) bool {
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func isRedirect(status int) bool {
	return status >= 300 && status < 400
}

func drain(body io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(body, maxDrainBytes))
	body.Close()
}

// hopBody 关闭时同时释放这一跳的 context
type hopBody struct {
	io.ReadCloser
	release func()
	once    sync.Once
}

func (b *hopBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.release)
	return err
}
