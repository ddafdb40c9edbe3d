// internal/client/client.go
package client

import (
	"net"
	"net/http"
	"time"

	"github.com/Slade66/disk-proxy/internal/config"
)

// New 返回访问上游用的 http.Client
// 重定向由 fetcher 手动处理，所以客户端从不自动跟随；
// 也关闭了透明解压，保证转发给客户端的字节与上游一致。
// 不设置 Client.Timeout：它会覆盖整个响应体的读取，超时由调用方通过 context 控制。
func New(cfg config.HTTPConfig) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		ResponseHeaderTimeout: cfg.HopTimeout,
		DisableCompression:    true,
	}

	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
