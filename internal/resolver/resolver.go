// internal/resolver/resolver.go
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/Slade66/disk-proxy/pkg/proxyerr"
)

// ResolvedLink 是上游签发的短期直链，只使用一次，不缓存
type ResolvedLink struct {
	URL        string
	ObtainedAt time.Time
}

// Resolver 把文件名换成直链
type Resolver interface {
	Resolve(ctx context.Context, filename string) (*ResolvedLink, error)
}

// Lister 列出公共目录中的文件
type Lister interface {
	List(ctx context.Context) (*Listing, error)
}

// Provider 是一个存储后端，同时支持解析和列目录
type Provider interface {
	Resolver
	Lister
	Name() string
	Close()
}

// File 是目录中的一个文件
type File struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Created  string `json:"created,omitempty"`
	Modified string `json:"modified,omitempty"`
}

// Listing 是 /list 的响应体
type Listing struct {
	Folder string `json:"folder"`
	Total  int    `json:"total"`
	Files  []File `json:"files"`
}

func newListing(folder string, files []File) *Listing {
	if files == nil {
		files = []File{}
	}
	return &Listing{Folder: folder, Total: len(files), Files: files}
}

func newLink(url string) *ResolvedLink {
	return &ResolvedLink{URL: url, ObtainedAt: time.Now()}
}

// callError 把访问上游 API 时的传输层错误归类
func callError(err error, provider string) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return proxyerr.Wrap(proxyerr.Timeout, err, fmt.Sprintf("请求 %s 超时", provider))
	case errors.Is(err, context.Canceled):
		return proxyerr.Wrap(proxyerr.StreamError, err, "请求已取消")
	default:
		return proxyerr.Wrap(proxyerr.UpstreamError, err, fmt.Sprintf("无法访问 %s", provider))
	}
}

func notFound(filename string) *proxyerr.Error {
	return proxyerr.New(proxyerr.NotFound, fmt.Sprintf("文件 %q 在指定的目录中不存在", filename))
}
