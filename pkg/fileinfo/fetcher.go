// pkg/fileinfo/fetcher.go
package fileinfo

import (
	"net/http"
	"strconv"
	"strings"
)

// DefaultContentType 上游没有声明类型时使用
const DefaultContentType = "application/octet-stream"

// Info 包含了文件的元信息
type Info struct {
	// Size 为 -1 表示上游没有声明长度
	Size          int64
	ContentType   string
	AcceptsRanges bool
}

// SizeKnown 报告总长度是否已知
func (i Info) SizeKnown() bool {
	return i.Size >= 0
}

// FromResponse 从上游响应中提取文件信息
func FromResponse(resp *http.Response) Info {
	info := FromHeader(resp.Header)
	// 传输层已经解析过的长度更可靠（例如分块传输时头部会被删除）
	if resp.ContentLength >= 0 {
		info.Size = resp.ContentLength
	}
	return info
}

// FromHeader 解析响应头中的 Content-Length、Content-Type 和 Accept-Ranges
func FromHeader(h http.Header) Info {
	info := Info{
		Size:          -1,
		ContentType:   h.Get("Content-Type"),
		AcceptsRanges: strings.EqualFold(h.Get("Accept-Ranges"), "bytes"),
	}
	if info.ContentType == "" {
		info.ContentType = DefaultContentType
	}

	contentLengthStr := h.Get("Content-Length")
	if contentLengthStr == "" {
		return info
	}
	size, err := strconv.ParseInt(contentLengthStr, 10, 64)
	if err != nil || size < 0 {
		// 无效的文件大小按未知处理
		return info
	}
	info.Size = size
	return info
}
