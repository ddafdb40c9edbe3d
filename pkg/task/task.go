package task

import (
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/Slade66/disk-proxy/pkg/proxyerr"
)

// DownloadRequest 描述一次客户端下载请求，处理完成后即丢弃。
type DownloadRequest struct {
	// 请求的唯一标识符，来自 X-Request-ID 或由 API 层生成。
	ID uuid.UUID `json:"id"`

	// 公共目录中的文件名，只能是单个路径段。
	Filename string `json:"filename"`

	// 客户端的 Range 头，为空表示下载整个文件。
	RangeHeader string `json:"range,omitempty"`
}

// New 创建下载请求；id 不是合法 UUID 时生成新的。
func New(id, filename, rangeHeader string) DownloadRequest {
	parsed, err := uuid.Parse(id)
	if err != nil {
		parsed = uuid.New()
	}
	return DownloadRequest{
		ID:          parsed,
		Filename:    filename,
		RangeHeader: strings.TrimSpace(rangeHeader),
	}
}

// Validate 拒绝空文件名和任何可能跳出目录的写法
func (r DownloadRequest) Validate() error {
	return ValidateFilename(r.Filename)
}

// ValidateFilename 检查文件名是否是安全的单个路径段
func ValidateFilename(name string) error {
	if strings.TrimSpace(name) == "" {
		return proxyerr.New(proxyerr.InvalidFilename, "文件名不能为空")
	}
	if strings.Contains(name, "..") {
		return proxyerr.New(proxyerr.InvalidFilename, "文件名不能包含 '..'")
	}
	if strings.ContainsAny(name, `/\`) {
		return proxyerr.New(proxyerr.InvalidFilename, "文件名不能包含路径分隔符")
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return proxyerr.New(proxyerr.InvalidFilename, "文件名包含控制字符")
		}
	}
	return nil
}
