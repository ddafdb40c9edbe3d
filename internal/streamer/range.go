// internal/streamer/range.go
package streamer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Slade66/disk-proxy/pkg/proxyerr"
)

const rangeUnit = "bytes="

// Spec 是客户端 Range 头解析后的结果，尚未与文件总长度比较
type Spec struct {
	Start int64
	End   int64
	// HasEnd 为 false 表示 "bytes=N-"，结束位置取文件末尾
	HasEnd bool
}

// ByteRange 是对照总长度后确定的闭区间 [Start, End]
type ByteRange struct {
	Start int64
	End   int64
	Total int64
}

// Length 返回区间内的字节数
func (r ByteRange) Length() int64 {
	return r.End - r.Start + 1
}

// ContentRange 返回 Content-Range 头的值
func (r ByteRange) ContentRange() string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, r.Total)
}

// ParseSpec 解析 "bytes=start-end" 或 "bytes=start-"。
// 不支持多段和后缀形式（"bytes=-500"），也不会猜测一个替代区间。
func ParseSpec(header string) (Spec, error) {
	h := strings.TrimSpace(header)
	value, ok := cutPrefixFold(h, rangeUnit)
	if !ok {
		return Spec{}, invalidRange(header, "只支持 bytes 单位")
	}
	if strings.Contains(value, ",") {
		return Spec{}, invalidRange(header, "不支持多段 Range")
	}

	startStr, endStr, ok := strings.Cut(strings.TrimSpace(value), "-")
	if !ok {
		return Spec{}, invalidRange(header, "缺少 '-'")
	}
	startStr = strings.TrimSpace(startStr)
	endStr = strings.TrimSpace(endStr)

	if startStr == "" {
		return Spec{}, invalidRange(header, "不支持后缀形式的 Range")
	}
	start, err := parseOffset(startStr)
	if err != nil {
		return Spec{}, invalidRange(header, "起始位置不是有效的数字")
	}

	spec := Spec{Start: start}
	if endStr == "" {
		return spec, nil
	}
	end, err := parseOffset(endStr)
	if err != nil {
		return Spec{}, invalidRange(header, "结束位置不是有效的数字")
	}
	if start > end {
		return Spec{}, invalidRange(header, "起始位置大于结束位置")
	}
	spec.End = end
	spec.HasEnd = true
	return spec, nil
}

// Resolve 用文件总长度确定最终区间。
// 起始位置超出文件时失败；结束位置超出时截断到文件末尾。
func (s Spec) Resolve(total int64) (ByteRange, error) {
	if s.Start >= total {
		return ByteRange{}, proxyerr.New(proxyerr.InvalidRange,
			fmt.Sprintf("起始位置 %d 超出文件长度 %d", s.Start, total)).
			WithDetails(map[string]int64{"start": s.Start, "total": total})
	}
	end := total - 1
	if s.HasEnd && s.End < end {
		end = s.End
	}
	return ByteRange{Start: s.Start, End: end, Total: total}, nil
}

// parseOffset 只接受纯数字，strconv 会放过 "+5" 这样的写法
func parseOffset(s string) (int64, error) {
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, strconv.ErrSyntax
		}
	}
	return strconv.ParseInt(s, 10, 64)
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return s, false
	}
	return s[len(prefix):], true
}

func invalidRange(header, reason string) error {
	return proxyerr.New(proxyerr.InvalidRange, "无效的 Range: "+reason).
		WithDetails(map[string]string{"range": header})
}
