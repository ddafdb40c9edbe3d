// pkg/proxyerr/errors.go
package proxyerr

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind 标识错误的类别，决定返回给客户端的 HTTP 状态码
type Kind string

const (
	NotFound              Kind = "not_found"
	UpstreamError         Kind = "upstream_error"
	NoDownloadLink        Kind = "no_download_link"
	TooManyRedirects      Kind = "too_many_redirects"
	InvalidRedirectTarget Kind = "invalid_redirect_target"
	Timeout               Kind = "timeout"
	StreamError           Kind = "stream_error"
	Internal              Kind = "internal"
	InvalidRange          Kind = "invalid_range"
	InvalidFilename       Kind = "invalid_filename"
)

// Error 是整条下载管道对外暴露的唯一错误类型
type Error struct {
	Kind       Kind
	HTTPStatus int
	Message    string
	// Details 原样透传给客户端，例如上游返回的错误体
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 让 errors.Is 可以按 Kind 比较，例如 errors.Is(err, &Error{Kind: NotFound})
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New 创建一个带默认状态码的错误
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, HTTPStatus: defaultStatus(kind), Message: message}
}

// Wrap 创建一个包装了底层原因的错误
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, HTTPStatus: defaultStatus(kind), Message: message, Err: err}
}

// WithDetails 附加任意可 JSON 序列化的详情
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// Upstream 用上游状态码构造 UpstreamError。
// 上游返回的不是错误状态（例如没有 Location 的 3xx）时对外使用 502。
func Upstream(status int, message string) *Error {
	code := status
	if code < 400 || code > 599 {
		code = http.StatusBadGateway
	}
	return &Error{Kind: UpstreamError, HTTPStatus: code, Message: message, Details: map[string]any{"upstream_status": status}}
}

// Payload 把上游返回的错误体转换为可嵌入 JSON 的值：合法 JSON 原样保留，否则作为字符串
func Payload(body []byte) any {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	return string(trimmed)
}

// From 把任意错误转换为 *Error，未知错误归为 Internal
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return Wrap(Internal, err, "内部错误")
}

// KindOf 返回错误的类别，nil 返回空字符串
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return From(err).Kind
}

func defaultStatus(kind Kind) int {
	switch kind {
	case NotFound:
		return http.StatusNotFound
	case UpstreamError:
		return http.StatusBadGateway
	case TooManyRedirects:
		return http.StatusLoopDetected
	case Timeout:
		return http.StatusGatewayTimeout
	case InvalidRange:
		return http.StatusRequestedRangeNotSatisfiable
	case InvalidFilename:
		return http.StatusBadRequest
	default:
		// NoDownloadLink, InvalidRedirectTarget, StreamError, Internal
		return http.StatusInternalServerError
	}
}
