// internal/api/handlers.go
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Slade66/disk-proxy/pkg/proxyerr"
	"github.com/Slade66/disk-proxy/pkg/task"
)

const (
	defaultTransfers = 50
	maxTransfers     = 1000
)

// 出错时需要撤销的头，它们是为成功响应准备的
var payloadHeaders = []string{
	"Content-Length",
	"Content-Range",
	"Content-Disposition",
	"Accept-Ranges",
	"Content-Type",
}

func (s *Server) downloadHandler(c *gin.Context) {
	req := task.New(c.GetString(requestIDKey), c.Param("filename"), c.GetHeader("Range"))

	_, err := s.downloads.Serve(c.Request.Context(), req, c.Writer)
	if err == nil {
		return
	}

	if !c.Writer.Written() {
		writeError(c, err)
		return
	}

	// 响应已经开始，只能中断连接让客户端感知到截断
	if errors.Is(c.Request.Context().Err(), context.Canceled) {
		return
	}
	panic(http.ErrAbortHandler)
}

func (s *Server) listHandler(c *gin.Context) {
	if s.lister == nil {
		writeError(c, proxyerr.New(proxyerr.Internal, "当前存储不支持列目录"))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.HTTP.ResolveTimeout)
	defer cancel()

	listing, err := s.lister.List(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

func (s *Server) transfersHandler(c *gin.Context) {
	n := int64(defaultTransfers)
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_limit", "message": "limit 必须是正整数"})
			return
		}
		n = min(parsed, maxTransfers)
	}

	events, err := s.events.Recent(c.Request.Context(), n)
	if err != nil {
		writeError(c, proxyerr.Wrap(proxyerr.Internal, err, "读取传输记录失败"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"transfers": events})
}

func healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// writeError 把管道错误写成 JSON，只能在响应头提交之前调用
func writeError(c *gin.Context, err error) {
	pe := proxyerr.From(err)

	h := c.Writer.Header()
	for _, k := range payloadHeaders {
		h.Del(k)
	}
	if pe.Kind == proxyerr.InvalidRange {
		if d, ok := pe.Details.(map[string]int64); ok {
			if total, ok := d["total"]; ok {
				h.Set("Content-Range", fmt.Sprintf("bytes */%d", total))
			}
		}
	}

	body := gin.H{
		"error":   string(pe.Kind),
		"message": pe.Message,
		"status":  pe.HTTPStatus,
	}
	if pe.Details != nil {
		body["details"] = pe.Details
	}
	c.AbortWithStatusJSON(pe.HTTPStatus, body)
}
