// internal/api/index.go
package api

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Slade66/disk-proxy/internal/config"
)

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>disk-proxy</title></head>
<body>
<h1>公共目录文件下载服务</h1>
<p>用法：<code>/download/文件名</code>，支持 <code>Range: bytes=起始-结束</code> 断点续传</p>
<p>示例：<a href="/download/report.xlsx">/download/report.xlsx</a></p>
<p>文件列表：<a href="/list">/list</a></p>
<p>存储：{{.Provider}}</p>
<p>公共目录：{{.Folder}}</p>
</body>
</html>
`))

// folderOf 返回首页展示的目录描述
func folderOf(cfg *config.Config) string {
	switch cfg.Provider {
	case config.ProviderYandex:
		return cfg.Yandex.PublicFolderURL
	default:
		return cfg.Bucket.Name + "/" + cfg.Bucket.KeyPrefix
	}
}

func (s *Server) indexHandler(c *gin.Context) {
	var buf bytes.Buffer
	err := indexTemplate.Execute(&buf, map[string]string{
		"Provider": s.cfg.Provider,
		"Folder":   folderOf(s.cfg),
	})
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}
