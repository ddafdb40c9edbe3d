// internal/api/server.go
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Slade66/disk-proxy/internal/config"
	"github.com/Slade66/disk-proxy/internal/resolver"
	"github.com/Slade66/disk-proxy/internal/status"
	"github.com/Slade66/disk-proxy/internal/streamer"
	"github.com/Slade66/disk-proxy/pkg/task"
)

// Downloads 是下载管道的入口，*downloader.Downloader 实现了它
type Downloads interface {
	Serve(ctx context.Context, req task.DownloadRequest, sink streamer.Sink) (int64, error)
}

// Options 是创建 Server 所需的依赖；Metrics 为空时不注册 /metrics
type Options struct {
	Downloads Downloads
	Lister    resolver.Lister
	Events    status.Publisher
	Metrics   http.Handler
	Config    *config.Config
	Log       zerolog.Logger
}

// Server 持有 HTTP 层的依赖
type Server struct {
	downloads Downloads
	lister    resolver.Lister
	events    status.Publisher
	metrics   http.Handler
	cfg       *config.Config
	log       zerolog.Logger
}

func NewServer(opts Options) *Server {
	s := &Server{
		downloads: opts.Downloads,
		lister:    opts.Lister,
		events:    opts.Events,
		metrics:   opts.Metrics,
		cfg:       opts.Config,
		log:       opts.Log,
	}
	if s.events == nil {
		s.events = status.Nop{}
	}
	return s
}

// Router 创建 gin 引擎并注册所有路由
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(
		s.recovery(),
		requestID(),
		s.accessLog(),
		cors(s.cfg.CORSOrigin),
	)

	router.GET("/", s.indexHandler)
	router.GET("/health", healthHandler)
	router.GET("/download/:filename", s.downloadHandler)
	router.GET("/list", s.listHandler)

	// 为 API 路由创建一个分组
	api := router.Group("/api")
	{
		api.GET("/transfers", s.transfersHandler)
	}

	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics))
	}
	return router
}
