package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Slade66/disk-proxy/internal/api"
	"github.com/Slade66/disk-proxy/internal/client"
	"github.com/Slade66/disk-proxy/internal/config"
	"github.com/Slade66/disk-proxy/internal/downloader"
	"github.com/Slade66/disk-proxy/internal/fetcher"
	"github.com/Slade66/disk-proxy/internal/logging"
	"github.com/Slade66/disk-proxy/internal/metrics"
	"github.com/Slade66/disk-proxy/internal/resolver"
	"github.com/Slade66/disk-proxy/internal/status"
	"github.com/Slade66/disk-proxy/internal/streamer"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		// logger 依赖配置，这里只能用默认格式
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("❌ 无法加载配置")
	}
	log := logging.New(cfg.Log)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("❌ 服务异常退出")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx := context.Background()
	httpClient := client.New(cfg.HTTP)

	provider, err := resolver.New(ctx, cfg, httpClient, logging.Component(log, "resolver"))
	if err != nil {
		return err
	}
	defer provider.Close()

	events, closeEvents := initEvents(ctx, cfg, log)
	defer closeEvents()

	var recorder metrics.Recorder = metrics.Nop{}
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		m := metrics.New()
		recorder = m
		metricsHandler = m.Handler()
	}

	d := downloader.New(downloader.Options{
		Resolver: provider,
		Fetcher:  fetcher.New(httpClient, cfg.HTTP, logging.Component(log, "fetcher")),
		Streamer: streamer.New(cfg.HTTP.ChunkSize, logging.Component(log, "streamer")),
		HTTP:     cfg.HTTP,
		Metrics:  recorder,
		Events:   events,
		Log:      logging.Component(log, "downloader"),
	})

	gin.SetMode(gin.ReleaseMode)
	router := api.NewServer(api.Options{
		Downloads: d,
		Lister:    provider,
		Events:    events,
		Metrics:   metricsHandler,
		Config:    cfg,
		Log:       logging.Component(log, "api"),
	}).Router()

	// WriteTimeout 保持为 0，传输时长由 STREAM_TIMEOUT 控制
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("provider", provider.Name()).
			Bool("metrics", cfg.Metrics.Enabled).
			Bool("events", cfg.Redis.Enabled()).
			Msg("🚀 服务已启动")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return err
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("正在关闭服务...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("✅ 服务已停止")
	return nil
}

// initEvents 连接 Redis；未配置或连接失败时退化为不发布事件
func initEvents(ctx context.Context, cfg *config.Config, log zerolog.Logger) (status.Publisher, func()) {
	if !cfg.Redis.Enabled() {
		return status.Nop{}, func() {}
	}

	rdb := status.NewClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("⚠️ 无法连接到 Redis，传输事件将不会被记录")
		_ = rdb.Close()
		return status.Nop{}, func() {}
	}
	log.Info().Str("addr", cfg.Redis.Addr).Msg("✅ 成功连接到 Redis")

	return status.NewManager(rdb, cfg.Redis, logging.Component(log, "events")), func() { _ = rdb.Close() }
}
