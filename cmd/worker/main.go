package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Slade66/disk-proxy/internal/config"
	"github.com/Slade66/disk-proxy/internal/logging"
	"github.com/Slade66/disk-proxy/internal/status"
)

// 消费者组的名称
const GroupName = "transfer-audit"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("❌ 无法加载配置")
	}
	log := logging.New(cfg.Log)

	if !cfg.Redis.Enabled() {
		log.Fatal().Msg("❌ 未配置 REDIS_ADDR，没有可以消费的传输事件")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := status.NewClient(cfg.Redis)
	defer rdb.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Fatal().Err(err).Msg("❌ Worker 无法连接到 Redis")
	}
	log.Info().Str("addr", cfg.Redis.Addr).Msg("✅ Worker 成功连接到 Redis!")

	consumerName, err := os.Hostname()
	if err != nil {
		consumerName = fmt.Sprintf("worker-%d", time.Now().Unix())
		log.Warn().Str("consumer", consumerName).Msg("⚠️ 无法获取主机名，使用默认消费者名称")
	}

	c := status.NewConsumer(rdb, cfg.Redis.Stream, GroupName, consumerName, logging.Component(log, "worker"))
	if err := c.EnsureGroup(ctx); err != nil {
		log.Fatal().Err(err).Msg("❌ 无法创建消费者组")
	}

	if err := c.Run(ctx, audit(log)); err != nil {
		log.Fatal().Err(err).Msg("❌ Worker 异常退出")
	}
	log.Info().Msg("Worker 已停止")
}

// audit 把每条结束事件写成一条审计日志，失败的传输用 warn 级别
func audit(log zerolog.Logger) status.Handler {
	return func(ctx context.Context, ev status.Event) error {
		switch ev.Status {
		case status.StatusFailed:
			log.Warn().
				Str("id", ev.ID).
				Str("filename", ev.Filename).
				Str("range", ev.Range).
				Str("kind", ev.Kind).
				Str("error", ev.Error).
				Int64("bytes", ev.Bytes).
				Str("time", ev.Time).
				Msg("🔥 传输失败")
		case status.StatusCompleted:
			log.Info().
				Str("id", ev.ID).
				Str("filename", ev.Filename).
				Str("range", ev.Range).
				Int64("bytes", ev.Bytes).
				Str("time", ev.Time).
				Msg("✅ 传输完成")
		}
		return nil
	}
}
