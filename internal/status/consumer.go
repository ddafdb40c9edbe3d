// internal/status/consumer.go
package status

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const retryDelay = 5 * time.Second

// Handler 处理一条传输事件，返回错误时消息不会被 ACK
type Handler func(ctx context.Context, ev Event) error

// Consumer 以消费者组的方式读取传输事件流
type Consumer struct {
	rdb      *redis.Client
	stream   string
	group    string
	consumer string
	block    time.Duration
	log      zerolog.Logger
}

func NewConsumer(rdb *redis.Client, stream, group, consumer string, log zerolog.Logger) *Consumer {
	return &Consumer{
		rdb:      rdb,
		stream:   stream,
		group:    group,
		consumer: consumer,
		block:    5 * time.Second,
		log:      log,
	}
}

// EnsureGroup 确保消费者组存在，如果不存在则创建
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.stream, c.group, "$").Err()
	if err != nil && !isBusyGroup(err) {
		return err
	}
	return nil
}

// Run 是主循环，ctx 取消后返回
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	c.log.Info().Str("stream", c.stream).Str("group", c.group).Str("consumer", c.consumer).Msg("▶️ 开始监听传输事件")

	for {
		if ctx.Err() != nil {
			return nil
		}

		// 1. 从 Stream 中阻塞式地读取新事件
		streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  []string{c.stream, ">"}, // ">" 表示只接收从未被消费过的新消息
			Count:    16,
			Block:    c.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn().Err(err).Dur("retry_in", retryDelay).Msg("从 Redis Stream 读取事件失败")
			if !sleep(ctx, retryDelay) {
				return nil
			}
			continue
		}

		// 2. 逐条处理，成功后 ACK
		for _, s := range streams {
			for _, msg := range s.Messages {
				if err := handle(ctx, fromMessage(msg)); err != nil {
					// 不 ACK，留在 pending 列表里等待人工处理
					c.log.Error().Err(err).Str("stream_id", msg.ID).Msg("处理传输事件失败")
					continue
				}
				if err := c.rdb.XAck(ctx, c.stream, c.group, msg.ID).Err(); err != nil {
					c.log.Error().Err(err).Str("stream_id", msg.ID).Msg("‼️ 无法 ACK 事件")
				}
			}
		}
	}
}

func isBusyGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}

// sleep 等待 d，ctx 先结束时返回 false
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
