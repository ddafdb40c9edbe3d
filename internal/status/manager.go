package status

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Slade66/disk-proxy/internal/config"
	"github.com/Slade66/disk-proxy/pkg/proxyerr"
	"github.com/Slade66/disk-proxy/pkg/task"
)

const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
	StatusFailed    = "failed"

	// 单次写入 Redis 的最长时间，超时只影响事件流，不影响下载
	publishTimeout = 2 * time.Second
)

// Event 描述一次下载的开始或结束，用于 JSON 序列化
type Event struct {
	StreamID string `json:"stream_id,omitempty"`
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Range    string `json:"range,omitempty"`
	Status   string `json:"status"`
	Bytes    int64  `json:"bytes"`
	Kind     string `json:"kind,omitempty"`
	Error    string `json:"error,omitempty"`
	Time     string `json:"time"`
}

// Publisher 接收下载生命周期事件；实现不能让下载失败
type Publisher interface {
	Started(ctx context.Context, req task.DownloadRequest)
	Finished(ctx context.Context, req task.DownloadRequest, written int64, err error)
	Recent(ctx context.Context, n int64) ([]Event, error)
}

// Manager 结构体封装了与Redis的交互，事件写入一个 stream
type Manager struct {
	rdb    *redis.Client
	stream string
	maxLen int64
	log    zerolog.Logger
}

// NewClient 根据配置创建 Redis 客户端
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
	})
}

// NewManager 创建一个新的事件发布器实例
func NewManager(rdb *redis.Client, cfg config.RedisConfig, log zerolog.Logger) *Manager {
	return &Manager{
		rdb:    rdb,
		stream: cfg.Stream,
		maxLen: cfg.StreamMaxLen,
		log:    log,
	}
}

// Started 记录一次下载开始
func (m *Manager) Started(ctx context.Context, req task.DownloadRequest) {
	m.publish(ctx, newEvent(req, StatusStarted, 0, nil))
}

// Finished 记录下载结束，err 为 nil 表示成功
func (m *Manager) Finished(ctx context.Context, req task.DownloadRequest, written int64, err error) {
	status := StatusCompleted
	if err != nil {
		status = StatusFailed
	}
	m.publish(ctx, newEvent(req, status, written, err))
}

// Recent 按时间倒序返回最近的 n 条事件
func (m *Manager) Recent(ctx context.Context, n int64) ([]Event, error) {
	msgs, err := m.rdb.XRevRangeN(ctx, m.stream, "+", "-", n).Result()
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(msgs))
	for _, msg := range msgs {
		events = append(events, fromMessage(msg))
	}
	return events, nil
}

func (m *Manager) publish(ctx context.Context, ev Event) {
	// 客户端断开后 ctx 已经取消，结束事件仍然要写
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	err := m.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: m.stream,
		MaxLen: m.maxLen,
		Approx: true,
		Values: ev.values(),
	}).Err()
	if err != nil {
		m.log.Warn().Err(err).Str("id", ev.ID).Str("status", ev.Status).Msg("无法发布传输事件")
	}
}

func newEvent(req task.DownloadRequest, status string, written int64, err error) Event {
	ev := Event{
		ID:       req.ID.String(),
		Filename: req.Filename,
		Range:    req.RangeHeader,
		Status:   status,
		Bytes:    written,
		Time:     time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err != nil {
		ev.Kind = string(proxyerr.KindOf(err))
		ev.Error = err.Error()
	}
	return ev
}

// values 把事件转换为 XADD 的字段，空字段不写入
func (e Event) values() map[string]interface{} {
	v := map[string]interface{}{
		"id":       e.ID,
		"filename": e.Filename,
		"status":   e.Status,
		"bytes":    e.Bytes,
		"time":     e.Time,
	}
	if e.Range != "" {
		v["range"] = e.Range
	}
	if e.Kind != "" {
		v["kind"] = e.Kind
	}
	if e.Error != "" {
		v["error"] = e.Error
	}
	return v
}

func fromMessage(msg redis.XMessage) Event {
	str := func(key string) string {
		s, _ := msg.Values[key].(string)
		return s
	}
	bytes, _ := strconv.ParseInt(str("bytes"), 10, 64)
	return Event{
		StreamID: msg.ID,
		ID:       str("id"),
		Filename: str("filename"),
		Range:    str("range"),
		Status:   str("status"),
		Bytes:    bytes,
		Kind:     str("kind"),
		Error:    str("error"),
		Time:     str("time"),
	}
}

// Nop 在没有配置 Redis 时使用
type Nop struct{}

func (Nop) Started(context.Context, task.DownloadRequest) {}

func (Nop) Finished(context.Context, task.DownloadRequest, int64, error) {}

func (Nop) Recent(context.Context, int64) ([]Event, error) {
	return []Event{}, nil
}
