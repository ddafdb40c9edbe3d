// internal/downloader/downloader.go
package downloader

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Slade66/disk-proxy/internal/config"
	"github.com/Slade66/disk-proxy/internal/fetcher"
	"github.com/Slade66/disk-proxy/internal/metrics"
	"github.com/Slade66/disk-proxy/internal/observer"
	"github.com/Slade66/disk-proxy/internal/resolver"
	"github.com/Slade66/disk-proxy/internal/status"
	"github.com/Slade66/disk-proxy/internal/streamer"
)

// Options 是创建 Downloader 所需的依赖，Metrics 和 Events 可以为空
type Options struct {
	Resolver resolver.Resolver
	Fetcher  *fetcher.Fetcher
	Streamer *streamer.Streamer
	HTTP     config.HTTPConfig
	Metrics  metrics.Recorder
	Events   status.Publisher
	Log      zerolog.Logger
}

// Downloader 把解析、抓取和流式转发串成一条管道
type Downloader struct {
	resolver       resolver.Resolver
	fetcher        *fetcher.Fetcher
	streamer       *streamer.Streamer
	resolveTimeout time.Duration
	streamTimeout  time.Duration
	metrics        metrics.Recorder
	events         status.Publisher
	log            zerolog.Logger

	observers []observer.Observer
	mu        sync.Mutex
}

// New 创建一个新的 Downloader 实例
func New(opts Options) *Downloader {
	d := &Downloader{
		resolver:       opts.Resolver,
		fetcher:        opts.Fetcher,
		streamer:       opts.Streamer,
		resolveTimeout: opts.HTTP.ResolveTimeout,
		streamTimeout:  opts.HTTP.StreamTimeout,
		metrics:        opts.Metrics,
		events:         opts.Events,
		log:            opts.Log,
		observers:      make([]observer.Observer, 0),
	}
	if d.metrics == nil {
		d.metrics = metrics.Nop{}
	}
	if d.events == nil {
		d.events = status.Nop{}
	}
	return d
}

// AddObserver 实现了 Observable 接口，用于添加观察者
func (d *Downloader) AddObserver(o observer.Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, o)
}

// Notify 实现了 Observable 接口，用于通知所有观察者
func (d *Downloader) Notify(n int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, obs := range d.observers {
		obs.Update(n)
	}
}

func (d *Downloader) begin(total int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, obs := range d.observers {
		obs.Begin(total)
	}
}
