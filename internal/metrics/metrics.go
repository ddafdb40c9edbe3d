// internal/metrics/metrics.go
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "disk_proxy"

// Recorder 是下载管道需要的指标接口，Nop 用于关闭指标的场景
type Recorder interface {
	DownloadStarted()
	DownloadFinished(kind string, duration time.Duration)
	StageDuration(stage string, duration time.Duration)
	Redirects(n int)
	BytesRelayed(n int64)
}

// Metrics 持有自己的 registry，不污染全局的默认 registry
type Metrics struct {
	registry *prometheus.Registry

	downloadsTotal   *prometheus.CounterVec
	downloadDuration *prometheus.HistogramVec
	stageDuration    *prometheus.HistogramVec
	redirects        prometheus.Histogram
	bytesRelayed     prometheus.Counter
	inFlight         prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	// kind 为 ok 或错误类别
	m.downloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Finished downloads by result kind.",
		},
		[]string{"kind"},
	)
	m.downloadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "download_duration_seconds",
			Help:      "Total time spent serving a download.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"kind"},
	)
	m.stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage"},
	)
	m.redirects = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "redirect_hops",
		Help:      "Redirects followed per fetch.",
		Buckets:   []float64{0, 1, 2, 3, 4, 5, 10},
	})
	m.bytesRelayed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bytes_relayed_total",
		Help:      "Bytes written to clients.",
	})
	m.inFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "downloads_in_flight",
		Help:      "Downloads currently being served.",
	})

	m.registry.MustRegister(
		m.downloadsTotal,
		m.downloadDuration,
		m.stageDuration,
		m.redirects,
		m.bytesRelayed,
		m.inFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) DownloadStarted() {
	m.inFlight.Inc()
}

func (m *Metrics) DownloadFinished(kind string, duration time.Duration) {
	m.inFlight.Dec()
	m.downloadsTotal.WithLabelValues(kind).Inc()
	m.downloadDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (m *Metrics) StageDuration(stage string, duration time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

func (m *Metrics) Redirects(n int) {
	m.redirects.Observe(float64(n))
}

func (m *Metrics) BytesRelayed(n int64) {
	if n > 0 {
		m.bytesRelayed.Add(float64(n))
	}
}

// Registry 暴露给测试和自定义采集
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 /metrics 的处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Nop 丢弃所有指标
type Nop struct{}

func (Nop) DownloadStarted() {}
func (Nop) DownloadFinished(string, time.Duration) {}
func (Nop) StageDuration(string, time.Duration) {}
func (Nop) Redirects(int) {}
func (Nop) BytesRelayed(int64) {}
