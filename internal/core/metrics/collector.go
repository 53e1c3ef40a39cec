package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dep2p/go-chanaccess/pkg/protocol"
)

// Collector 协议指标收集器
type Collector struct {
	registry *prometheus.Registry

	circuitsOpen    prometheus.Gauge
	framesReceived  *prometheus.CounterVec
	framesSent      prometheus.Counter
	bytesReceived   prometheus.Counter
	bytesSent       prometheus.Counter
	searchDatagrams prometheus.Counter
	searchPending   prometheus.Gauge
	beacons         prometheus.Counter
	beaconAnomalies prometheus.Counter
	requestsPending prometheus.Gauge
}

// NewCollector 创建收集器，instance 作为常量标签区分上下文
func NewCollector(cfg Config, instance string) *Collector {
	labels := prometheus.Labels{}
	if instance != "" {
		labels["instance"] = instance
	}
	ns := cfg.Namespace

	c := &Collector{
		registry: prometheus.NewRegistry(),
		circuitsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Name:        "circuits_open",
			Help:        "Number of open virtual circuits.",
			ConstLabels: labels,
		}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "frames_received_total",
			Help:        "Frames received over virtual circuits per command.",
			ConstLabels: labels,
		}, []string{"cmd"}),
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "frames_sent_total",
			Help:        "Frames queued for sending over virtual circuits.",
			ConstLabels: labels,
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "bytes_received_total",
			Help:        "Bytes received over virtual circuits.",
			ConstLabels: labels,
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "bytes_sent_total",
			Help:        "Bytes written to virtual circuit sockets.",
			ConstLabels: labels,
		}),
		searchDatagrams: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "search_datagrams_total",
			Help:        "Search datagrams sent.",
			ConstLabels: labels,
		}),
		searchPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Name:        "search_pending",
			Help:        "Channels waiting in search tiers.",
			ConstLabels: labels,
		}),
		beacons: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "beacons_total",
			Help:        "Beacons received.",
			ConstLabels: labels,
		}),
		beaconAnomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "beacon_anomalies_total",
			Help:        "Beacon anomalies that triggered a search sweep.",
			ConstLabels: labels,
		}),
		requestsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Name:        "requests_pending",
			Help:        "Outstanding requests awaiting a reply.",
			ConstLabels: labels,
		}),
	}

	c.registry.MustRegister(
		c.circuitsOpen,
		c.framesReceived,
		c.framesSent,
		c.bytesReceived,
		c.bytesSent,
		c.searchDatagrams,
		c.searchPending,
		c.beacons,
		c.beaconAnomalies,
		c.requestsPending,
	)
	return c
}

// Registry 返回底层注册表
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler 返回 /metrics HTTP 处理器
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ============================================================================
//                              电路
// ============================================================================

// CircuitOpened 记录电路建立
func (c *Collector) CircuitOpened() {
	if c != nil {
		c.circuitsOpen.Inc()
	}
}

// CircuitClosed 记录电路关闭
func (c *Collector) CircuitClosed() {
	if c != nil {
		c.circuitsOpen.Dec()
	}
}

// FrameReceived 记录收到的帧
func (c *Collector) FrameReceived(cmd protocol.Command, size int) {
	if c == nil {
		return
	}
	c.framesReceived.WithLabelValues(cmd.String()).Inc()
	c.bytesReceived.Add(float64(size))
}

// FrameSent 记录入队的帧
func (c *Collector) FrameSent() {
	if c != nil {
		c.framesSent.Inc()
	}
}

// BytesWritten 记录写入套接字的字节数
func (c *Collector) BytesWritten(n int) {
	if c != nil && n > 0 {
		c.bytesSent.Add(float64(n))
	}
}

// ============================================================================
//                              搜索与信标
// ============================================================================

// SearchDatagramSent 记录发送的搜索数据报
func (c *Collector) SearchDatagramSent() {
	if c != nil {
		c.searchDatagrams.Inc()
	}
}

// SetSearchPending 设置等待搜索的通道数
func (c *Collector) SetSearchPending(n int) {
	if c != nil {
		c.searchPending.Set(float64(n))
	}
}

// BeaconReceived 记录收到的信标
func (c *Collector) BeaconReceived() {
	if c != nil {
		c.beacons.Inc()
	}
}

// BeaconAnomaly 记录信标异常
func (c *Collector) BeaconAnomaly() {
	if c != nil {
		c.beaconAnomalies.Inc()
	}
}

// ============================================================================
//                              请求
// ============================================================================

// RequestStarted 记录请求进入等待
func (c *Collector) RequestStarted() {
	if c != nil {
		c.requestsPending.Inc()
	}
}

// RequestFinished 记录请求完成
func (c *Collector) RequestFinished() {
	if c != nil {
		c.requestsPending.Dec()
	}
}
