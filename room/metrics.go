package room

import (
	"strconv"
	"time"

	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/event"
	"github.com/duke-git/lancet/v2/condition"
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/klog/v2"
)

var (
	MetricsLabelNames     = []string{"room_id"}
	MetricsKindLabelNames = []string{"room_id", "kind"}
)

type MetricsCollector interface {
	prometheus.Collector
	DeletePartialMatch(labels prometheus.Labels) int
}

// Metrics exports per room series, a nil *Metrics records nothing
type Metrics struct {
	collector []MetricsCollector

	mConnected        *prometheus.GaugeVec
	mSubscribers      *prometheus.GaugeVec
	mEvents           *prometheus.CounterVec
	mDropped          *prometheus.CounterVec
	mDeliveryFailures *prometheus.CounterVec
	mReconnects       *prometheus.CounterVec
	mBroadcast        *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{}
	m.mConnected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "bilive_relay_room_connected", Help: "units bool"}, MetricsLabelNames)
	m.mSubscribers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "bilive_relay_room_subscribers", Help: "attached subscribers"}, MetricsLabelNames)
	m.mEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bilive_relay_events_total", Help: "normalized events"}, MetricsKindLabelNames)
	m.mDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bilive_relay_events_dropped_total", Help: "events dropped by a full room queue"}, MetricsLabelNames)
	m.mDeliveryFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bilive_relay_delivery_failures_total", Help: "subscribers removed after a failed delivery"}, MetricsLabelNames)
	m.mReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bilive_relay_upstream_reconnects_total", Help: "automatic upstream restarts"}, MetricsLabelNames)
	m.mBroadcast = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bilive_relay_broadcast_duration_seconds",
			Help:    "time to fan out one event",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 2},
		}, MetricsLabelNames)
	m.collector = []MetricsCollector{
		m.mConnected, m.mSubscribers, m.mEvents, m.mDropped, m.mDeliveryFailures, m.mReconnects, m.mBroadcast,
	}
	if reg != nil {
		for _, c := range m.collector {
			if err := reg.Register(c); err != nil {
				klog.Errorf("[Metrics]register collector failed: %s", err.Error())
			}
		}
	}
	return m
}

func roomLabel(roomID uint64) string {
	return strconv.FormatUint(roomID, 10)
}

func (m *Metrics) setConnected(roomID uint64, connected bool) {
	if m == nil {
		return
	}
	m.mConnected.WithLabelValues(roomLabel(roomID)).Set(condition.TernaryOperator(connected, 1.0, 0.0))
}

func (m *Metrics) setSubscribers(roomID uint64, n int) {
	if m == nil {
		return
	}
	m.mSubscribers.WithLabelValues(roomLabel(roomID)).Set(float64(n))
}

func (m *Metrics) event(roomID uint64, kind event.Kind) {
	if m == nil {
		return
	}
	m.mEvents.WithLabelValues(roomLabel(roomID), kind.String()).Inc()
}

func (m *Metrics) dropped(roomID uint64) {
	if m == nil {
		return
	}
	m.mDropped.WithLabelValues(roomLabel(roomID)).Inc()
}

func (m *Metrics) deliveryFailed(roomID uint64, n int) {
	if m == nil || n == 0 {
		return
	}
	m.mDeliveryFailures.WithLabelValues(roomLabel(roomID)).Add(float64(n))
}

func (m *Metrics) reconnected(roomID uint64) {
	if m == nil {
		return
	}
	m.mReconnects.WithLabelValues(roomLabel(roomID)).Inc()
}

func (m *Metrics) observeBroadcast(roomID uint64, d time.Duration) {
	if m == nil {
		return
	}
	m.mBroadcast.WithLabelValues(roomLabel(roomID)).Observe(d.Seconds())
}

// forget drops every series of a removed room
func (m *Metrics) forget(roomID uint64) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{"room_id": roomLabel(roomID)}
	for _, c := range m.collector {
		c.DeletePartialMatch(labels)
	}
}
