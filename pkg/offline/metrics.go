package offline

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	enqueueTotal  *prometheus.CounterVec
	dispatchTotal *prometheus.CounterVec
	deadTotal     *prometheus.CounterVec

	dispatchLatency *prometheus.HistogramVec

	pending *prometheus.GaugeVec
	dead    *prometheus.GaugeVec

	online           prometheus.Gauge
	transitionsTotal *prometheus.CounterVec
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		enqueueTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "casesync",
			Name:      "enqueue_total",
			Help:      "Total number of pending operations enqueued.",
		}, []string{"kind"}),
		dispatchTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "casesync",
			Name:      "dispatch_total",
			Help:      "Total number of dispatch attempts.",
		}, []string{"kind", "result"}),
		deadTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "casesync",
			Name:      "dead_total",
			Help:      "Total number of operations that entered dead state.",
		}, []string{"kind"}),
		dispatchLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "casesync",
			Name:      "dispatch_latency_seconds",
			Help:      "Latency distribution for dispatch attempts.",
			Buckets: []float64{
				0.001, 0.002, 0.005,
				0.01, 0.02, 0.05,
				0.1, 0.2, 0.5,
				1, 2, 5, 10,
			},
		}, []string{"kind", "result"}),
		pending: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "casesync",
			Name:      "pending",
			Help:      "Current number of pending operations.",
		}, []string{"queue"}),
		dead: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "casesync",
			Name:      "dead",
			Help:      "Current number of dead-lettered operations.",
		}, []string{"queue"}),
		online: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "casesync",
			Name:      "backend_online",
			Help:      "Whether the backend is currently considered reachable (1/0).",
		}),
		transitionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "casesync",
			Name:      "connectivity_transitions_total",
			Help:      "Total number of online/offline transitions.",
		}, []string{"to"}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}
