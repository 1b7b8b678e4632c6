package deckmetrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Own registry so tests can hit Handler() repeatedly without tripping
// duplicate-registration panics on the default registry.
var (
	registry *prometheus.Registry
	initOnce sync.Once

	proxyRequestsTotal   *prometheus.CounterVec
	streamReconnects     prometheus.Counter
	streamConnected      prometheus.Gauge
	downloadsTotal       *prometheus.CounterVec
	shellSessionsActive  prometheus.Gauge
	clustersRegistered   prometheus.Gauge
	clusterRefreshErrors *prometheus.CounterVec
)

func initMetrics() {
	registry = prometheus.NewRegistry()
	factory := promauto.With(registry)

	proxyRequestsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "kubedeck_proxy_requests_total",
		Help: "API requests forwarded through per-cluster proxies.",
	}, []string{"cluster"})

	streamReconnects = factory.NewCounter(prometheus.CounterOpts{
		Name: "kubedeck_watch_reconnects_total",
		Help: "Reconnects of the multiplexed watch stream.",
	})

	streamConnected = factory.NewGauge(prometheus.GaugeOpts{
		Name: "kubedeck_watch_connected",
		Help: "Whether the watch stream is currently connected (0 or 1).",
	})

	downloadsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "kubedeck_kubectl_downloads_total",
		Help: "kubectl artifact downloads by version and result.",
	}, []string{"version", "result"})

	shellSessionsActive = factory.NewGauge(prometheus.GaugeOpts{
		Name: "kubedeck_shell_sessions_active",
		Help: "Open debug shell sessions.",
	})

	clustersRegistered = factory.NewGauge(prometheus.GaugeOpts{
		Name: "kubedeck_clusters_registered",
		Help: "Clusters currently registered with the hub.",
	})

	clusterRefreshErrors = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "kubedeck_cluster_refresh_errors_total",
		Help: "Failed cluster metadata refreshes.",
	}, []string{"cluster"})
}

// Handler returns the /metrics endpoint handler, initializing the metric set
// on first use.
func Handler() http.Handler {
	initOnce.Do(initMetrics)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func CountProxyRequest(clusterID string) {
	initOnce.Do(initMetrics)
	proxyRequestsTotal.WithLabelValues(clusterID).Inc()
}

func CountStreamReconnect() {
	initOnce.Do(initMetrics)
	streamReconnects.Inc()
}

func SetStreamConnected(connected bool) {
	initOnce.Do(initMetrics)
	if connected {
		streamConnected.Set(1)
	} else {
		streamConnected.Set(0)
	}
}

func CountDownload(version, result string) {
	initOnce.Do(initMetrics)
	downloadsTotal.WithLabelValues(version, result).Inc()
}

func AddShellSession() {
	initOnce.Do(initMetrics)
	shellSessionsActive.Inc()
}

func RemoveShellSession() {
	initOnce.Do(initMetrics)
	shellSessionsActive.Dec()
}

func SetClustersRegistered(n int) {
	initOnce.Do(initMetrics)
	clustersRegistered.Set(float64(n))
}

func CountClusterRefreshError(clusterID string) {
	initOnce.Do(initMetrics)
	clusterRefreshErrors.WithLabelValues(clusterID).Inc()
}
