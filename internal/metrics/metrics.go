// Package metrics provides Prometheus metrics for the sync protocol.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

var (
	// packetsTotal counts framed packets by direction and header.
	packetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "songshare_packets_total",
			Help: "Total number of protocol packets read or written",
		},
		[]string{"direction", "header"},
	)

	// transferBytesTotal counts bundle payload bytes moved over the wire.
	transferBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "songshare_transfer_bytes_total",
			Help: "Total number of archive payload bytes sent or received",
		},
		[]string{"direction"},
	)

	// connectionsTotal counts handshake outcomes.
	// Labels:
	//   - role: "listener" or "dialer"
	//   - outcome: "allowed", "denied", "failed"
	connectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "songshare_connections_total",
			Help: "Total number of connection attempts by role and outcome",
		},
		[]string{"role", "outcome"},
	)

	scanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "songshare_scan_duration_seconds",
			Help:    "Duration of catalog scans in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
	)

	archiveBuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "songshare_archive_build_duration_seconds",
			Help:    "Duration of archive bundle builds in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
	)
)

func init() {
	prometheus.MustRegister(packetsTotal)
	prometheus.MustRegister(transferBytesTotal)
	prometheus.MustRegister(connectionsTotal)
	prometheus.MustRegister(scanDuration)
	prometheus.MustRegister(archiveBuildDuration)
}

func RecordPacket(direction, header string) {
	packetsTotal.WithLabelValues(direction, header).Inc()
}

func AddTransferBytes(direction string, n int64) {
	if n <= 0 {
		return
	}
	transferBytesTotal.WithLabelValues(direction).Add(float64(n))
}

func RecordConnection(role, outcome string) {
	connectionsTotal.WithLabelValues(role, outcome).Inc()
}

func ObserveScan(seconds float64) {
	scanDuration.Observe(seconds)
}

func ObserveArchiveBuild(seconds float64) {
	archiveBuildDuration.Observe(seconds)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
