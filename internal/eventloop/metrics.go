package eventloop

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

// MetricsSubsystem namespaces this package's metrics, mirroring the
// teacher's per-package MetricsSubsytem constants.
const MetricsSubsystem = "eventloop"

// Metrics contains metrics exposed by the event loop. See PrometheusMetrics
// for descriptions.
type Metrics struct {
	Peers          metrics.Gauge
	ActiveRequests metrics.Gauge
	ConsensusLen   metrics.Gauge
	MempoolSize    metrics.Gauge
	PeerCloses     metrics.Counter
	EventsHandled  metrics.Counter
}

// PrometheusMetrics returns Metrics built using the Prometheus client
// library, the same facade-over-prometheus pattern as p2p/metrics.go and
// mempool/metrics.go.
func PrometheusMetrics(namespace string) *Metrics {
	return &Metrics{
		Peers: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "peers",
			Help:      "Number of registered peer connections.",
		}, []string{}),
		ActiveRequests: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "active_requests",
			Help:      "Number of outstanding header/block/probe requests.",
		}, []string{}),
		ConsensusLen: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "consensus_length",
			Help:      "Height of the local consensus chain.",
		}, []string{}),
		MempoolSize: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "mempool_size",
			Help:      "Number of cached mempool transactions.",
		}, []string{}),
		PeerCloses: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "peer_closes_total",
			Help:      "Number of peer connections closed, by reason.",
		}, []string{"reason"}),
		EventsHandled: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "events_handled_total",
			Help:      "Number of events drained from the event queue.",
		}, []string{}),
	}
}

// NopMetrics returns no-op Metrics, the default for tests.
func NopMetrics() *Metrics {
	return &Metrics{
		Peers:          discard.NewGauge(),
		ActiveRequests: discard.NewGauge(),
		ConsensusLen:   discard.NewGauge(),
		MempoolSize:    discard.NewGauge(),
		PeerCloses:     discard.NewCounter(),
		EventsHandled:  discard.NewCounter(),
	}
}
