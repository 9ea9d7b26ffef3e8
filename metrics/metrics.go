// Package metrics holds the Prometheus collectors of a signer node and the server
// that exposes them.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ruteri/tee-signer-fabric/common"
)

const namespace = "signer"

// Registry is the registry every collector of this package is registered with.
var Registry = prometheus.NewRegistry()

var (
	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Constant 1, labelled with the running service and version.",
	}, []string{"service", "version"})

	RegistryMutations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "registry",
		Name:      "mutations_total",
		Help:      "Registry mutations by registry, operation and result.",
	}, []string{"registry", "op", "result"})

	RegistryEntries = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "registry",
		Name:      "entries",
		Help:      "Number of entries currently held by each registry.",
	}, []string{"registry"})

	TransportFrames = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transport",
		Name:      "frames_total",
		Help:      "Websocket frames by direction and outcome.",
	}, []string{"direction", "result"})

	TransportConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "transport",
		Name:      "open_connections",
		Help:      "Outbound peer connections currently open.",
	})

	PeerConnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "peers",
		Name:      "connects_total",
		Help:      "Peer connect attempts by result.",
	}, []string{"result"})

	PeerSends = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "peers",
		Name:      "sends_total",
		Help:      "Peer sends by result.",
	}, []string{"result"})

	CeremonyResponseLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "ceremony",
		Name:      "response_seconds",
		Help:      "Time from broadcasting a ceremony message to collecting a peer response.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	})

	EventsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "processed_total",
		Help:      "Parentchain events by kind and result.",
	}, []string{"kind", "result"})

	InboundRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rpcserver",
		Name:      "requests_total",
		Help:      "Inbound JSON-RPC requests by method and status.",
	}, []string{"method", "status"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		buildInfo,
		RegistryMutations,
		RegistryEntries,
		TransportFrames,
		TransportConnections,
		PeerConnects,
		PeerSends,
		CeremonyResponseLatency,
		EventsProcessed,
		InboundRequests,
	)
}

// Result maps an error to the result label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

type MetricsServer struct {
	srv *http.Server
}

// New builds the metrics server for service. Nothing listens until ListenAndServe.
func New(service, addr string) (*MetricsServer, error) {
	buildInfo.WithLabelValues(service, common.Version).Set(1)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry}))

	return &MetricsServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

func (s *MetricsServer) Handler() http.Handler {
	return s.srv.Handler
}

func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
