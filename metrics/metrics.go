package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "echoapp"

// Registry holds every collector exported on /metrics.
var Registry = prometheus.NewRegistry()

var (
	wsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_connections",
		Help:      "Currently open websocket connections",
	})
	wsAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_accepted_total",
		Help:      "Websocket connections accepted",
	})
	msgEchoed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_echoed_total",
		Help:      "Replies written, by protocol mode",
	}, []string{"mode"})
	echoErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "echo_errors_total",
		Help:      "Session failures by reason",
	}, []string{"reason"})
	transcriptDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transcript_dropped_total",
		Help:      "Exchanges dropped because the transcript buffer was full",
	})
	transcriptRecorded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transcript_recorded_total",
		Help:      "Exchanges handed to a sink, by path (kafka, direct, failed)",
	}, []string{"path"})
	oidcInit = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "oidc_provider_init_total",
		Help:      "OIDC provider initialisation outcomes",
	}, []string{"result"})
	oidcLastInitAttempts = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "oidc_last_init_attempts",
		Help:      "Attempts used in the most recent provider initialisation",
	})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		wsConnections, wsAccepted, msgEchoed, echoErrors,
		transcriptDropped, transcriptRecorded,
		oidcInit, oidcLastInitAttempts,
	)
}

func IncWSConnections() {
	wsConnections.Inc()
	wsAccepted.Inc()
}
func DecWSConnections() { wsConnections.Dec() }

func IncMsgEchoed(mode string)       { msgEchoed.WithLabelValues(mode).Inc() }
func IncEchoError(reason string)     { echoErrors.WithLabelValues(reason).Inc() }
func IncTranscriptDropped()          { transcriptDropped.Inc() }
func IncTranscriptRecorded(p string) { transcriptRecorded.WithLabelValues(p).Inc() }

func IncOIDCInitSuccess(attempts uint64) {
	oidcInit.WithLabelValues("success").Inc()
	oidcLastInitAttempts.Set(float64(attempts))
}
func IncOIDCInitFailure(attempts uint64) {
	oidcInit.WithLabelValues("failure").Inc()
	oidcLastInitAttempts.Set(float64(attempts))
}

// Handler exposes Registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
