// Package metrics exposes Prometheus metrics for the transfer service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/Trivi1234567/vapi-transfer-server-render/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vapi_transfer"

// Metrics holds all application metrics on its own registry
type Metrics struct {
	Registry *prometheus.Registry

	// Preparation and routing
	preparations   *prometheus.CounterVec
	inbound        *prometheus.CounterVec
	intentsExpired prometheus.Counter

	// Dialing
	dials          prometheus.Counter
	dialErrors     prometheus.Counter
	timeouts       prometheus.Counter
	strayStatus    prometheus.Counter
	outcomes       *prometheus.CounterVec
	activeSessions *prometheus.GaugeVec

	// WebSocket
	wsConnections    prometheus.Counter
	wsDisconnections prometheus.Counter
	wsActive         prometheus.Gauge
	wsMessages       prometheus.Counter
	wsErrors         prometheus.Counter

	// HTTP
	httpRequests *prometheus.CounterVec
}

// Global metrics instance
var instance *Metrics
var once sync.Once

// Get returns the singleton metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		Registry: registry,

		preparations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preparations_total",
			Help:      "Transfer preparation events by result",
		}, []string{"result"}),
		inbound: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_total",
			Help:      "Inbound caller legs by routing result",
		}, []string{"result"}),
		intentsExpired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intents_expired_total",
			Help:      "Pending transfer intents evicted before a caller arrived",
		}),

		dials: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dials_total",
			Help:      "Candidate dial attempts started",
		}),
		dialErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dial_errors_total",
			Help:      "Candidate dials rejected synchronously by the carrier",
		}),
		timeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempt_timeouts_total",
			Help:      "Attempts failed locally because no status arrived in time",
		}),
		strayStatus: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stray_status_events_total",
			Help:      "Status callbacks ignored as late, duplicate or unknown",
		}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Terminal transfer outcomes by department",
		}, []string{"department", "outcome"}),
		activeSessions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Transfer sessions held in memory",
		}, []string{"instance"}),

		wsConnections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_connections_total",
			Help:      "Ops websocket connections accepted",
		}),
		wsDisconnections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_disconnections_total",
			Help:      "Ops websocket connections closed",
		}),
		wsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_active_connections",
			Help:      "Ops websocket connections currently open",
		}),
		wsMessages: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_messages_total",
			Help:      "Transfer events written to ops websockets",
		}),
		wsErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_errors_total",
			Help:      "Dropped events and websocket write failures",
		}),

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status code",
		}, []string{"endpoint", "status"}),
	}
}

// RecordPreparation counts an accepted or rejected preparation event
func (m *Metrics) RecordPreparation(accepted bool) {
	if accepted {
		m.preparations.WithLabelValues("accepted").Inc()
		return
	}
	m.preparations.WithLabelValues("rejected").Inc()
}

// RecordInbound counts an inbound caller that was matched or sent to the apology
func (m *Metrics) RecordInbound(matched bool) {
	if matched {
		m.inbound.WithLabelValues("matched").Inc()
		return
	}
	m.inbound.WithLabelValues("no_route").Inc()
}

// RecordDialError increments the synchronous origination failure counter
func (m *Metrics) RecordDialError() { m.dialErrors.Inc() }

// RecordAttemptTimeout increments the locally synthesized failure counter
func (m *Metrics) RecordAttemptTimeout() { m.timeouts.Inc() }

// RecordStrayStatus increments the ignored status event counter
func (m *Metrics) RecordStrayStatus() { m.strayStatus.Inc() }

// RecordIntentsExpired adds evicted pending intents
func (m *Metrics) RecordIntentsExpired(n int) { m.intentsExpired.Add(float64(n)) }

// SetActiveSessions sets the number of sessions held in memory
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.WithLabelValues("local").Set(float64(n))
}

// OnTransferEvent counts dials and terminal outcomes from session transitions
func (m *Metrics) OnTransferEvent(ev types.TransferEvent) {
	switch ev.State {
	case types.StateDialing:
		m.dials.Inc()
	case types.StateConnected, types.StateExhausted:
		m.outcomes.WithLabelValues(ev.Department, string(ev.State)).Inc()
	}
}

// RecordWebSocketConnect increments connection counters
func (m *Metrics) RecordWebSocketConnect() {
	m.wsConnections.Inc()
	m.wsActive.Inc()
}

// RecordWebSocketDisconnect increments disconnection counter
func (m *Metrics) RecordWebSocketDisconnect() {
	m.wsDisconnections.Inc()
	m.wsActive.Dec()
}

// RecordWebSocketMessage increments message counter
func (m *Metrics) RecordWebSocketMessage() { m.wsMessages.Inc() }

// RecordWebSocketError increments WebSocket error counter
func (m *Metrics) RecordWebSocketError() { m.wsErrors.Inc() }

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(endpoint string, statusCode int) {
	m.httpRequests.WithLabelValues(endpoint, strconv.Itoa(statusCode)).Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
