package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/moroshma/hc2stream/pkg/fibaro"
)

const namespace = "hc2"

// Metrics holds the bridge collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	polls             prometheus.Counter
	pollErrors        *prometheus.CounterVec
	valueReports      prometheus.Counter
	changes           prometheus.Counter
	offsetResets      prometheus.Counter
	cursorCurrent     prometheus.Gauge
	cursorLast        prometheus.Gauge
	cursorLag         prometheus.Gauge
	subscriptionState prometheus.Gauge
	restarts          prometheus.Counter
	sinkPublish       *prometheus.CounterVec
	sinkDuration      *prometheus.HistogramVec
	discoveredHubs    prometheus.Counter
}

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		polls: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Successful refreshStates polls",
		}),
		pollErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_errors_total",
			Help:      "Failed polls grouped by error kind",
		}, []string{"kind"}),
		valueReports: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "value_reports_total",
			Help:      "Polls whose report carried at least one value change",
		}),
		changes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_total",
			Help:      "Value change records handed to sinks",
		}),
		offsetResets: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offset_resets_total",
			Help:      "Polls where the hub reported an offset below the cursor",
		}),
		cursorCurrent: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cursor_current",
			Help:      "Offset requested by the next poll",
		}),
		cursorLast: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cursor_last",
			Help:      "Highest offset reported by the hub",
		}),
		cursorLag: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cursor_lag",
			Help:      "Offsets between the cursor and the hub",
		}),
		subscriptionState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscription_state",
			Help:      "Subscription state: 0 idle, 1 running, 2 stopping",
		}),
		restarts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_restarts_total",
			Help:      "Subscriptions restarted after a fatal poll error",
		}),
		sinkPublish: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_publish_total",
			Help:      "Batches handed to sinks grouped by sink and status",
		}, []string{"sink", "status"}),
		sinkDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sink_publish_duration_seconds",
			Help:      "Time spent publishing one batch",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		}, []string{"sink"}),
		discoveredHubs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovered_hubs_total",
			Help:      "Hub announcements received during discovery",
		}),
	}
}

// ObservePoll records a successful poll
func (m *Metrics) ObservePoll(res fibaro.PollResult) {
	m.polls.Inc()
	m.SetCursor(res.Cursor)
	if res.Changed {
		m.valueReports.Inc()
	}
	if res.Reset {
		m.offsetResets.Inc()
	}
}

// ObservePollError records a failed poll by error kind
func (m *Metrics) ObservePollError(err error) {
	kind := "other"
	if k, ok := fibaro.KindOf(err); ok {
		kind = k.String()
	}
	m.pollErrors.WithLabelValues(kind).Inc()
}

// SetCursor publishes the cursor gauges
func (m *Metrics) SetCursor(c fibaro.EventCursor) {
	m.cursorCurrent.Set(float64(c.Current))
	m.cursorLast.Set(float64(c.Last))
	m.cursorLag.Set(float64(c.Lag()))
}

// ObserveChanges counts records handed to sinks
func (m *Metrics) ObserveChanges(n int) {
	m.changes.Add(float64(n))
}

// SetState publishes the subscription state
func (m *Metrics) SetState(s fibaro.SubscriptionState) {
	m.subscriptionState.Set(float64(s))
}

// ObserveRestart counts a resubscribe
func (m *Metrics) ObserveRestart() {
	m.restarts.Inc()
}

// ObserveSink records the outcome of one sink publish
func (m *Metrics) ObserveSink(sink string, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	m.sinkPublish.WithLabelValues(sink, status).Inc()
	m.sinkDuration.WithLabelValues(sink).Observe(d.Seconds())
}

// ObserveDiscovery counts a discovered hub
func (m *Metrics) ObserveDiscovery() {
	m.discoveredHubs.Inc()
}

// Registry exposes the registry for gathering
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
