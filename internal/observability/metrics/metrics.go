package metrics

import "github.com/prometheus/client_golang/prometheus"

// SessionMetrics exposes counters/histograms for the spreadsheet session.
type SessionMetrics struct {
	initTotal     *prometheus.CounterVec
	initLatency   prometheus.Histogram
	signInTotal   *prometheus.CounterVec
	remoteTotal   *prometheus.CounterVec
	remoteLatency *prometheus.HistogramVec
}

func NewSessionMetrics(reg prometheus.Registerer) *SessionMetrics {
	m := &SessionMetrics{
		initTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patientsheets",
			Subsystem: "session",
			Name:      "init_total",
			Help:      "Google API initialization runs by outcome",
		}, []string{"outcome"}),
		initLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "patientsheets",
			Subsystem: "session",
			Name:      "init_latency_seconds",
			Help:      "Duration of Google API initialization",
			Buckets:   prometheus.DefBuckets,
		}),
		signInTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patientsheets",
			Subsystem: "session",
			Name:      "sign_in_total",
			Help:      "Credential exchanges by outcome",
		}, []string{"outcome"}),
		remoteTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patientsheets",
			Subsystem: "sheets",
			Name:      "remote_calls_total",
			Help:      "Total Sheets/Drive API calls",
		}, []string{"op", "status"}),
		remoteLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "patientsheets",
			Subsystem: "sheets",
			Name:      "remote_call_latency_seconds",
			Help:      "Latency of Sheets/Drive API calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.initTotal, m.initLatency, m.signInTotal, m.remoteTotal, m.remoteLatency)
	return m
}

func (m *SessionMetrics) ObserveInit(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.initTotal.WithLabelValues(outcome).Inc()
	m.initLatency.Observe(seconds)
}

func (m *SessionMetrics) ObserveSignIn(outcome string) {
	if m == nil {
		return
	}
	m.signInTotal.WithLabelValues(outcome).Inc()
}

func (m *SessionMetrics) ObserveRemoteCall(op, status string, seconds float64) {
	if m == nil {
		return
	}
	m.remoteTotal.WithLabelValues(op, status).Inc()
	m.remoteLatency.WithLabelValues(op).Observe(seconds)
}
