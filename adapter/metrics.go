package adapter

import "github.com/prometheus/client_golang/prometheus"

// metricsCollector exposes the adapter's byte counters as Prometheus
// metrics. It reads through Stats() on every Collect call rather than
// keeping its own counters, so it always reports the adapter's current
// truth.
type metricsCollector struct {
	a                 *Adapter
	bytesReceivedDesc *prometheus.Desc
	bytesSentDesc     *prometheus.Desc
	sessionsDesc      *prometheus.Desc
}

func newMetricsCollector(a *Adapter) *metricsCollector {
	return &metricsCollector{
		a: a,
		bytesReceivedDesc: prometheus.NewDesc(
			"wgtunnel_bytes_received_total",
			"Total bytes delivered to the local interface since the last start/update.",
			nil, nil,
		),
		bytesSentDesc: prometheus.NewDesc(
			"wgtunnel_bytes_sent_total",
			"Total bytes written to peer sessions since the last start/update.",
			nil, nil,
		),
		sessionsDesc: prometheus.NewDesc(
			"wgtunnel_sessions_ready",
			"Number of peer sessions currently open.",
			nil, nil,
		),
	}
}

func (m *metricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.bytesReceivedDesc
	ch <- m.bytesSentDesc
	ch <- m.sessionsDesc
}

func (m *metricsCollector) Collect(ch chan<- prometheus.Metric) {
	stats := m.a.Stats()
	ch <- prometheus.MustNewConstMetric(m.bytesReceivedDesc, prometheus.CounterValue, float64(stats.BytesReceived))
	ch <- prometheus.MustNewConstMetric(m.bytesSentDesc, prometheus.CounterValue, float64(stats.BytesSent))

	m.a.mu.Lock()
	sess := m.a.sess
	m.a.mu.Unlock()
	n := 0
	if sess != nil {
		n = sess.Len()
	}
	ch <- prometheus.MustNewConstMetric(m.sessionsDesc, prometheus.GaugeValue, float64(n))
}
