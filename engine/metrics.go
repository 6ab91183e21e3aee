package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ftahirops/hostwatch/model"
)

// Metrics is the engine's Prometheus surface. The gauges mirror the latest
// sample so an external scraper sees the same numbers the event stream does.
type Metrics struct {
	Registry *prometheus.Registry

	cpuPercent   prometheus.Gauge
	memPercent   prometheus.Gauge
	diskReadMBs  prometheus.Gauge
	diskWriteMBs prometheus.Gauge
	netSentMBs   prometheus.Gauge
	netRecvMBs   prometheus.Gauge
	rawScore     prometheus.Gauge
	state        prometheus.Gauge

	samplesTotal    prometheus.Counter
	anomaliesTotal  prometheus.Counter
	eventsDropped   prometheus.CounterFunc
	persistDropped  prometheus.CounterFunc
	persistFailures prometheus.CounterFunc
}

// NewMetrics builds and registers the metric set on a fresh registry.
func NewMetrics(bus *Bus, persister *Persister) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		cpuPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hostwatch", Name: "cpu_percent", Help: "CPU utilization of the last sample.",
		}),
		memPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hostwatch", Name: "memory_percent", Help: "Memory utilization of the last sample.",
		}),
		diskReadMBs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hostwatch", Name: "disk_read_mb_per_s", Help: "Disk read rate of the last sample.",
		}),
		diskWriteMBs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hostwatch", Name: "disk_write_mb_per_s", Help: "Disk write rate of the last sample.",
		}),
		netSentMBs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hostwatch", Name: "network_sent_mb_per_s", Help: "Network send rate of the last sample.",
		}),
		netRecvMBs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hostwatch", Name: "network_recv_mb_per_s", Help: "Network receive rate of the last sample.",
		}),
		rawScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hostwatch", Name: "raw_score", Help: "Raw anomaly score of the last scored sample; lower is more anomalous.",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hostwatch", Name: "state", Help: "Engine lifecycle state (0 cold, 1 training, 2 ready, 3 error, 4 stopped).",
		}),
		samplesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hostwatch", Name: "samples_total", Help: "Samples processed since start.",
		}),
		anomaliesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hostwatch", Name: "anomalies_total", Help: "Reported anomalies since start.",
		}),
		eventsDropped: prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "hostwatch", Name: "events_dropped_total", Help: "Bus events dropped for slow subscribers.",
		}, func() float64 { return float64(bus.Dropped()) }),
		persistDropped: prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "hostwatch", Name: "persist_dropped_total", Help: "Log rows dropped because the write queue was full.",
		}, func() float64 { return float64(persister.Dropped()) }),
		persistFailures: prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "hostwatch", Name: "persist_failures_total", Help: "Log write failures.",
		}, func() float64 { return float64(persister.Failures()) }),
	}
	reg.MustRegister(
		m.cpuPercent, m.memPercent,
		m.diskReadMBs, m.diskWriteMBs,
		m.netSentMBs, m.netRecvMBs,
		m.rawScore, m.state,
		m.samplesTotal, m.anomaliesTotal,
		m.eventsDropped, m.persistDropped, m.persistFailures,
		collectors.NewGoCollector(),
	)
	return m
}

// ObserveSample records one processed tick.
func (m *Metrics) ObserveSample(s model.MetricSample, rawScore *float64) {
	m.cpuPercent.Set(s.CPUPercent)
	m.memPercent.Set(s.MemoryPercent)
	m.diskReadMBs.Set(s.DiskReadMBs)
	m.diskWriteMBs.Set(s.DiskWriteMBs)
	m.netSentMBs.Set(s.NetworkSentMBs)
	m.netRecvMBs.Set(s.NetworkRecvMBs)
	if rawScore != nil {
		m.rawScore.Set(*rawScore)
	}
	m.samplesTotal.Inc()
}

// ObserveAnomaly records one reported anomaly.
func (m *Metrics) ObserveAnomaly() { m.anomaliesTotal.Inc() }

// ObserveState records a lifecycle transition.
func (m *Metrics) ObserveState(s model.State) { m.state.Set(float64(s)) }
