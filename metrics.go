package sessiond

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pkt.systems/sessiond/internal/stats"
)

// statsCollector exports the statistics registry as Prometheus metrics.
// Counters become sessiond_<name>_total; probes become a labelled family of
// count/min/max/avg gauges keyed by probe name.
type statsCollector struct {
	registry *stats.Registry

	counterDescs map[stats.Counter]*prometheus.Desc
	probeCount   *prometheus.Desc
	probeMin     *prometheus.Desc
	probeMax     *prometheus.Desc
	probeAvg     *prometheus.Desc
}

func newStatsCollector(registry *stats.Registry) *statsCollector {
	c := &statsCollector{
		registry:     registry,
		counterDescs: make(map[stats.Counter]*prometheus.Desc, len(stats.Counters())),
		probeCount: prometheus.NewDesc("sessiond_probe_count",
			"Number of samples registered by the probe.", []string{"probe"}, nil),
		probeMin: prometheus.NewDesc("sessiond_probe_min",
			"Smallest sample registered by the probe.", []string{"probe"}, nil),
		probeMax: prometheus.NewDesc("sessiond_probe_max",
			"Largest sample registered by the probe.", []string{"probe"}, nil),
		probeAvg: prometheus.NewDesc("sessiond_probe_avg",
			"Rolling average of samples registered by the probe.", []string{"probe"}, nil),
	}
	for _, id := range stats.Counters() {
		c.counterDescs[id] = prometheus.NewDesc(
			"sessiond_"+id.Name()+"_total",
			"Total number of "+id.Name()+" events.", nil, nil)
	}
	return c
}

func (c *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, desc := range c.counterDescs {
		ch <- desc
	}
	ch <- c.probeCount
	ch <- c.probeMin
	ch <- c.probeMax
	ch <- c.probeAvg
}

func (c *statsCollector) Collect(ch chan<- prometheus.Metric) {
	for _, id := range stats.Counters() {
		ch <- prometheus.MustNewConstMetric(c.counterDescs[id],
			prometheus.CounterValue, float64(c.registry.Counter(id)))
	}
	for _, id := range stats.Probes() {
		probe := c.registry.Probe(id)
		name := id.Name()
		ch <- prometheus.MustNewConstMetric(c.probeCount, prometheus.GaugeValue, float64(probe.Count()), name)
		ch <- prometheus.MustNewConstMetric(c.probeMin, prometheus.GaugeValue, float64(probe.Min()), name)
		ch <- prometheus.MustNewConstMetric(c.probeMax, prometheus.GaugeValue, float64(probe.Max()), name)
		ch <- prometheus.MustNewConstMetric(c.probeAvg, prometheus.GaugeValue, probe.Avg(), name)
	}
}

// metricsHandler serves the Prometheus scrape endpoint for the registry,
// alongside the standard Go runtime and process collectors.
func metricsHandler(registry *stats.Registry) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		newStatsCollector(registry),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}
