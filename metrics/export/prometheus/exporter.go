package prometheus

import (
	"net/http"

	"github.com/MrEthical07/authpipe"
	"github.com/MrEthical07/authpipe/metrics/export/internaldefs"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsSource is satisfied by *authpipe.Client.
type MetricsSource interface {
	MetricsSnapshot() authpipe.MetricsSnapshot
	AuditDropped() uint64
	Phase() authpipe.Phase
}

type counterDesc struct {
	id   authpipe.MetricID
	desc *promclient.Desc
}

// Collector reads a fresh snapshot on every scrape.
type Collector struct {
	source     MetricsSource
	counters   []counterDesc
	histograms []counterDesc
	dropped    *promclient.Desc
	renewing   *promclient.Desc
}

var _ promclient.Collector = (*Collector)(nil)

// NewCollector builds descriptors for every exported series.
func NewCollector(source MetricsSource) *Collector {
	c := &Collector{
		source:   source,
		dropped:  promclient.NewDesc(internaldefs.AuditDroppedName, "Dropped audit events due to dispatcher backpressure.", nil, nil),
		renewing: promclient.NewDesc(internaldefs.RenewingName, "1 while an identity exchange is in flight.", nil, nil),
	}
	for _, def := range internaldefs.CounterDefs {
		c.counters = append(c.counters, counterDesc{id: def.ID, desc: promclient.NewDesc(def.Name, def.Help, nil, nil)})
	}
	for _, def := range internaldefs.HistogramDefs {
		c.histograms = append(c.histograms, counterDesc{id: def.ID, desc: promclient.NewDesc(def.Name, def.Help, nil, nil)})
	}
	return c
}

func (c *Collector) Describe(ch chan<- *promclient.Desc) {
	for _, d := range c.counters {
		ch <- d.desc
	}
	for _, d := range c.histograms {
		ch <- d.desc
	}
	ch <- c.dropped
	ch <- c.renewing
}

// Collect emits nothing while metrics are disabled on the source.
func (c *Collector) Collect(ch chan<- promclient.Metric) {
	if c == nil || c.source == nil {
		return
	}
	snapshot := c.source.MetricsSnapshot()
	dropped := c.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return
	}

	for _, d := range c.counters {
		ch <- promclient.MustNewConstMetric(d.desc, promclient.CounterValue, float64(snapshot.Counters[d.id]))
	}
	for _, d := range c.histograms {
		raw, ok := snapshot.Histograms[d.id]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		buckets := make(map[float64]uint64, len(internaldefs.HistogramBounds))
		for i, bound := range internaldefs.HistogramBounds {
			buckets[bound] = cumulative[i]
		}
		// Sum is not tracked by the in-process histogram.
		ch <- promclient.MustNewConstHistogram(d.desc, cumulative[len(cumulative)-1], 0, buckets)
	}
	ch <- promclient.MustNewConstMetric(c.dropped, promclient.CounterValue, float64(dropped))

	var renewing float64
	if c.source.Phase() == authpipe.PhaseRenewing {
		renewing = 1
	}
	ch <- promclient.MustNewConstMetric(c.renewing, promclient.GaugeValue, renewing)
}

// PrometheusExporter pairs a Collector with a private registry.
type PrometheusExporter struct {
	collector *Collector
	registry  *promclient.Registry
}

// NewPrometheusExporter exports metrics read from client.
func NewPrometheusExporter(client *authpipe.Client) *PrometheusExporter {
	return NewPrometheusExporterFromSource(client)
}

func NewPrometheusExporterFromSource(source MetricsSource) *PrometheusExporter {
	collector := NewCollector(source)
	registry := promclient.NewRegistry()
	registry.MustRegister(collector)
	return &PrometheusExporter{collector: collector, registry: registry}
}

// Collector returns the collector for registration elsewhere.
func (p *PrometheusExporter) Collector() promclient.Collector {
	return p.collector
}

// Handler serves the private registry in the Prometheus exposition format.
func (p *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
