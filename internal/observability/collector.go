package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arrdeck/arrdeck/internal/eventbus"
	"github.com/arrdeck/arrdeck/internal/fetcher"
)

const namespace = "arrdeck"

// FetcherStats is satisfied by *fetcher.Fetcher.
type FetcherStats interface {
	Stats() fetcher.Stats
}

// Collector reads bus, event and fetcher counters at scrape time.
type Collector struct {
	bus     *eventbus.Bus
	counter *EventCounter
	fetcher FetcherStats

	published     *prometheus.Desc
	dropped       *prometheus.Desc
	events        *prometheus.Desc
	notifications *prometheus.Desc
	cache         *prometheus.Desc
	retries       *prometheus.Desc
	failures      *prometheus.Desc
	writes        *prometheus.Desc
}

// NewCollector builds a collector. Any source may be nil.
func NewCollector(bus *eventbus.Bus, counter *EventCounter, f FetcherStats) *Collector {
	return &Collector{
		bus:     bus,
		counter: counter,
		fetcher: f,

		published: prometheus.NewDesc(prometheus.BuildFQName(namespace, "eventbus", "publish_total"),
			"Total number of events published on the bus.", nil, nil),
		dropped: prometheus.NewDesc(prometheus.BuildFQName(namespace, "eventbus", "dropped_total"),
			"Total number of events dropped by slow subscribers.", nil, nil),
		events: prometheus.NewDesc(prometheus.BuildFQName(namespace, "eventbus", "events_total"),
			"Published events per topic.", []string{"topic"}, nil),
		notifications: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "notifications_total"),
			"User-visible notifications per level.", []string{"level"}, nil),
		cache: prometheus.NewDesc(prometheus.BuildFQName(namespace, "fetcher", "cache_lookups_total"),
			"Cached reads by result.", []string{"result"}, nil),
		retries: prometheus.NewDesc(prometheus.BuildFQName(namespace, "fetcher", "retries_total"),
			"Read attempts that were retried.", nil, nil),
		failures: prometheus.NewDesc(prometheus.BuildFQName(namespace, "fetcher", "read_failures_total"),
			"Reads whose refresh failed.", nil, nil),
		writes: prometheus.NewDesc(prometheus.BuildFQName(namespace, "fetcher", "writes_total"),
			"Writes sent to the backend.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.published, c.dropped, c.events, c.notifications,
		c.cache, c.retries, c.failures, c.writes,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.bus != nil {
		m := c.bus.Metrics()
		ch <- prometheus.MustNewConstMetric(c.published, prometheus.CounterValue, float64(m.PublishTotal))
		ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(m.DroppedTotal))
	}
	if c.counter != nil {
		for topic, n := range c.counter.Snapshot() {
			ch <- prometheus.MustNewConstMetric(c.events, prometheus.CounterValue, float64(n), string(topic))
		}
		for level, n := range c.counter.Notifications() {
			ch <- prometheus.MustNewConstMetric(c.notifications, prometheus.CounterValue, float64(n), string(level))
		}
	}
	if c.fetcher != nil {
		s := c.fetcher.Stats()
		ch <- prometheus.MustNewConstMetric(c.cache, prometheus.CounterValue, float64(s.Hits), "hit")
		ch <- prometheus.MustNewConstMetric(c.cache, prometheus.CounterValue, float64(s.Misses), "miss")
		ch <- prometheus.MustNewConstMetric(c.cache, prometheus.CounterValue, float64(s.StaleServes), "stale")
		ch <- prometheus.MustNewConstMetric(c.retries, prometheus.CounterValue, float64(s.Retries))
		ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(s.Failures))
		ch <- prometheus.MustNewConstMetric(c.writes, prometheus.CounterValue, float64(s.Writes))
	}
}

// Registry returns a registry holding the collector and the Go runtime
// collectors.
func (c *Collector) Registry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(c)
	reg.MustRegister(collectors.NewGoCollector())
	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
