package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/porua/porua/internal/cache"
)

// cacheCollector reads cache statistics at scrape time.
type cacheCollector struct {
	cache *cache.AudioCache

	size      *prometheus.Desc
	maxSize   *prometheus.Desc
	entries   *prometheus.Desc
	hits      *prometheus.Desc
	misses    *prometheus.Desc
	evictions *prometheus.Desc
}

func newCacheCollector(c *cache.AudioCache) *cacheCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "cache", name), help, nil, nil)
	}

	return &cacheCollector{
		cache:     c,
		size:      desc("size_bytes", "Bytes currently charged against the cache budget"),
		maxSize:   desc("max_size_bytes", "Cache budget in bytes"),
		entries:   desc("entries", "Entries currently cached"),
		hits:      desc("hits_total", "Cache lookups that found an entry"),
		misses:    desc("misses_total", "Cache lookups that found nothing"),
		evictions: desc("evictions_total", "Entries evicted to stay within budget"),
	}
}

// Describe implements prometheus.Collector.
func (c *cacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.size
	ch <- c.maxSize
	ch <- c.entries
	ch <- c.hits
	ch <- c.misses
	ch <- c.evictions
}

// Collect implements prometheus.Collector.
func (c *cacheCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.cache.Stats()

	ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(s.TotalSizeBytes))
	ch <- prometheus.MustNewConstMetric(c.maxSize, prometheus.GaugeValue, float64(s.MaxSizeBytes))
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(s.EntryCount))
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(s.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(s.Misses))
	ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(s.Evictions))
}
