// Package metrics exposes the node's Prometheus instrumentation. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shardvault"

var (
	durationBuckets  = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
	chunkSizeBuckets = prometheus.ExponentialBuckets(256*1024, 2, 5)
)

// Result labels.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics groups every collector of a node.
type Metrics struct {
	registry *prometheus.Registry

	Puts           *prometheus.CounterVec
	Gets           *prometheus.CounterVec
	PutDuration    prometheus.Histogram
	GetDuration    prometheus.Histogram
	BytesWritten   prometheus.Counter
	BytesRead      prometheus.Counter
	ChunkSize      prometheus.Histogram
	ShardsSent     *prometheus.CounterVec
	ProviderRTT    *prometheus.GaugeVec
	ProviderLoss   *prometheus.GaugeVec
	PreferredChunk *prometheus.GaugeVec
	SweptChunks    prometheus.Counter
	RepairedShards prometheus.Counter
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Puts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "puts_total",
			Help:      "Object writes by result.",
		}, []string{"result"}),
		Gets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gets_total",
			Help:      "Object reads by result.",
		}, []string{"result"}),
		PutDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "put_duration_seconds",
			Help:      "Time taken by successful object writes.",
			Buckets:   durationBuckets,
		}),
		GetDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "get_duration_seconds",
			Help:      "Time taken by successful object reads.",
			Buckets:   durationBuckets,
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "written_bytes_total",
			Help:      "Plaintext bytes accepted by writes.",
		}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_bytes_total",
			Help:      "Plaintext bytes returned by reads.",
		}),
		ChunkSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_size_bytes",
			Help:      "Chunk length chosen for each write.",
			Buckets:   chunkSizeBuckets,
		}),
		ShardsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shards_sent_total",
			Help:      "Shards delivered to providers.",
		}, []string{"provider", "result"}),
		ProviderRTT: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_rtt_ms",
			Help:      "Smoothed round-trip time per provider.",
		}, []string{"provider"}),
		ProviderLoss: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_loss_ratio",
			Help:      "Smoothed loss fraction per provider.",
		}, []string{"provider"}),
		PreferredChunk: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_preferred_chunk_bytes",
			Help:      "Preferred chunk size per provider.",
		}, []string{"provider"}),
		SweptChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_chunks_total",
			Help:      "Unreferenced chunk entries removed by sweeps.",
		}),
		RepairedShards: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repaired_shards_total",
			Help:      "Missing or damaged shards rewritten by repairs.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Puts, m.Gets, m.PutDuration, m.GetDuration,
		m.BytesWritten, m.BytesRead, m.ChunkSize, m.ShardsSent,
		m.ProviderRTT, m.ProviderLoss, m.PreferredChunk, m.SweptChunks,
		m.RepairedShards,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}

// ObservePut records one write attempt.
func (m *Metrics) ObservePut(elapsed time.Duration, bytes int, chunkLen uint64, err error) {
	if m == nil {
		return
	}
	m.Puts.WithLabelValues(result(err)).Inc()
	if err != nil {
		return
	}
	m.PutDuration.Observe(elapsed.Seconds())
	m.BytesWritten.Add(float64(bytes))
	if chunkLen > 0 {
		m.ChunkSize.Observe(float64(chunkLen))
	}
}

// ObserveGet records one read attempt.
func (m *Metrics) ObserveGet(elapsed time.Duration, bytes int, err error) {
	if m == nil {
		return
	}
	m.Gets.WithLabelValues(result(err)).Inc()
	if err != nil {
		return
	}
	m.GetDuration.Observe(elapsed.Seconds())
	m.BytesRead.Add(float64(bytes))
}

// ObserveShard records one shard delivery to provider.
func (m *Metrics) ObserveShard(provider string, err error) {
	if m == nil {
		return
	}
	m.ShardsSent.WithLabelValues(provider, result(err)).Inc()
}

// ObserveProvider publishes a provider's network estimates and chunk size.
func (m *Metrics) ObserveProvider(provider string, rttMS float64, loss float64, preferredChunk uint64) {
	if m == nil {
		return
	}
	m.ProviderRTT.WithLabelValues(provider).Set(rttMS)
	m.ProviderLoss.WithLabelValues(provider).Set(loss)
	m.PreferredChunk.WithLabelValues(provider).Set(float64(preferredChunk))
}

// ObserveSweep records chunk entries removed by a sweep.
func (m *Metrics) ObserveSweep(removed int) {
	if m == nil {
		return
	}
	m.SweptChunks.Add(float64(removed))
}

// ObserveRepair records shards rewritten by a repair.
func (m *Metrics) ObserveRepair(rebuilt int) {
	if m == nil {
		return
	}
	m.RepairedShards.Add(float64(rebuilt))
}
