package radio

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "tuberadio"

var (
	metricListeners = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "listeners",
		Help:      "Connected stream listeners.",
	}, []string{"channel"})

	metricChunksProduced = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "chunks_produced_total",
		Help:      "Chunks pushed into a channel queue.",
	}, []string{"channel"})

	metricStreamedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "streamed_bytes_total",
		Help:      "Audio bytes written to listeners.",
	}, []string{"channel"})

	metricDecodeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "decode_failures_total",
		Help:      "Items whose decode failed, by stage.",
	}, []string{"channel", "stage"})

	metricResolveFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "resolve_failures_total",
		Help:      "Failed attempts to resolve a channel's items.",
	}, []string{"channel"})

	metricSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "skips_total",
		Help:      "Skip requests.",
	}, []string{"channel"})

	metricDroppedChunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "dropped_chunks_total",
		Help:      "Chunks discarded by a skip.",
	}, []string{"channel"})

	metricQueueLength = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "queue_length",
		Help:      "Chunks buffered in a channel queue.",
	}, []string{"channel"})

	metricProducerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "producer_errors_total",
		Help:      "Unexpected producer errors that caused a backoff.",
	}, []string{"channel"})
)

// observe runs f unless the channel's series were already deleted, so a
// listener leaving after removal cannot recreate them.
func (c *Channel) observe(f func()) {
	c.metricsMu.Lock()
	defer c.metricsMu.Unlock()
	if !c.removed {
		f()
	}
}

func (c *Channel) deleteMetrics() {
	c.metricsMu.Lock()
	defer c.metricsMu.Unlock()
	c.removed = true
	deleteChannelMetrics(c.name)
}

func deleteChannelMetrics(name string) {
	labels := prometheus.Labels{"channel": name}
	for _, v := range []interface{ DeletePartialMatch(prometheus.Labels) int }{
		metricListeners,
		metricChunksProduced,
		metricStreamedBytes,
		metricDecodeFailures,
		metricResolveFailures,
		metricSkips,
		metricDroppedChunks,
		metricQueueLength,
		metricProducerErrors,
	} {
		v.DeletePartialMatch(labels)
	}
}
