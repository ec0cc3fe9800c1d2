package aggregator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricFramesDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frames_decoded_total",
		Help: "Records decoded from inbound frames, by record kind.",
	}, []string{"kind"})

	metricOversizeFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oversize_frames_total",
		Help: "Frames skipped because the declared payload exceeded the cap.",
	})

	metricDecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "decode_errors_total",
		Help: "Connections terminated by a protocol or decode error.",
	})

	metricConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aggregator_connections",
		Help: "Currently open inbound connections.",
	})

	metricConnectionsRefused = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aggregator_connections_refused_total",
		Help: "Connections refused over the max connections cap.",
	})
)
