package tiled

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// endpoint labels
const (
	endpointMetadata = "metadata"
	endpointSearch   = "search"
	endpointBlob     = "blob"
)

var (
	// requestsTotal counts requests issued to the server.
	// Labels: endpoint (metadata, search, blob), code (HTTP status, or "error"
	// when no response arrived)
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tiled",
		Subsystem: "client",
		Name:      "requests_total",
		Help:      "Total HTTP requests issued to the catalog server",
	}, []string{"endpoint", "code"})

	// requestDuration measures round trip time including reading the body.
	// Labels: endpoint
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tiled",
		Subsystem: "client",
		Name:      "request_duration_seconds",
		Help:      "Catalog server request latency in seconds",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"endpoint"})

	// blockBytes counts decoded block payload bytes
	blockBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tiled",
		Subsystem: "client",
		Name:      "block_bytes_total",
		Help:      "Total uncompressed array block bytes fetched",
	})
)
