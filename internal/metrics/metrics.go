// Package metrics holds the Prometheus collectors updated while scanning.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	DecodeAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "carve_decode_attempts_total",
		Help: "Candidate offsets handed to a decoder",
	}, []string{"decoder"})

	SegmentsFound = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "carve_segments_found_total",
		Help: "Segments attributed to a decoder",
	}, []string{"decoder"})

	SegmentsTruncated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "carve_segments_truncated_total",
		Help: "Segments attributed to a decoder and flagged as truncated",
	}, []string{"decoder"})

	DecodeUnsupported = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "carve_decode_unsupported_total",
		Help: "Decodes stopped on a structure the decoder cannot delimit",
	}, []string{"decoder"})

	BytesDecoded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "carve_bytes_decoded_total",
		Help: "Bytes attributed to a known format",
	})

	PassSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "carve_decoder_pass_seconds",
		Help:    "Duration of one decoder pass over the unknown segments of a file",
		Buckets: prometheus.DefBuckets,
	}, []string{"decoder"})

	FilesScanned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "carve_files_scanned_total",
		Help: "Files fully segmented",
	})
)

// ObserveSegment records a segment found by decoder.
func ObserveSegment(decoder string, size int64, truncated bool) {
	SegmentsFound.WithLabelValues(decoder).Inc()
	if truncated {
		SegmentsTruncated.WithLabelValues(decoder).Inc()
	}
	BytesDecoded.Add(float64(size))
}

// ObservePass records the duration of a decoder pass started at start.
func ObservePass(decoder string, start time.Time) {
	PassSeconds.WithLabelValues(decoder).Observe(time.Since(start).Seconds())
}
