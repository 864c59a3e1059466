// Package metrics defines the prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "face_attendance"

var (
	// Identifications counts identification attempts by outcome.
	Identifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "identifications_total",
		Help:      "Face identification attempts by outcome.",
	}, []string{"scope", "outcome"})

	// IdentifyDistance observes the distance of the closest candidate.
	IdentifyDistance = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "identify_distance",
		Help:      "Distance between the presented face and its closest enrolled face.",
		Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 1.0, 1.5},
	})

	// AttendanceRecords counts ledger writes by outcome.
	AttendanceRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "attendance_records_total",
		Help:      "Attendance ledger results by outcome.",
	}, []string{"outcome"})

	// Enrollments counts enrollment attempts by role and result.
	Enrollments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "enrollments_total",
		Help:      "Enrollment attempts by role and result.",
	}, []string{"role", "result"})

	// MalformedEmbeddings counts stored embeddings excluded from scans.
	MalformedEmbeddings = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "malformed_embeddings_total",
		Help:      "Stored embeddings excluded from scans because they failed to decode.",
	})

	// EmbedderLatency observes embedding extraction time.
	EmbedderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "embedder_seconds",
		Help:      "Time spent extracting a face embedding.",
		Buckets:   prometheus.DefBuckets,
	})
)
