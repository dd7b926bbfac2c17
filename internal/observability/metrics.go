package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PatientsRegistered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "medface",
		Name:      "patients_registered_total",
		Help:      "Total number of registered patients",
	})

	Recognitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "medface",
		Name:      "recognitions_total",
		Help:      "Recognition requests by outcome",
	}, []string{"outcome"})

	FaceRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "medface",
		Name:      "face_rejections_total",
		Help:      "Images rejected for not containing exactly one face",
	}, []string{"operation"})

	RecordUploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "medface",
		Name:      "record_uploads_total",
		Help:      "Document uploads by outcome",
	}, []string{"outcome"})

	EncodeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "medface",
		Name:      "encode_duration_seconds",
		Help:      "Duration of face detection and encoding",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	})

	GalleryScanned = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "medface",
		Name:      "gallery_entries_scanned",
		Help:      "Gallery entries compared per recognition",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "medface",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "medface",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})

	ActivityEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "medface",
		Name:      "activity_events_total",
		Help:      "Activity events consumed from the stream by type",
	}, []string{"type"})

	ActivityStreamDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "medface",
		Name:      "activity_stream_messages",
		Help:      "Messages currently retained in the activity stream",
	})
)
