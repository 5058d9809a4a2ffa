package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CheckIns counts accepted check-ins by stored status.
	CheckIns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_checkins_total",
		Help: "Accepted attendance check-ins by status.",
	}, []string{"status"})

	// CheckInRejections counts refused check-ins by reason.
	CheckInRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_checkin_rejections_total",
		Help: "Rejected attendance check-ins by reason.",
	}, []string{"reason"})

	PhotoBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "attendance_photo_bytes",
		Help:    "Size of uploaded attendance photos.",
		Buckets: prometheus.ExponentialBuckets(16*1024, 2, 10),
	})

	// FaceScores tracks worker face presence scoring outcomes.
	FaceScores = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_face_scoring_total",
		Help: "Face presence scoring results by outcome.",
	}, []string{"outcome"})
)
