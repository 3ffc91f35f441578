// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConversationSubmits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_submits_total",
			Help: "Conversation submits by outcome (immediate, orchestrated, halted, transport_failure)",
		},
		[]string{"outcome"},
	)

	ConversationStageTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_stage_transitions_total",
			Help: "Applied stage transitions",
		},
		[]string{"from", "to"},
	)

	OrchestrationPlaybacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestration_playbacks_total",
			Help: "Orchestration playbacks by result (completed, cancelled)",
		},
		[]string{"result"},
	)

	OrchestrationPlaybackDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orchestration_playback_duration_seconds",
			Help:    "Wall time from playback start to final reply",
			Buckets: []float64{1, 2, 3, 3.5, 4, 5, 10},
		},
	)

	KYCSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kyc_submissions_total",
			Help: "KYC wizard submissions by PAN verification outcome",
		},
		[]string{"pan_status"},
	)

	DecisionServiceRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decision_service_requests_total",
			Help: "Decision Service requests by endpoint and result",
		},
		[]string{"endpoint", "result"},
	)

	DecisionServiceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "decision_service_request_duration_seconds",
			Help: "Decision Service request latency",
		},
		[]string{"endpoint"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "console_active_sessions",
			Help: "Conversation sessions currently open in this process",
		},
	)
)
