package chat

import "github.com/prometheus/client_golang/prometheus"

var (
	ConnectedSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connected_sessions",
		Help: "Number of sessions currently held by the registry",
	})

	AuthenticatedSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_authenticated_sessions",
		Help: "Number of authenticated sessions",
	})

	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_registry_events_total",
		Help: "Total registry events processed by type",
	}, []string{"type"})

	EventProcessingDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_event_processing_seconds",
		Help:    "Time to process each registry event type",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	FramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_frames_total",
		Help: "Inbound envelopes by command",
	}, []string{"command"})

	MalformedEnvelopes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_malformed_envelopes_total",
		Help: "Inbound segments that could not be decoded",
	})

	AdmissionRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_admission_rejected_total",
		Help: "Connections refused because the server was at capacity",
	})

	DeliveryFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_delivery_failures_total",
		Help: "Broadcast deliveries that could not be queued for a recipient",
	})
)

func init() {
	prometheus.MustRegister(ConnectedSessions)
	prometheus.MustRegister(AuthenticatedSessions)
	prometheus.MustRegister(MessagesTotal)
	prometheus.MustRegister(EventProcessingDuration)
	prometheus.MustRegister(FramesTotal)
	prometheus.MustRegister(MalformedEnvelopes)
	prometheus.MustRegister(AdmissionRejected)
	prometheus.MustRegister(DeliveryFailures)
}
