package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters and gauges surfaced at /metrics. Names are stable; renaming
// one breaks downstream dashboards.
var (
	NormalizeDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autosync_normalize_dropped_total",
		Help: "Raw messages dropped during normalization.",
	})

	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autosync_upstream_requests_total",
		Help: "Upstream API requests by operation and outcome.",
	}, []string{"op", "outcome"})

	LocalFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autosync_local_fallback_total",
		Help: "Loads that degraded to the local cache.",
	})

	BridgeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autosync_bridge_events_total",
		Help: "Real-time events received by event name.",
	}, []string{"event"})

	BridgeReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autosync_bridge_reconnects_total",
		Help: "Real-time connection attempts after the first.",
	})

	BridgeRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autosync_bridge_rejected_total",
		Help: "Inbound frames rejected by payload validation.",
	})

	OutboxDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "autosync_outbox_depth",
		Help: "Messages currently waiting for redelivery.",
	})

	OutboxRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autosync_outbox_retries_total",
		Help: "Redelivery attempts for pending messages.",
	})

	OutboxDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autosync_outbox_delivered_total",
		Help: "Pending messages confirmed by the upstream.",
	})

	OutboxExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autosync_outbox_exhausted_total",
		Help: "Pending messages that ran out of attempts.",
	})

	RefreshRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autosync_refresh_runs_total",
		Help: "Scheduled refresh cycles executed.",
	})

	SendFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autosync_send_fallback_total",
		Help: "Sends appended locally as pending after an upstream failure.",
	})

	Conversations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "autosync_conversations",
		Help: "Conversations currently held in memory.",
	})

	KnownUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "autosync_known_users",
		Help: "Entries in the known-user directory.",
	})
)
