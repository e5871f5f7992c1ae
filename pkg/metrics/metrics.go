package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectedClients is the current number of joined push connections.
	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "driftchat",
		Name:      "connected_clients",
		Help:      "Number of currently joined WebSocket clients.",
	})

	// MessagesRelayed counts messages accepted by either transport, by kind.
	MessagesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "driftchat",
		Name:      "messages_relayed_total",
		Help:      "Messages relayed or written, labeled by kind.",
	}, []string{"kind"})

	// BroadcastErrors counts per-socket send failures during fan-out.
	BroadcastErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "driftchat",
		Name:      "broadcast_errors_total",
		Help:      "Per-socket send failures during broadcast fan-out.",
	})

	// PullSyncErrors counts recovered errors in pull sync loops.
	PullSyncErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "driftchat",
		Name:      "pull_sync_errors_total",
		Help:      "Recovered errors in pull-transport sync loops.",
	})

	// HeartbeatsWritten counts heartbeat upserts.
	HeartbeatsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "driftchat",
		Name:      "heartbeats_written_total",
		Help:      "Heartbeat records written by pull clients.",
	})

	// SweepDeleted counts entries removed by retention sweeps.
	SweepDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "driftchat",
		Name:      "sweep_deleted_total",
		Help:      "Entries deleted by retention sweeps.",
	})

	// SweepErrors counts retention runs that reported an error.
	SweepErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "driftchat",
		Name:      "sweep_errors_total",
		Help:      "Retention sweep runs that reported an error.",
	})
)
