package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Agent counters, served on /metrics.
var (
	ScansAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classtrack_scans_accepted_total",
		Help: "Scans that passed the deduplication gate.",
	})
	ScansDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classtrack_scans_deduplicated_total",
		Help: "Scans suppressed as decoder re-fires.",
	})
	ScansUnparseable = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classtrack_scans_unparseable_total",
		Help: "Scans dropped because the payload carried no identity.",
	})
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classtrack_transitions_total",
		Help: "State machine outcomes by kind.",
	}, []string{"kind"})
	EventsSynced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classtrack_events_synced_total",
		Help: "Attendance events acknowledged by the remote server.",
	})
	SyncFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classtrack_sync_failures_total",
		Help: "Reconciliation passes that ended without acknowledgment.",
	})
)
