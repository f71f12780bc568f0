package backup

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	snapshotsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nbclient_backup_snapshots_total",
		Help: "Total number of notebook snapshots written to the backup store",
	})

	snapshotsDeduped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nbclient_backup_snapshots_deduped_total",
		Help: "Snapshots skipped because they equaled the latest backup",
	})

	updatesRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nbclient_backup_updates_total",
		Help: "Incremental edit records appended to backups",
	})

	evictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nbclient_backup_evictions_total",
		Help: "Backups evicted by retention, by scope",
	}, []string{"scope"})
)
