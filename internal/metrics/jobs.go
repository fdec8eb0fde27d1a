package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BackupJobsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backup_jobs_started_total",
		Help: "Backup jobs that entered the running state",
	})

	BackupJobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backup_jobs_finished_total",
		Help: "Backup jobs that reached a terminal state",
	}, []string{"status"})

	BackupJobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backup_jobs_running",
		Help: "Backup jobs currently holding a worker slot",
	})

	BackupFetchRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backup_fetch_retries_total",
		Help: "Page fetches retried after a transient upstream error",
	}, []string{"module"})

	BackupArchiveBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "backup_archive_bytes",
		Help:    "Size of committed backup archives",
		Buckets: prometheus.ExponentialBuckets(64*1024, 4, 10),
	})
)
