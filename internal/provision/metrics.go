package provision

import "github.com/prometheus/client_golang/prometheus"

var (
	provisionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "proxmox_sandbox",
			Subsystem: "provision",
			Name:      "create_duration_seconds",
			Help:      "Wall time of environment creation by outcome",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17m
		},
		[]string{"outcome"},
	)

	destroyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "proxmox_sandbox",
			Subsystem: "provision",
			Name:      "destroy_duration_seconds",
			Help:      "Wall time of environment teardown by outcome",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"outcome"},
	)

	vmsProvisioned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "proxmox_sandbox",
			Subsystem: "provision",
			Name:      "vms_total",
			Help:      "Total number of guests created",
		},
	)

	orphansSwept = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "proxmox_sandbox",
			Subsystem: "cleanup",
			Name:      "orphans_swept_total",
			Help:      "Orphaned objects removed by sweeps, by kind",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		provisionDuration,
		destroyDuration,
		vmsProvisioned,
		orphansSwept,
	)
}
