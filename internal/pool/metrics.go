package pool

import "github.com/prometheus/client_golang/prometheus"

var (
	poolCapacity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "proxmox_sandbox",
			Subsystem: "pool",
			Name:      "capacity",
			Help:      "Number of hosts registered in the pool",
		},
		[]string{"pool"},
	)

	checkedOut = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "proxmox_sandbox",
			Subsystem: "pool",
			Name:      "checked_out",
			Help:      "Number of hosts currently checked out of the pool",
		},
		[]string{"pool"},
	)

	acquireWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "proxmox_sandbox",
			Subsystem: "pool",
			Name:      "acquire_wait_seconds",
			Help:      "Time spent waiting for a free host",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10), // 10ms to ~45m
		},
		[]string{"pool"},
	)
)

func init() {
	prometheus.MustRegister(
		poolCapacity,
		checkedOut,
		acquireWaitSeconds,
	)
}
