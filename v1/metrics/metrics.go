package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// LockAcquired tracks successful lock acquisitions.
	LockAcquired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "keyspace_lock_acquired_total",
		Help: "Total number of successful lock acquisitions",
	})
	// LockBusyRetries tracks acquire attempts that found the lock held.
	LockBusyRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "keyspace_lock_busy_retries_total",
		Help: "Total number of busy observations during lock acquisition",
	})
	// LockDeadlocks tracks acquisitions aborted by cycle detection.
	LockDeadlocks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "keyspace_lock_deadlocks_total",
		Help: "Total number of acquisitions aborted by deadlock detection",
	})
	// LockLeaseExpired tracks lease timers firing before an explicit release.
	LockLeaseExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "keyspace_lock_lease_expired_total",
		Help: "Total number of locks force-released by lease expiry",
	})
	// ScriptFallbacks tracks cached-script misses answered by resending source.
	ScriptFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "keyspace_script_fallbacks_total",
		Help: "Total number of script executions that fell back to full source",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Register registers keyspace metrics on the provided registry.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(LockAcquired, LockBusyRetries, LockDeadlocks, LockLeaseExpired, ScriptFallbacks)
}
