package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	processName = "process_name"
	activity    = "activity"
	worker      = "worker"
	outcome     = "outcome"
	fromStatus  = "from_status"
	toStatus    = "to_status"
)

var (
	// RunsStarted is the number of runs created. Idempotent restarts of an existing run are not counted.
	RunsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "profilesync_runs_started_total",
		Help: "Number of runs created",
	})

	// RunTransitions counts every status change that was acknowledged by the run store
	RunTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "profilesync_run_transitions_total",
		Help: "Number of run status transitions",
	}, []string{fromStatus, toStatus})

	// RunsDelayed is the number of runs waiting for their sync delay to elapse as of the last recovery sweep
	RunsDelayed = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "profilesync_runs_delayed",
		Help: "Runs awaiting their sync delay as of the last sweep",
	})

	// ActivityAttempts is the number of reported activity attempts by outcome kind
	ActivityAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "profilesync_activity_attempts_total",
		Help: "Number of activity attempts reported by outcome",
	}, []string{activity, outcome})

	// ActivityLatency is how long a single activity attempt took to execute
	ActivityLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "profilesync_activity_latency_seconds",
		Help:    "Activity attempt latency in seconds",
		Buckets: []float64{0.01, 0.1, 1, 5, 10, 60, 300},
	}, []string{activity})

	// ConflictRetries is the number of transitions that were reapplied after a stale write
	ConflictRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "profilesync_conflict_retries_total",
		Help: "Number of transitions reapplied after a version conflict",
	})

	// LeaseExpiries is the number of invocations whose lease expired without a report
	LeaseExpiries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "profilesync_lease_expiries_total",
		Help: "Number of invocations redispatched after lease expiry",
	}, []string{activity})

	// TaskLag is the time between a task being enqueued and a worker receiving it
	TaskLag = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "profilesync_task_lag_seconds",
		Help: "Lag between a task being enqueued and received in seconds",
	}, []string{activity, worker})

	// TaskLagAlert is 1 while the last received task of the activity waited longer than the worker's lag alert
	TaskLagAlert = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "profilesync_task_lag_alert",
		Help: "Whether or not the worker is lagging behind the task queue",
	}, []string{activity, worker})

	// ProcessStates reflects the states of all the background processes of the instance
	ProcessStates = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "profilesync_process_states",
		Help: "The current states of all the processes",
	}, []string{processName})

	// ProcessErrors is the number of errors returned by background processes
	ProcessErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "profilesync_process_error_count",
		Help: "Number of errors returned by background processes",
	}, []string{processName})
)

func init() {
	prometheus.MustRegister(
		RunsStarted,
		RunTransitions,
		RunsDelayed,
		ActivityAttempts,
		ActivityLatency,
		ConflictRetries,
		LeaseExpiries,
		TaskLag,
		TaskLagAlert,
		ProcessStates,
		ProcessErrors,
	)
}

func Reset() {
	RunTransitions.Reset()
	RunsDelayed.Set(0)
	ActivityAttempts.Reset()
	ActivityLatency.Reset()
	LeaseExpiries.Reset()
	TaskLag.Reset()
	TaskLagAlert.Reset()
	ProcessStates.Reset()
	ProcessErrors.Reset()
}
