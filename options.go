package profilesync

import (
	"time"

	"k8s.io/utils/clock"
)

const (
	defaultSyncDelay          = 10 * time.Second
	defaultActivityTimeout    = time.Minute
	defaultLeaseGrace         = 5 * time.Second
	defaultPollingFrequency   = 500 * time.Millisecond
	defaultErrBackOff         = 1 * time.Second
	defaultRecoverySchedule   = "@every 30s"
	defaultMaxConflictRetries = 10
	defaultConcurrency        = 10
)

// RetryPolicy bounds the attempts of an activity. The wait before attempt n+1 is
// min(BaseBackOff * 2^(n-1), MaxBackOff).
type RetryPolicy struct {
	MaxAttempts int
	BaseBackOff time.Duration
	MaxBackOff  time.Duration
}

func defaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseBackOff: time.Second,
		MaxBackOff:  30 * time.Second,
	}
}

type options struct {
	clock     clock.Clock
	logger    Logger
	debugMode bool
	scheduler RoleScheduler

	syncDelay          time.Duration
	retry              map[Activity]RetryPolicy
	activityTimeout    time.Duration
	leaseGrace         time.Duration
	pollingFrequency   time.Duration
	errBackOff         time.Duration
	recoverySchedule   string
	maxConflictRetries int
}

func defaultOptions() options {
	return options{
		clock:     clock.RealClock{},
		scheduler: localScheduler{},
		syncDelay: defaultSyncDelay,
		retry: map[Activity]RetryPolicy{
			ActivityPersistProfile: defaultRetryPolicy(),
			ActivitySyncExternal:   defaultRetryPolicy(),
		},
		activityTimeout:    defaultActivityTimeout,
		leaseGrace:         defaultLeaseGrace,
		pollingFrequency:   defaultPollingFrequency,
		errBackOff:         defaultErrBackOff,
		recoverySchedule:   defaultRecoverySchedule,
		maxConflictRetries: defaultMaxConflictRetries,
	}
}

type Option func(o *options)

func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithLogger replaces the default JSON logger that writes to stdout.
func WithLogger(l Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func WithDebugMode() Option {
	return func(o *options) {
		o.debugMode = true
	}
}

// WithRoleScheduler is required when more than one Orchestrator shares a RunStore.
func WithRoleScheduler(rs RoleScheduler) Option {
	return func(o *options) {
		o.scheduler = rs
	}
}

// WithDelay sets the minimum time between a profile being persisted and the sync attempt being dispatched.
func WithDelay(d time.Duration) Option {
	return func(o *options) {
		o.syncDelay = d
	}
}

func WithPersistRetryPolicy(p RetryPolicy) Option {
	return func(o *options) {
		o.retry[ActivityPersistProfile] = p
	}
}

func WithSyncRetryPolicy(p RetryPolicy) Option {
	return func(o *options) {
		o.retry[ActivitySyncExternal] = p
	}
}

// WithActivityTimeout sets how long a single attempt may run before it is treated as a TimeoutError. Workers should
// be configured with the same value.
func WithActivityTimeout(d time.Duration) Option {
	return func(o *options) {
		o.activityTimeout = d
	}
}

// WithLeaseGrace is added to the activity timeout to form the lease of a dispatched invocation. An invocation whose
// lease expires without a report is dispatched again.
func WithLeaseGrace(d time.Duration) Option {
	return func(o *options) {
		o.leaseGrace = d
	}
}

// WithPollingFrequency defines how often the Orchestrator looks for runs whose WakeAt has passed.
func WithPollingFrequency(d time.Duration) Option {
	return func(o *options) {
		o.pollingFrequency = d
	}
}

func WithErrBackOff(d time.Duration) Option {
	return func(o *options) {
		o.errBackOff = d
	}
}

// WithRecoverySchedule takes a cron spec that controls how often every incomplete run is resumed.
func WithRecoverySchedule(spec string) Option {
	return func(o *options) {
		o.recoverySchedule = spec
	}
}

type workerOptions struct {
	clock           clock.Clock
	logger          Logger
	debugMode       bool
	id              string
	concurrency     int
	errBackOff      time.Duration
	activityTimeout time.Duration
	lagAlert        time.Duration
}

func defaultWorkerOptions() workerOptions {
	return workerOptions{
		clock:           clock.RealClock{},
		concurrency:     defaultConcurrency,
		errBackOff:      defaultErrBackOff,
		activityTimeout: defaultActivityTimeout,
	}
}

type WorkerOption func(o *workerOptions)

func WithWorkerClock(c clock.Clock) WorkerOption {
	return func(o *workerOptions) {
		o.clock = c
	}
}

func WithWorkerLogger(l Logger) WorkerOption {
	return func(o *workerOptions) {
		o.logger = l
	}
}

func WithWorkerDebugMode() WorkerOption {
	return func(o *workerOptions) {
		o.debugMode = true
	}
}

// WithWorkerID sets the name the worker claims leases under. A random ID is used when not set.
func WithWorkerID(id string) WorkerOption {
	return func(o *workerOptions) {
		o.id = id
	}
}

// WithConcurrency bounds the number of activities a worker executes at the same time.
func WithConcurrency(n int) WorkerOption {
	return func(o *workerOptions) {
		o.concurrency = n
	}
}

func WithWorkerErrBackOff(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		o.errBackOff = d
	}
}

func WithWorkerActivityTimeout(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		o.activityTimeout = d
	}
}

// WithWorkerLagAlert raises the task lag alert metric whenever a task waited on the queue for longer than d.
func WithWorkerLagAlert(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		o.lagAlert = d
	}
}
