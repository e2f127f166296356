package profilesync

import (
	"time"

	"k8s.io/utils/clock"

	"github.com/Dipanshu-verma/profilesync/internal/metrics"
)

// pushTaskLag records how long a task waited on the queue before a worker received it. If the lag is greater than
// lagAlert then the alert gauge for the activity on this worker is set to 1.
//
// See internal/metrics/metrics.go for the prometheus metrics configured.
func pushTaskLag(workerID string, a Activity, enqueuedAt time.Time, lagAlert time.Duration, clk clock.Clock) {
	if enqueuedAt.IsZero() {
		return
	}

	lag := clk.Now().Sub(enqueuedAt)
	metrics.TaskLag.WithLabelValues(string(a), workerID).Set(lag.Seconds())

	if lagAlert > 0 {
		alert := 0.0
		if lag > lagAlert {
			alert = 1
		}

		metrics.TaskLagAlert.WithLabelValues(string(a), workerID).Set(alert)
	}
}
