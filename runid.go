package profilesync

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

var runNamespace = uuid.MustParse("8f0c3d2e-5b7a-4f61-9c2d-1e4a7b3f6d58")

// RunID derives the run ID from the subject and the time the update was requested so that retried submissions of the
// same request resolve to the same run.
func RunID(subjectID string, requestedAt time.Time) string {
	key := subjectID + "|" + strconv.FormatInt(requestedAt.UnixNano(), 10)
	return uuid.NewSHA1(runNamespace, []byte(key)).String()
}

func newInvocationID() string {
	return uuid.NewString()
}
