package intake_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/Dipanshu-verma/profilesync"
	"github.com/Dipanshu-verma/profilesync/adapters/intake"
	"github.com/Dipanshu-verma/profilesync/adapters/memprofilestore"
	"github.com/Dipanshu-verma/profilesync/adapters/memqueue"
	"github.com/Dipanshu-verma/profilesync/adapters/memrunstore"
)

var now = time.Date(2024, time.April, 19, 9, 30, 0, 0, time.UTC)

type stubSync struct {
	mu  sync.Mutex
	err error
}

func (s *stubSync) Sync(ctx context.Context, req profilesync.SyncRequest) (*profilesync.SyncRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}

	return &profilesync.SyncRecord{StatusCode: 201, Response: []byte(`{"_id":"1"}`), Attempt: req.Attempt, SyncedAt: now}, nil
}

type server struct {
	url      string
	clock    *clocktesting.FakeClock
	profiles *memprofilestore.Store
	saga     *profilesync.Orchestrator
}

func newServer(t *testing.T, sync profilesync.SyncClient, opts ...profilesync.Option) *server {
	clock := clocktesting.NewFakeClock(now)
	runs := memrunstore.New(memrunstore.WithClock(clock))
	profiles := memprofilestore.New(memprofilestore.WithClock(clock))
	queue := memqueue.New(memqueue.WithClock(clock))

	defaults := []profilesync.Option{
		profilesync.WithClock(clock),
		profilesync.WithLogger(profilesync.NewJSONLogger(io.Discard)),
		profilesync.WithPollingFrequency(5 * time.Millisecond),
	}
	o := profilesync.New(runs, queue, append(defaults, opts...)...)
	w := profilesync.NewProfileWorker(queue, o, profiles, sync,
		profilesync.WithWorkerClock(clock),
		profilesync.WithWorkerLogger(profilesync.NewJSONLogger(io.Discard)),
	)

	ctx := context.Background()
	o.Run(ctx)
	w.Run(ctx)

	ts := httptest.NewServer(intake.NewHandler(profiles, o, intake.WithClock(clock)))
	t.Cleanup(func() {
		ts.Close()
		w.Stop()
		o.Stop()
	})

	return &server{url: ts.URL, clock: clock, profiles: profiles, saga: o}
}

func do(t *testing.T, method, url, body string) (int, []byte) {
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	jtest.RequireNil(t, err)

	resp, err := http.DefaultClient.Do(req)
	jtest.RequireNil(t, err)
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	jtest.RequireNil(t, err)

	return resp.StatusCode, b
}

func TestLoginAndRead(t *testing.T) {
	s := newServer(t, &stubSync{})

	code, _ := do(t, http.MethodGet, s.url+"/users/ada@example.com", "")
	require.Equal(t, http.StatusNotFound, code)

	code, body := do(t, http.MethodPost, s.url+"/users/login", `{"email":"ada@example.com","firstName":"Ada","lastName":"Lovelace"}`)
	require.Equal(t, http.StatusCreated, code)

	var created intake.LoginResponse
	jtest.RequireNil(t, json.Unmarshal(body, &created))
	require.Equal(t, "ada@example.com", created.User.SubjectID)

	code, _ = do(t, http.MethodPost, s.url+"/users/login", `{"email":"ada@example.com"}`)
	require.Equal(t, http.StatusOK, code)

	code, _ = do(t, http.MethodPost, s.url+"/users/login", `{"email":"not-an-email","firstName":"A","lastName":"B"}`)
	require.Equal(t, http.StatusBadRequest, code)

	code, body = do(t, http.MethodGet, s.url+"/users/ada@example.com", "")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, string(body), `"firstName":"Ada"`)

	code, body = do(t, http.MethodGet, s.url+"/users", "")
	require.Equal(t, http.StatusOK, code)

	var list []profilesync.PersistedProfile
	jtest.RequireNil(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)

	code, _ = do(t, http.MethodGet, s.url+"/healthz", "")
	require.Equal(t, http.StatusOK, code)
}

func TestUpdateIsAccepted(t *testing.T) {
	s := newServer(t, &stubSync{})
	_, err := s.profiles.Create(context.Background(), "ada@example.com", profilesync.ProfileFields{
		FirstName: "Ada",
		LastName:  "Lovelace",
		City:      "London",
	})
	jtest.RequireNil(t, err)

	code, _ := do(t, http.MethodPut, s.url+"/users/nobody@example.com", `{"city":"Paris"}`)
	require.Equal(t, http.StatusNotFound, code)

	code, body := do(t, http.MethodPut, s.url+"/users/ada@example.com", `{"city":"Paris"}`)
	require.Equal(t, http.StatusAccepted, code)

	var accepted struct {
		RunID  string `json:"runId"`
		Status string `json:"status"`
	}
	jtest.RequireNil(t, json.Unmarshal(body, &accepted))
	require.Equal(t, profilesync.RunID("ada@example.com", now), accepted.RunID)

	profilesync.Require(t, s.saga, accepted.RunID, profilesync.StatusAwaitingSync)
	s.clock.Step(10 * time.Second)
	profilesync.Require(t, s.saga, accepted.RunID, profilesync.StatusCompleted)

	code, body = do(t, http.MethodGet, s.url+"/runs/"+accepted.RunID, "")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, string(body), `"status":"Completed"`)

	// Empty fields in the body kept their stored values.
	p, err := s.profiles.Lookup(context.Background(), "ada@example.com")
	jtest.RequireNil(t, err)
	require.Equal(t, profilesync.ProfileFields{FirstName: "Ada", LastName: "Lovelace", City: "Paris"}, p.ProfileFields)

	code, _ = do(t, http.MethodGet, s.url+"/runs/unknown", "")
	require.Equal(t, http.StatusNotFound, code)
}

func TestUpdateAndWait(t *testing.T) {
	testCases := []struct {
		name         string
		syncErr      error
		expectedCode int
	}{
		{
			name:         "Completed",
			expectedCode: http.StatusOK,
		},
		{
			name:         "Sync misconfigured",
			syncErr:      errors.Wrap(profilesync.ErrConfiguration, "missing api key"),
			expectedCode: http.StatusInternalServerError,
		},
		{
			name:         "Sync rejected",
			syncErr:      errors.Wrap(profilesync.ErrValidation, "rejected"),
			expectedCode: http.StatusBadRequest,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := newServer(t, &stubSync{err: tc.syncErr}, profilesync.WithDelay(0))
			_, err := s.profiles.Create(context.Background(), "ada@example.com", profilesync.ProfileFields{
				FirstName: "Ada",
				LastName:  "Lovelace",
			})
			jtest.RequireNil(t, err)

			code, body := do(t, http.MethodPut, s.url+"/users/ada@example.com?wait=true", `{"pincode":"N1"}`)
			require.Equal(t, tc.expectedCode, code)

			if tc.syncErr != nil {
				var failure struct {
					Run struct {
						Status string `json:"status"`
					} `json:"run"`
				}
				jtest.RequireNil(t, json.Unmarshal(body, &failure))
				require.Equal(t, "Failed", failure.Run.Status)
				return
			}

			var resp intake.UpdateResponse
			jtest.RequireNil(t, json.Unmarshal(body, &resp))
			require.Equal(t, "N1", resp.User.Pincode)
			require.Equal(t, 201, resp.SyncResult.StatusCode)
		})
	}
}
