package httpsync_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/Dipanshu-verma/profilesync"
	"github.com/Dipanshu-verma/profilesync/adapters/httpsync"
)

var syncedAt = time.Date(2024, time.April, 19, 9, 30, 10, 0, time.UTC)

func syncRequest() profilesync.SyncRequest {
	return profilesync.SyncRequest{
		RunID:   "run-1",
		Attempt: 2,
		Profile: profilesync.PersistedProfile{
			SubjectID: "ada@example.com",
			ProfileFields: profilesync.ProfileFields{
				FirstName:   "Ada",
				LastName:    "Lovelace",
				PhoneNumber: "555-0100",
				City:        "London",
				Pincode:     "N1",
			},
		},
	}
}

func newClient(t *testing.T, url string) *httpsync.Client {
	c, err := httpsync.New(httpsync.Config{BaseURL: url, APIKey: "secret-key"},
		httpsync.WithClock(clocktesting.NewFakeClock(syncedAt)))
	jtest.RequireNil(t, err)
	return c
}

func TestSync(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/secret-key/users", r.URL.Path)
		assert.Equal(t, "run-1", r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		b, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.JSONEq(t, `{
			"email": "ada@example.com",
			"firstName": "Ada",
			"lastName": "Lovelace",
			"phoneNumber": "555-0100",
			"city": "London",
			"pincode": "N1",
			"updatedAt": "2024-04-19T09:30:10Z"
		}`, string(b))

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"_id":"abc123"}`))
	}))
	t.Cleanup(ts.Close)

	rec, err := newClient(t, ts.URL).Sync(context.Background(), syncRequest())
	jtest.RequireNil(t, err)
	require.Equal(t, http.StatusCreated, rec.StatusCode)
	require.Equal(t, 2, rec.Attempt)
	require.True(t, syncedAt.Equal(rec.SyncedAt))
	require.JSONEq(t, `{"_id":"abc123"}`, string(rec.Response))
}

func TestSyncErrors(t *testing.T) {
	testCases := []struct {
		name     string
		handler  http.HandlerFunc
		timeout  time.Duration
		expected error
	}{
		{
			name: "Non 2xx status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			expected: profilesync.ErrNonSuccessStatus,
		},
		{
			name: "Client error status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
			},
			expected: profilesync.ErrNonSuccessStatus,
		},
		{
			name: "Slow endpoint",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(5 * time.Second):
				}
			},
			timeout:  50 * time.Millisecond,
			expected: profilesync.ErrTimeout,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ts := httptest.NewServer(tc.handler)
			t.Cleanup(ts.Close)

			ctx := context.Background()
			if tc.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, tc.timeout)
				t.Cleanup(cancel)
			}

			_, err := newClient(t, ts.URL).Sync(ctx, syncRequest())
			jtest.Require(t, tc.expected, err)
		})
	}
}

func TestSyncUnreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	_, err := newClient(t, url).Sync(context.Background(), syncRequest())
	jtest.Require(t, profilesync.ErrTransientNetwork, err)
	require.Equal(t, profilesync.KindTransientNetwork, profilesync.Classify(err))
	require.NotContains(t, err.Error(), "secret-key")
}

func TestSyncPlainTextResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	t.Cleanup(ts.Close)

	rec, err := newClient(t, ts.URL).Sync(context.Background(), syncRequest())
	jtest.RequireNil(t, err)

	var s string
	err = json.Unmarshal(rec.Response, &s)
	jtest.RequireNil(t, err)
	require.Equal(t, "ok", s)
}

func TestNew(t *testing.T) {
	_, err := httpsync.New(httpsync.Config{})
	jtest.Require(t, profilesync.ErrConfiguration, err)
	require.Equal(t, profilesync.KindConfiguration, profilesync.Classify(err))

	_, err = httpsync.New(httpsync.Config{APIKey: "key", BaseURL: "crudcrud.com/api"})
	jtest.Require(t, profilesync.ErrConfiguration, err)

	_, err = httpsync.New(httpsync.Config{APIKey: "key"})
	jtest.RequireNil(t, err)
}
