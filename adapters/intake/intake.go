// Package intake exposes profile reads and profile updates over HTTP. Updates are handed to the Orchestrator.
package intake

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/utils/clock"

	"github.com/Dipanshu-verma/profilesync"
	"github.com/Dipanshu-verma/profilesync/adapters/intake/internal/api"
)

type (
	Saga            = api.Saga
	LoginRequest    = api.LoginRequest
	LoginResponse   = api.LoginResponse
	UpdateResponse  = api.UpdateResponse
	FailureResponse = api.FailureResponse
)

type options struct {
	clock clock.Clock
}

type Option func(o *options)

// WithClock sets the clock used to stamp the RequestedAt of new update requests.
func WithClock(clock clock.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// NewHandler routes:
//
//	GET  /users
//	GET  /users/{email}
//	POST /users/login
//	PUT  /users/{email}[?wait=true]
//	GET  /runs/{id}
//	GET  /healthz
//	GET  /metrics
func NewHandler(store profilesync.ProfileStore, saga Saga, opts ...Option) http.Handler {
	o := options{
		clock: clock.RealClock{},
	}

	for _, opt := range opts {
		opt(&o)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /users", api.List(store.List))
	mux.HandleFunc("GET /users/{email}", api.Get(store.Lookup))
	mux.HandleFunc("POST /users/login", api.Login(store))
	mux.HandleFunc("PUT /users/{email}", api.Update(store, saga, o.clock))
	mux.HandleFunc("GET /runs/{id}", api.RunStatus(saga))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"ok"}`))
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}
