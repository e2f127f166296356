package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/luno/jettison/errors"
	"k8s.io/utils/clock"

	"github.com/Dipanshu-verma/profilesync"
)

// Saga is the part of the Orchestrator the handlers need.
type Saga interface {
	Start(ctx context.Context, req profilesync.ProfileUpdateRequest) (*profilesync.StatusReport, error)
	GetStatus(ctx context.Context, runID string) (*profilesync.StatusReport, error)
	Await(ctx context.Context, runID string) (*profilesync.StatusReport, error)
}

type UpdateResponse struct {
	Message    string                        `json:"message"`
	User       *profilesync.PersistedProfile `json:"user"`
	SyncResult *profilesync.SyncRecord       `json:"syncResult"`
}

type FailureResponse struct {
	Message string                    `json:"message"`
	Report  *profilesync.StatusReport `json:"run"`
}

// Update starts a profile update for a known subject. Fields left empty in the body keep their stored value. The run
// is reported as accepted unless the request asks to wait for it with ?wait=true.
func Update(store profilesync.ProfileStore, saga Saga, clk clock.Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email := r.PathValue("email")

		existing, err := store.Lookup(r.Context(), email)
		if errors.Is(err, profilesync.ErrNotFound) {
			writeMessage(w, http.StatusNotFound, "profile not found")
			return
		} else if err != nil {
			writeMessage(w, http.StatusInternalServerError, "failed to lookup profile")
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "cannot read body")
			return
		}

		var fields profilesync.ProfileFields
		err = json.Unmarshal(body, &fields)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "cannot unmarshal body")
			return
		}

		report, err := saga.Start(r.Context(), profilesync.ProfileUpdateRequest{
			SubjectID:   email,
			Fields:      fields.Merge(existing.ProfileFields),
			RequestedAt: clk.Now(),
		})
		if errors.Is(err, profilesync.ErrValidation) {
			writeMessage(w, http.StatusBadRequest, err.Error())
			return
		} else if err != nil {
			writeMessage(w, http.StatusInternalServerError, "failed to start profile update")
			return
		}

		if r.URL.Query().Get("wait") != "true" {
			writeJSON(w, http.StatusAccepted, report)
			return
		}

		report, err = saga.Await(r.Context(), report.RunID)
		if err != nil {
			writeMessage(w, http.StatusGatewayTimeout, "stopped waiting for profile update")
			return
		}

		if report.Status == profilesync.StatusFailed {
			writeJSON(w, failureStatus(report.LastError), FailureResponse{
				Message: "profile update failed",
				Report:  report,
			})
			return
		}

		resp := UpdateResponse{Message: "profile updated and synced"}
		if report.Result != nil {
			resp.User = &report.Result.Profile
			resp.SyncResult = &report.Result.Sync
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func failureStatus(e *profilesync.RunError) int {
	if e == nil {
		return http.StatusInternalServerError
	}

	switch e.Kind {
	case profilesync.KindValidation:
		return http.StatusBadRequest
	case profilesync.KindNotFound:
		return http.StatusNotFound
	case profilesync.KindNonSuccessStatus, profilesync.KindTransientNetwork:
		return http.StatusBadGateway
	case profilesync.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func RunStatus(saga Saga) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := saga.GetStatus(r.Context(), r.PathValue("id"))
		if errors.Is(err, profilesync.ErrRunNotFound) {
			writeMessage(w, http.StatusNotFound, "run not found")
			return
		} else if err != nil {
			writeMessage(w, http.StatusInternalServerError, "failed to lookup run")
			return
		}

		writeJSON(w, http.StatusOK, report)
	}
}
