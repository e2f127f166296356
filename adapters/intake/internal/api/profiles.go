package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/luno/jettison/errors"

	"github.com/Dipanshu-verma/profilesync"
)

type ListFn func(ctx context.Context) ([]profilesync.PersistedProfile, error)

func List(list ListFn) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profiles, err := list(r.Context())
		if err != nil {
			writeMessage(w, http.StatusInternalServerError, "failed to list profiles")
			return
		}

		if profiles == nil {
			profiles = []profilesync.PersistedProfile{}
		}

		writeJSON(w, http.StatusOK, profiles)
	}
}

type LookupFn func(ctx context.Context, subjectID string) (*profilesync.PersistedProfile, error)

func Get(lookup LookupFn) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := lookup(r.Context(), r.PathValue("email"))
		if errors.Is(err, profilesync.ErrNotFound) {
			writeMessage(w, http.StatusNotFound, "profile not found")
			return
		} else if err != nil {
			writeMessage(w, http.StatusInternalServerError, "failed to lookup profile")
			return
		}

		writeJSON(w, http.StatusOK, p)
	}
}

type LoginRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type LoginResponse struct {
	Message string                        `json:"message"`
	User    *profilesync.PersistedProfile `json:"user"`
}

// Login returns the profile of a known subject and creates one for a new subject.
func Login(store profilesync.ProfileStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "cannot read body")
			return
		}

		var req LoginRequest
		err = json.Unmarshal(body, &req)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "cannot unmarshal body")
			return
		}

		p, err := store.Lookup(r.Context(), req.Email)
		if err == nil {
			writeJSON(w, http.StatusOK, LoginResponse{Message: "logged in", User: p})
			return
		} else if !errors.Is(err, profilesync.ErrNotFound) {
			writeMessage(w, http.StatusInternalServerError, "failed to lookup profile")
			return
		}

		p, err = store.Create(r.Context(), req.Email, profilesync.ProfileFields{
			FirstName: req.FirstName,
			LastName:  req.LastName,
		})
		if errors.Is(err, profilesync.ErrValidation) {
			writeMessage(w, http.StatusBadRequest, err.Error())
			return
		} else if errors.Is(err, profilesync.ErrProfileExists) {
			// A concurrent login created it first.
			p, err = store.Lookup(r.Context(), req.Email)
			if err != nil {
				writeMessage(w, http.StatusInternalServerError, "failed to lookup profile")
				return
			}

			writeJSON(w, http.StatusOK, LoginResponse{Message: "logged in", User: p})
			return
		} else if err != nil {
			writeMessage(w, http.StatusInternalServerError, "failed to create profile")
			return
		}

		writeJSON(w, http.StatusCreated, LoginResponse{Message: "profile created", User: p})
	}
}
