package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/NeilG112/LocalLoop/apperr"
	"github.com/NeilG112/LocalLoop/discovery"
	"github.com/NeilG112/LocalLoop/geo"
	"github.com/NeilG112/LocalLoop/store"
)

// publicProfile is what other users see. Exact coordinates and the
// blocked set stay private; the viewer gets a distance instead.
type publicProfile struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	Role             store.Role       `json:"role"`
	Age              int              `json:"age"`
	Gender           store.Gender     `json:"gender"`
	Bio              string           `json:"bio"`
	LanguagesSpoken  []store.Language `json:"languages_spoken"`
	LanguagesToLearn []store.Language `json:"languages_to_learn,omitempty"`
	Interests        []string         `json:"interests"`
	Photos           []string         `json:"photos"`
	Country          string           `json:"country"`
	City             string           `json:"city"`
	DurationOfStay   string           `json:"duration_of_stay,omitempty"`
	DistanceKm       *float64         `json:"distance_km,omitempty"`
	Distance         string           `json:"distance,omitempty"`
}

func newPublicProfile(p *store.Profile, viewer *store.Profile) publicProfile {
	out := publicProfile{
		ID:               p.ID,
		Name:             p.Name,
		Role:             p.Role,
		Age:              p.Age,
		Gender:           p.Gender,
		Bio:              p.Bio,
		LanguagesSpoken:  p.LanguagesSpoken,
		LanguagesToLearn: p.LanguagesToLearn,
		Interests:        p.Interests,
		Photos:           p.Photos,
		Country:          p.Location.Country,
		City:             p.Location.City,
		DurationOfStay:   p.DurationOfStay,
	}
	if viewer != nil {
		if km, ok := discovery.Distance(viewer, p); ok {
			out.DistanceKm = &km
			out.Distance = geo.FormatDistance(km)
		}
	}
	return out
}

// GET /me
func meHandler(a *app) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		p, err := a.store.GetProfile(r.Context(), currentUserID(r))
		if apperr.IsCode(err, apperr.CodeNotFound) {
			writeError(w, http.StatusNotFound, "incomplete_profile")
			return
		} else if err != nil {
			writeAppError(w, a.log, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	})
}

// PUT /me/profile creates the profile at signup completion and replaces
// it afterwards. The blocked set is managed through /me/blocks.
func putProfileHandler(a *app) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		var p store.Profile
		if err := decodeJSON(w, r, &p); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		p.ID = currentUserID(r)
		p.BlockedUsers = nil

		saved, err := a.store.PutProfile(r.Context(), p)
		if err != nil {
			writeAppError(w, a.log, err)
			return
		}
		writeJSON(w, http.StatusOK, saved)
	})
}

// GET /users/{id}/profile
func userProfileHandler(a *app) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		me := currentUserID(r)
		targetID := chi.URLParam(r, "id")

		target, err := a.store.GetProfile(r.Context(), targetID)
		if err != nil {
			writeAppError(w, a.log, err)
			return
		}
		// Blocking hides the profile in both directions.
		if targetID != me && target.HasBlocked(me) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}

		viewer, err := a.store.GetProfile(r.Context(), me)
		if err != nil && !apperr.IsCode(err, apperr.CodeNotFound) {
			writeAppError(w, a.log, err)
			return
		}
		if viewer != nil && viewer.HasBlocked(targetID) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		writeJSON(w, http.StatusOK, newPublicProfile(target, viewer))
	})
}

// POST /me/blocks/{id} and DELETE /me/blocks/{id}
func blockHandler(a *app, blocked bool) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		me := currentUserID(r)
		targetID := chi.URLParam(r, "id")
		if targetID == "" || targetID == me {
			writeError(w, http.StatusBadRequest, "invalid_target")
			return
		}
		if err := a.store.SetBlocked(r.Context(), me, targetID, blocked); err != nil {
			if apperr.IsCode(err, apperr.CodeNotFound) {
				writeError(w, http.StatusNotFound, "incomplete_profile")
				return
			}
			writeAppError(w, a.log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"blocked": blocked})
	})
}
