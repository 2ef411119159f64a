package main

import (
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/NeilG112/LocalLoop/apperr"
	"github.com/NeilG112/LocalLoop/discovery"
	"github.com/NeilG112/LocalLoop/store"
)

// filtersFromQuery starts from the requester's defaults and overrides
// whatever the query sets.
func filtersFromQuery(r *http.Request, me *store.Profile) (discovery.Filters, error) {
	f := discovery.DefaultFilters(me)
	q := r.URL.Query()

	if v := q.Get("min_age"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, apperr.Validation("min_age must be an integer")
		}
		f.AgeRange.Min = n
	}
	if v := q.Get("max_age"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, apperr.Validation("max_age must be an integer")
		}
		f.AgeRange.Max = n
	}
	if v := q.Get("gender"); v != "" {
		f.Gender = store.GenderPreference(v)
	}
	if v := q.Get("max_distance"); v != "" {
		km, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return f, apperr.Validation("max_distance must be a number")
		}
		f.MaxDistanceKm = km
	}
	if v := q.Get("languages"); v != "" {
		f.Languages = splitParam(v)
	}
	if v := q.Get("interests"); v != "" {
		f.Interests = splitParam(v)
	}
	return f, nil
}

// GET /discover
func discoverHandler(a *app) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		me, err := a.store.GetProfile(r.Context(), currentUserID(r))
		if apperr.IsCode(err, apperr.CodeNotFound) {
			// Gate by profile completion
			writeError(w, http.StatusForbidden, "incomplete_profile")
			return
		} else if err != nil {
			writeAppError(w, a.log, err)
			return
		}

		filters, err := filtersFromQuery(r, me)
		if err != nil {
			discoveryRequests.WithLabelValues("invalid").Inc()
			writeError(w, http.StatusBadRequest, "invalid_filters")
			return
		}

		candidates, err := a.discovery.FindCandidates(r.Context(), me, &filters)
		if err != nil {
			var fe *discovery.FetchError
			switch {
			case errors.Is(err, discovery.ErrSuperseded):
				discoveryRequests.WithLabelValues("superseded").Inc()
				writeError(w, http.StatusConflict, "superseded")
			case apperr.IsCode(err, apperr.CodeInvalidArgument):
				discoveryRequests.WithLabelValues("invalid").Inc()
				writeError(w, http.StatusBadRequest, "invalid_filters")
			case errors.As(err, &fe):
				discoveryRequests.WithLabelValues("error").Inc()
				a.log.Warn("discovery failed", zap.String("op", fe.Op), zap.Error(fe.Err))
				writeError(w, http.StatusServiceUnavailable, "discovery_unavailable")
			default:
				discoveryRequests.WithLabelValues("error").Inc()
				writeAppError(w, a.log, err)
			}
			return
		}

		out := make([]publicProfile, 0, len(candidates))
		for i := range candidates {
			out = append(out, newPublicProfile(&candidates[i], me))
		}
		discoveryRequests.WithLabelValues("ok").Inc()
		discoveryCandidates.Observe(float64(len(out)))
		writeJSON(w, http.StatusOK, map[string]interface{}{"candidates": out})
	})
}
