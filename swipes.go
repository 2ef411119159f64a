package main

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/NeilG112/LocalLoop/store"
)

type swipeRequest struct {
	Type store.SwipeType `json:"type"`
}

// POST /swipes/{id}
func swipeHandler(a *app) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		me := currentUserID(r)
		targetID := chi.URLParam(r, "id")

		var req swipeRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		if !req.Type.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_swipe_type")
			return
		}
		if targetID == me {
			writeError(w, http.StatusBadRequest, "invalid_target")
			return
		}

		key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
		if key != "" {
			key = "swipe:" + me + ":" + key
			if resp, ok := a.idem.lookup(r.Context(), key); ok {
				w.Header().Set("Idempotent-Replayed", "true")
				writeJSON(w, resp.Status, resp.Body)
				return
			}
			if !a.idem.acquire(r.Context(), key) {
				writeError(w, http.StatusConflict, "request_in_progress")
				return
			}
			defer a.idem.release(r.Context(), key)
		}

		if _, err := a.store.GetProfile(r.Context(), targetID); err != nil {
			writeAppError(w, a.log, err)
			return
		}

		res, err := a.matching.RecordSwipe(r.Context(), me, targetID, req.Type)
		if err != nil {
			writeAppError(w, a.log, err)
			return
		}

		swipesTotal.WithLabelValues(string(req.Type)).Inc()
		if res.Created {
			matchesCreated.Inc()
		}
		a.log.Debug("swipe recorded",
			zap.String("from", me), zap.String("to", targetID),
			zap.String("type", string(req.Type)), zap.Bool("matched", res.Matched))

		if key != "" {
			a.idem.save(r.Context(), key, http.StatusOK, res)
		}
		writeJSON(w, http.StatusOK, res)
	})
}

// GET /likes/{id} tells whether {id} has liked the caller.
func likedMeHandler(a *app) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		liked, err := a.matching.HasLiked(r.Context(), currentUserID(r), chi.URLParam(r, "id"))
		if err != nil {
			writeAppError(w, a.log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"liked": liked})
	})
}

