package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/NeilG112/LocalLoop/apperr"
	"github.com/NeilG112/LocalLoop/store"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
)

type peerSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Photo  string `json:"photo,omitempty"`
	Online bool   `json:"online"`
}

type matchSummary struct {
	ID            string      `json:"id"`
	Peer          peerSummary `json:"peer"`
	CreatedAt     time.Time   `json:"created_at"`
	LastMessage   string      `json:"last_message,omitempty"`
	LastMessageAt *time.Time  `json:"last_message_at,omitempty"`
}

// GET /matches lists the caller's matches, most recently active first.
func matchesHandler(a *app) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		me := currentUserID(r)
		matches, err := a.matching.ListMatches(r.Context(), me)
		if err != nil {
			writeAppError(w, a.log, err)
			return
		}

		loaders := GetDataLoadersFromContext(r.Context())
		if loaders == nil {
			loaders = NewDataLoaders(a.store)
		}
		// Queue every peer first so the loader resolves them in one batch.
		thunks := make([]func() (*store.Profile, error), len(matches))
		for i := range matches {
			thunks[i] = loaders.ProfileLoader.Load(r.Context(), matches[i].Other(me))
		}

		out := make([]matchSummary, 0, len(matches))
		for i, m := range matches {
			sum := matchSummary{
				ID:            m.ID,
				Peer:          peerSummary{ID: m.Other(me), Online: a.hub.online(m.Other(me))},
				CreatedAt:     m.CreatedAt,
				LastMessage:   m.LastMessage,
				LastMessageAt: m.LastMessageAt,
			}
			peer, err := thunks[i]()
			switch {
			case err == nil:
				sum.Peer.Name = peer.Name
				if len(peer.Photos) > 0 {
					sum.Peer.Photo = peer.Photos[0]
				}
			case apperr.IsCode(err, apperr.CodeNotFound):
				// peer without a profile keeps only its id
			default:
				a.log.Warn("load match peer", zap.String("match_id", m.ID), zap.Error(err))
			}
			out = append(out, sum)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"matches": out})
	})
}

// GET /matches/{id}/messages?limit=50
func listMessagesHandler(a *app) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		limit := defaultMessageLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= maxMessageLimit {
				limit = n
			}
		}

		msgs, err := a.matching.ListMessages(r.Context(), chi.URLParam(r, "id"), currentUserID(r), limit)
		if err != nil {
			writeAppError(w, a.log, err)
			return
		}
		if msgs == nil {
			msgs = []store.Message{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
	})
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

// POST /matches/{id}/messages
func sendMessageHandler(a *app) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		var req sendMessageRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		msg, err := a.matching.SendMessage(r.Context(), chi.URLParam(r, "id"), currentUserID(r), req.Text)
		if err != nil {
			writeAppError(w, a.log, err)
			return
		}
		messagesSent.Inc()
		writeJSON(w, http.StatusCreated, msg)
	})
}
