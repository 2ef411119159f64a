package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/NeilG112/LocalLoop/apperr"
	"github.com/NeilG112/LocalLoop/store"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsReadLimit  = 1 << 16
)

// ClientMessage is what a websocket client sends.
type ClientMessage struct {
	Type    string `json:"type"` // "message" | "typing"
	MatchID string `json:"match_id"`
	Text    string `json:"text,omitempty"`
}

// ServerEvent represents a server-sent event
type ServerEvent struct {
	Type    string `json:"type"` // "message" | "match" | "match_updated" | "liked_you" | "typing" | "info" | "error"
	From    string `json:"from,omitempty"`
	MatchID string `json:"match_id,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	userID string
	conn   *websocket.Conn
	send   chan ServerEvent
	done   chan struct{}
}

// trySend drops the event when the client's buffer is full.
func (c *Client) trySend(evt ServerEvent) {
	select {
	case c.send <- evt:
	case <-c.done:
	default:
	}
}

// Hub manages WebSocket client connections
type Hub struct {
	clientsByUser map[string]map[*Client]bool
	mu            sync.RWMutex
}

func newHub() *Hub {
	return &Hub{
		clientsByUser: make(map[string]map[*Client]bool),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clientsByUser[c.userID] == nil {
		h.clientsByUser[c.userID] = make(map[*Client]bool)
	}
	h.clientsByUser[c.userID][c] = true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if peers, ok := h.clientsByUser[c.userID]; ok {
		delete(peers, c)
		if len(peers) == 0 {
			delete(h.clientsByUser, c.userID)
		}
	}
}

func (h *Hub) sendToUser(userID string, evt ServerEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clientsByUser[userID] {
		c.trySend(evt)
	}
}

func (h *Hub) online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clientsByUser[userID]) > 0
}

func newUpgrader(origins []string, dev bool) websocket.Upgrader {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			// Non-browser clients send no Origin.
			return dev || origin == "" || allowed[origin]
		},
	}
}

// GET /ws
func wsHandler(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := getUserIDFromRequest(r)
		if !ok {
			writeAppError(w, a.log, apperr.Unauthorized("missing or invalid token"))
			return
		}

		conn, err := a.upgrader.Upgrade(w, r, nil)
		if err != nil {
			a.log.Debug("ws upgrade failed", zap.String("user_id", userID), zap.Error(err))
			return
		}

		client := &Client{
			userID: userID,
			conn:   conn,
			send:   make(chan ServerEvent, 16),
			done:   make(chan struct{}),
		}
		a.hub.register(client)

		events, cancel := a.store.Subscribe(store.Query{UserID: userID})

		client.send <- ServerEvent{Type: "info", Data: "connected"}

		go a.pumpEvents(client, events)
		go clientWriter(client)
		a.clientReader(client)

		cancel()
	}
}

// pumpEvents forwards store change events about the client's user.
func (a *app) pumpEvents(c *Client, events <-chan store.Event) {
	for {
		select {
		case <-c.done:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if evt, ok := eventFor(c.userID, e); ok {
				c.trySend(evt)
			}
		}
	}
}

// eventFor translates a store event into what userID should see.
func eventFor(userID string, e store.Event) (ServerEvent, bool) {
	switch e.Kind {
	case store.EventMatchCreated:
		if e.Match == nil {
			return ServerEvent{}, false
		}
		return ServerEvent{
			Type:    "match",
			MatchID: e.Match.ID,
			Data:    map[string]string{"match_id": e.Match.ID, "peer_id": e.Match.Other(userID)},
		}, true
	case store.EventMatchUpdated:
		if e.Match == nil {
			return ServerEvent{}, false
		}
		return ServerEvent{Type: "match_updated", MatchID: e.Match.ID, Data: e.Match}, true
	case store.EventMessageAppended:
		if e.Message == nil {
			return ServerEvent{}, false
		}
		return ServerEvent{Type: "message", From: e.Message.SenderID, MatchID: e.Message.MatchID, Data: e.Message}, true
	case store.EventSwipeRecorded:
		// Only likes are announced, and only to the liked user.
		if e.Swipe == nil || e.Swipe.Type != store.SwipeLike || e.Swipe.To != userID {
			return ServerEvent{}, false
		}
		return ServerEvent{Type: "liked_you", From: e.Swipe.From}, true
	}
	return ServerEvent{}, false
}

func (a *app) clientReader(c *Client) {
	defer func() {
		a.hub.unregister(c)
		close(c.done)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.trySend(ServerEvent{Type: "error", Data: "invalid message format"})
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), wsWriteWait)
		switch msg.Type {
		case "message":
			// Delivery to both participants happens through the store
			// event stream.
			if _, err := a.matching.SendMessage(ctx, msg.MatchID, c.userID, msg.Text); err != nil {
				c.trySend(ServerEvent{Type: "error", MatchID: msg.MatchID, Data: wsErrorText(a.log, err)})
			} else {
				messagesSent.Inc()
			}

		case "typing":
			peer, err := a.matching.Peer(ctx, msg.MatchID, c.userID)
			if err != nil {
				c.trySend(ServerEvent{Type: "error", MatchID: msg.MatchID, Data: wsErrorText(a.log, err)})
				break
			}
			a.hub.sendToUser(peer, ServerEvent{Type: "typing", From: c.userID, MatchID: msg.MatchID})

		default:
			c.trySend(ServerEvent{Type: "error", Data: "unknown message type"})
		}
		cancel()
	}
}

// wsErrorText is the snake_case code a websocket client sees for err.
func wsErrorText(logger *zap.Logger, err error) string {
	code := apperr.CodeOf(err)
	if code.HTTPStatus() >= http.StatusInternalServerError {
		logger.Error("ws request failed", zap.Error(err))
	}
	return errorCode(code)
}

func clientWriter(c *Client) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case evt := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			// ping to keep the connection alive
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
