// Package matching records swipes, turns mutual likes into matches and
// carries the messages exchanged inside a match.
package matching

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/NeilG112/LocalLoop/apperr"
	"github.com/NeilG112/LocalLoop/store"
)

// MaxMessageLength is counted in characters after trimming.
const MaxMessageLength = 2000

// Result is the outcome of RecordSwipe.
type Result struct {
	SwipeID string `json:"swipe_id"`
	Matched bool   `json:"matched"`
	MatchID string `json:"match_id,omitempty"`
	// Created is false when the match already existed.
	Created bool `json:"-"`
}

type Engine struct {
	store store.Store
	log   *zap.Logger
}

func New(s store.Store, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{store: s, log: log}
}

// RecordSwipe stores actor's decision about target. A like that finds a
// like in the other direction creates the pair's match. The whole step
// runs under the pair lock, so concurrent mutual likes yield one match.
func (e *Engine) RecordSwipe(ctx context.Context, actorID, targetID string, decision store.SwipeType) (Result, error) {
	switch {
	case actorID == "" || targetID == "":
		return Result{}, apperr.Validation("actor and target are required")
	case actorID == targetID:
		return Result{}, apperr.Validation("cannot swipe on yourself")
	case !decision.Valid():
		return Result{}, apperr.Validation("swipe type must be like or dislike")
	}

	var res Result
	err := e.store.WithinPair(ctx, actorID, targetID, func(tx store.Store) error {
		id, err := tx.PutSwipe(ctx, store.Swipe{From: actorID, To: targetID, Type: decision})
		if err != nil {
			return err
		}
		res.SwipeID = id
		if decision == store.SwipeDislike {
			return nil
		}

		reciprocal, err := tx.FindSwipe(ctx, targetID, actorID, store.SwipeLike)
		if err != nil {
			return err
		}
		if reciprocal == nil {
			return nil
		}

		matchID, created, err := tx.CreateMatch(ctx, actorID, targetID)
		if err != nil {
			return err
		}
		res.Matched, res.MatchID, res.Created = true, matchID, created
		return nil
	})
	if err != nil {
		e.log.Warn("record swipe failed",
			zap.String("actor_id", actorID), zap.String("target_id", targetID), zap.Error(err))
		return Result{}, err
	}
	if res.Created {
		e.log.Info("match created", zap.String("match_id", res.MatchID),
			zap.String("actor_id", actorID), zap.String("target_id", targetID))
	}
	return res, nil
}

// HasLiked reports whether other has liked observer.
func (e *Engine) HasLiked(ctx context.Context, observerID, otherID string) (bool, error) {
	if observerID == "" || otherID == "" {
		return false, apperr.Validation("observer and other are required")
	}
	s, err := e.store.FindSwipe(ctx, otherID, observerID, store.SwipeLike)
	if err != nil {
		return false, err
	}
	return s != nil, nil
}

// SendMessage appends text to the match and refreshes its summary. Both
// writes happen under the pair lock.
func (e *Engine) SendMessage(ctx context.Context, matchID, senderID, text string) (store.Message, error) {
	text = strings.TrimSpace(text)
	switch {
	case matchID == "" || senderID == "":
		return store.Message{}, apperr.Validation("match and sender are required")
	case text == "":
		return store.Message{}, apperr.Validation("message text is empty")
	case utf8.RuneCountInString(text) > MaxMessageLength:
		return store.Message{}, apperr.Validation("message text is too long")
	}

	m, err := e.participantMatch(ctx, matchID, senderID)
	if err != nil {
		return store.Message{}, err
	}

	var msg store.Message
	err = e.store.WithinPair(ctx, m.Users[0], m.Users[1], func(tx store.Store) error {
		var err error
		if msg, err = tx.AppendMessage(ctx, matchID, senderID, text); err != nil {
			return err
		}
		return tx.UpdateMatchSummary(ctx, matchID, msg.Text, msg.CreatedAt)
	})
	if err != nil {
		return store.Message{}, err
	}
	return msg, nil
}

// ListMatches returns userID's matches, most recently active first.
func (e *Engine) ListMatches(ctx context.Context, userID string) ([]store.Match, error) {
	if userID == "" {
		return nil, apperr.Validation("user is required")
	}
	return e.store.GetMatchesForUser(ctx, userID)
}

// ListMessages returns up to limit latest messages of a match, oldest
// first. Only participants may read them.
func (e *Engine) ListMessages(ctx context.Context, matchID, userID string, limit int) ([]store.Message, error) {
	if _, err := e.participantMatch(ctx, matchID, userID); err != nil {
		return nil, err
	}
	return e.store.GetMessages(ctx, matchID, limit)
}

func (e *Engine) participantMatch(ctx context.Context, matchID, userID string) (*store.Match, error) {
	m, err := e.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !m.Has(userID) {
		return nil, apperr.Forbidden("not a participant of this match")
	}
	return m, nil
}

// Peer returns the other participant of a match userID belongs to.
func (e *Engine) Peer(ctx context.Context, matchID, userID string) (string, error) {
	m, err := e.participantMatch(ctx, matchID, userID)
	if err != nil {
		return "", err
	}
	return m.Other(userID), nil
}
