// Package discovery builds a user's candidate feed: profiles of the
// opposite role, minus everyone already swiped, matched or blocked,
// narrowed by the feed filters.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/NeilG112/LocalLoop/apperr"
	"github.com/NeilG112/LocalLoop/geo"
	"github.com/NeilG112/LocalLoop/store"
)

// DefaultBatchSize bounds one candidate fetch. It is larger than a feed
// page to absorb filtering attrition.
const DefaultBatchSize = 50

// FetchError reports a store failure during discovery. Callers should
// treat it as transient and may retry.
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("discovery: %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Temporary() bool { return true }

type Engine struct {
	store     store.Store
	batchSize int
	log       *zap.Logger
	sessions  *sessions
}

type Option func(*Engine)

func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:     s,
		batchSize: DefaultBatchSize,
		log:       zap.NewNop(),
		sessions:  newSessions(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FindCandidates returns the requester's feed in the store's natural order.
// A nil requester yields an empty feed. Nil filters are derived from the
// requester's preferences. A newer call for the same requester makes this
// one return ErrSuperseded.
func (e *Engine) FindCandidates(ctx context.Context, requester *store.Profile, filters *Filters) ([]store.Profile, error) {
	if requester == nil || requester.ID == "" {
		return []store.Profile{}, nil
	}
	if !requester.Role.Valid() {
		return nil, apperr.Validation("requester has no role")
	}
	f := DefaultFilters(requester)
	if filters != nil {
		f = *filters
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if len(f.Interests) > 0 {
		e.log.Debug("interest filter ignored", zap.String("user_id", requester.ID), zap.Strings("interests", f.Interests))
	}

	ctx, done := e.sessions.begin(ctx, requester.ID)
	defer done()

	out, err := e.find(ctx, requester, &f)
	if superseded(ctx) {
		return nil, ErrSuperseded
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) find(ctx context.Context, requester *store.Profile, f *Filters) ([]store.Profile, error) {
	candidates, err := e.fetch(ctx, requester, f)
	if err != nil {
		return nil, e.fetchErr("fetch candidates", err)
	}
	swipes, err := e.store.GetOutgoingSwipes(ctx, requester.ID)
	if err != nil {
		return nil, e.fetchErr("get outgoing swipes", err)
	}
	matches, err := e.store.GetMatchesForUser(ctx, requester.ID)
	if err != nil {
		return nil, e.fetchErr("get matches", err)
	}

	excluded := make(map[string]struct{}, len(swipes)+len(matches)+1)
	excluded[requester.ID] = struct{}{}
	for _, s := range swipes {
		excluded[s.To] = struct{}{}
	}
	for _, m := range matches {
		excluded[m.Other(requester.ID)] = struct{}{}
	}

	languages := f.languages()
	out := make([]store.Profile, 0, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		if _, skip := excluded[c.ID]; skip {
			continue
		}
		if requester.HasBlocked(c.ID) || c.HasBlocked(requester.ID) {
			continue
		}
		if !passes(requester, c, f, languages) {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

// fetch pulls one batch of opposite-role profiles, letting the store
// pre-filter when it can.
func (e *Engine) fetch(ctx context.Context, requester *store.Profile, f *Filters) ([]store.Profile, error) {
	target := requester.Role.Opposite()
	cq, ok := e.store.(store.CandidateQuerier)
	if !ok {
		return e.store.GetProfilesByRole(ctx, target, e.batchSize)
	}

	q := store.CandidateQuery{
		RequesterID: requester.ID,
		Role:        target,
		Limit:       e.batchSize,
		AgeMin:      f.AgeRange.Min,
		AgeMax:      f.AgeRange.Max,
		Gender:      f.Gender,
		ExcludeIDs:  requester.BlockedUsers,
	}
	for _, l := range f.languages() {
		q.Languages = append(q.Languages, strings.ToLower(l))
	}
	if c, ok := requester.Coordinates(); ok {
		q.GeohashPrefixes = geo.CoverPrefixes(c, f.MaxDistanceKm)
	}
	return cq.QueryCandidates(ctx, q)
}

// passes applies the feed predicates in order: age, gender, distance,
// language.
func passes(requester, c *store.Profile, f *Filters, languages []string) bool {
	if !f.AgeRange.Contains(c.Age) {
		return false
	}
	if !f.Gender.Accepts(c.Gender) {
		return false
	}
	if from, ok := requester.Coordinates(); ok {
		if to, ok := c.Coordinates(); ok && !geo.WithinRadius(from, to, f.MaxDistanceKm) {
			return false
		}
	}
	if len(languages) > 0 {
		for _, l := range languages {
			if c.Speaks(l) {
				return true
			}
		}
		return false
	}
	return true
}

// fetchErr wraps store failures. Validation errors and cancellation pass
// through unchanged.
func (e *Engine) fetchErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if apperr.IsCode(err, apperr.CodeInvalidArgument) {
		return err
	}
	e.log.Warn("discovery fetch failed", zap.String("op", op), zap.Error(err))
	return &FetchError{Op: op, Err: err}
}

// Distance returns the distance between requester and candidate when both
// have coordinates.
func Distance(requester, candidate *store.Profile) (float64, bool) {
	from, ok := requester.Coordinates()
	if !ok {
		return 0, false
	}
	to, ok := candidate.Coordinates()
	if !ok {
		return 0, false
	}
	return geo.DistanceKm(from, to), true
}
