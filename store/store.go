// Package store is the data-access boundary of the discovery and matching
// core. Implementations: Memory (tests, single-node dev) and Postgres.
package store

import (
	"context"
	"time"
)

// Store is the document-store contract the engines depend on.
//
// Implementations return *apperr.Error values: CodeNotFound for missing
// profiles or matches and CodeUnavailable for backend failures.
type Store interface {
	// GetProfilesByRole returns at most limit profiles of role in the
	// store's natural order (creation time, then id).
	GetProfilesByRole(ctx context.Context, role Role, limit int) ([]Profile, error)
	GetOutgoingSwipes(ctx context.Context, userID string) ([]Swipe, error)
	// GetMatchesForUser orders by last activity, newest first.
	GetMatchesForUser(ctx context.Context, userID string) ([]Match, error)
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	// GetProfiles loads many profiles at once. Missing ids are absent from
	// the result map.
	GetProfiles(ctx context.Context, userIDs []string) (map[string]Profile, error)
	// PutProfile creates or replaces a profile. The blocked set of an
	// existing profile is kept; it only changes through SetBlocked.
	PutProfile(ctx context.Context, p Profile) (Profile, error)
	SetBlocked(ctx context.Context, blockerID, targetID string, blocked bool) error

	PutSwipe(ctx context.Context, s Swipe) (string, error)
	// FindSwipe returns nil, nil when no such swipe exists.
	FindSwipe(ctx context.Context, from, to string, t SwipeType) (*Swipe, error)

	// CreateMatch is idempotent per unordered pair: when a match already
	// exists its id is returned with created == false.
	CreateMatch(ctx context.Context, userA, userB string) (id string, created bool, err error)
	GetMatch(ctx context.Context, matchID string) (*Match, error)
	AppendMessage(ctx context.Context, matchID, senderID, text string) (Message, error)
	// GetMessages returns the newest limit messages oldest first. limit <= 0
	// returns all.
	GetMessages(ctx context.Context, matchID string, limit int) ([]Message, error)
	UpdateMatchSummary(ctx context.Context, matchID, text string, at time.Time) error

	// WithinPair runs fn against a view of the store that holds an
	// exclusive lock on the unordered pair {a, b}. Writes made through the
	// view commit together. Calls must not be nested for the same pair.
	WithinPair(ctx context.Context, a, b string, fn func(Store) error) error

	Subscribe(q Query) (<-chan Event, func())
}

// Accounts stores login credentials.
type Accounts interface {
	CreateAccount(ctx context.Context, email, passwordHash string) (Account, error)
	// AccountByEmail returns an apperr NotFound error when absent.
	AccountByEmail(ctx context.Context, email string) (*Account, error)
}

// CandidateQuery carries discovery predicates down to stores that can
// evaluate them natively.
type CandidateQuery struct {
	RequesterID string
	Role        Role
	Limit       int
	AgeMin      int
	AgeMax      int
	Gender      GenderPreference
	// Languages are lower-cased; empty means no constraint.
	Languages []string
	// GeohashPrefixes restricts located candidates to these cells.
	// Candidates without a location always pass. Empty means no constraint.
	GeohashPrefixes []string
	// ExcludeIDs are ids the requester has blocked.
	ExcludeIDs []string
}

// CandidateQuerier is implemented by stores that filter candidates
// server-side. Results must also exclude profiles the requester swiped on,
// is matched with, or is blocked by.
type CandidateQuerier interface {
	QueryCandidates(ctx context.Context, q CandidateQuery) ([]Profile, error)
}
