package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/NeilG112/LocalLoop/apperr"
)

// Memory is an in-process Store. It backs the tests and single-node
// development runs.
type Memory struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
	order    []string // profile ids in creation order
	accounts map[string]*Account // by lower-cased email
	swipes   []Swipe
	matches  map[string]*Match
	byPair   map[string]string // "low|high" -> match id
	messages map[string][]Message

	pairMu    sync.Mutex
	pairLocks map[string]*pairLock

	bus *Bus
	now func() time.Time
}

var (
	_ Store    = (*Memory)(nil)
	_ Accounts = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		profiles:  make(map[string]*Profile),
		accounts:  make(map[string]*Account),
		matches:   make(map[string]*Match),
		byPair:    make(map[string]string),
		messages:  make(map[string][]Message),
		pairLocks: make(map[string]*pairLock),
		bus:       NewBus(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the timestamp source.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func pairID(a, b string) string {
	lo, hi := PairKey(a, b)
	return lo + "|" + hi
}

func (m *Memory) GetProfilesByRole(ctx context.Context, role Role, limit int) ([]Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Profile, 0)
	for _, id := range m.order {
		p := m.profiles[id]
		if p.Role != role {
			continue
		}
		out = append(out, p.clone())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) GetOutgoingSwipes(ctx context.Context, userID string) ([]Swipe, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Swipe, 0)
	for _, s := range m.swipes {
		if s.From == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) GetMatchesForUser(ctx context.Context, userID string) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Match, 0)
	for _, mt := range m.matches {
		if mt.Has(userID) {
			out = append(out, cloneMatch(mt))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := out[i].activity(), out[j].activity()
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[userID]
	if !ok {
		return nil, apperr.NotFound("profile not found")
	}
	c := p.clone()
	return &c, nil
}

func (m *Memory) GetProfiles(ctx context.Context, userIDs []string) (map[string]Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Profile, len(userIDs))
	for _, id := range userIDs {
		if p, ok := m.profiles[id]; ok {
			out[id] = p.clone()
		}
	}
	return out, nil
}

func (m *Memory) PutProfile(ctx context.Context, p Profile) (Profile, error) {
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}
	p.Prepare()
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if existing, ok := m.profiles[p.ID]; ok {
		p.CreatedAt = existing.CreatedAt
		p.BlockedUsers = append([]string{}, existing.BlockedUsers...)
	} else {
		p.CreatedAt = now
		m.order = append(m.order, p.ID)
	}
	p.UpdatedAt = now
	stored := p.clone()
	m.profiles[p.ID] = &stored
	return p.clone(), nil
}

func (m *Memory) SetBlocked(ctx context.Context, blockerID, targetID string, blocked bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[blockerID]
	if !ok {
		return apperr.NotFound("profile not found")
	}
	has := p.HasBlocked(targetID)
	switch {
	case blocked && !has:
		p.BlockedUsers = append(p.BlockedUsers, targetID)
	case !blocked && has:
		kept := p.BlockedUsers[:0]
		for _, id := range p.BlockedUsers {
			if id != targetID {
				kept = append(kept, id)
			}
		}
		p.BlockedUsers = kept
	default:
		return nil
	}
	p.UpdatedAt = m.now()
	return nil
}

func (m *Memory) PutSwipe(ctx context.Context, s Swipe) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	s.ID = uuid.NewString()
	s.Timestamp = m.now()
	m.swipes = append(m.swipes, s)
	m.mu.Unlock()

	m.bus.Publish(Event{Kind: EventSwipeRecorded, UserIDs: []string{s.From, s.To}, Swipe: &s, At: s.Timestamp})
	return s.ID, nil
}

func (m *Memory) FindSwipe(ctx context.Context, from, to string, t SwipeType) (*Swipe, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := len(m.swipes) - 1; i >= 0; i-- {
		s := m.swipes[i]
		if s.From == from && s.To == to && s.Type == t {
			return &s, nil
		}
	}
	return nil, nil
}

func (m *Memory) CreateMatch(ctx context.Context, userA, userB string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	m.mu.Lock()
	key := pairID(userA, userB)
	if id, ok := m.byPair[key]; ok {
		m.mu.Unlock()
		return id, false, nil
	}
	lo, hi := PairKey(userA, userB)
	mt := &Match{ID: uuid.NewString(), Users: [2]string{lo, hi}, CreatedAt: m.now()}
	m.matches[mt.ID] = mt
	m.byPair[key] = mt.ID
	evt := Event{Kind: EventMatchCreated, UserIDs: []string{lo, hi}, MatchID: mt.ID, Match: ptr(cloneMatch(mt)), At: mt.CreatedAt}
	m.mu.Unlock()

	m.bus.Publish(evt)
	return mt.ID, true, nil
}

func (m *Memory) GetMatch(ctx context.Context, matchID string) (*Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	mt, ok := m.matches[matchID]
	if !ok {
		return nil, apperr.NotFound("match not found")
	}
	c := cloneMatch(mt)
	return &c, nil
}

func (m *Memory) AppendMessage(ctx context.Context, matchID, senderID, text string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	m.mu.Lock()
	mt, ok := m.matches[matchID]
	if !ok {
		m.mu.Unlock()
		return Message{}, apperr.NotFound("match not found")
	}
	msg := Message{ID: ulid.Make().String(), MatchID: matchID, SenderID: senderID, Text: text, CreatedAt: m.now()}
	m.messages[matchID] = append(m.messages[matchID], msg)
	users := []string{mt.Users[0], mt.Users[1]}
	m.mu.Unlock()

	m.bus.Publish(Event{Kind: EventMessageAppended, UserIDs: users, MatchID: matchID, Message: &msg, At: msg.CreatedAt})
	return msg, nil
}

func (m *Memory) GetMessages(ctx context.Context, matchID string, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.matches[matchID]; !ok {
		return nil, apperr.NotFound("match not found")
	}
	msgs := m.messages[matchID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]Message{}, msgs...), nil
}

func (m *Memory) UpdateMatchSummary(ctx context.Context, matchID, text string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	mt, ok := m.matches[matchID]
	if !ok {
		m.mu.Unlock()
		return apperr.NotFound("match not found")
	}
	mt.LastMessage = text
	mt.LastMessageAt = ptr(at)
	evt := Event{Kind: EventMatchUpdated, UserIDs: []string{mt.Users[0], mt.Users[1]}, MatchID: matchID, Match: ptr(cloneMatch(mt)), At: at}
	m.mu.Unlock()

	m.bus.Publish(evt)
	return nil
}

// WithinPair serialises callers on the same unordered pair. The memory
// store applies writes immediately, so there is nothing to roll back.
func (m *Memory) WithinPair(ctx context.Context, a, b string, fn func(Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := pairID(a, b)
	l := m.acquirePair(key)
	defer m.releasePair(key, l)
	return fn(m)
}

// pairLock is dropped from Memory.pairLocks once no caller holds or waits
// on it.
type pairLock struct {
	mu   sync.Mutex
	refs int
}

func (m *Memory) acquirePair(key string) *pairLock {
	m.pairMu.Lock()
	l, ok := m.pairLocks[key]
	if !ok {
		l = &pairLock{}
		m.pairLocks[key] = l
	}
	l.refs++
	m.pairMu.Unlock()

	l.mu.Lock()
	return l
}

func (m *Memory) releasePair(key string, l *pairLock) {
	l.mu.Unlock()

	m.pairMu.Lock()
	defer m.pairMu.Unlock()
	if l.refs--; l.refs == 0 {
		delete(m.pairLocks, key)
	}
}

func (m *Memory) Subscribe(q Query) (<-chan Event, func()) {
	return m.bus.Subscribe(q)
}

func (m *Memory) CreateAccount(ctx context.Context, email, passwordHash string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	key := strings.ToLower(strings.TrimSpace(email))
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[key]; ok {
		return Account{}, apperr.AlreadyExists("email already registered")
	}
	a := &Account{ID: uuid.NewString(), Email: key, PasswordHash: passwordHash, CreatedAt: m.now()}
	m.accounts[key] = a
	return *a, nil
}

func (m *Memory) AccountByEmail(ctx context.Context, email string) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, apperr.NotFound("account not found")
	}
	c := *a
	return &c, nil
}

// SwipeCount returns how many swipes were stored; used by tests.
func (m *Memory) SwipeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.swipes)
}

// MatchCount returns how many matches exist; used by tests.
func (m *Memory) MatchCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.matches)
}

func cloneMatch(mt *Match) Match {
	c := *mt
	if mt.LastMessageAt != nil {
		c.LastMessageAt = ptr(*mt.LastMessageAt)
	}
	return c
}

func ptr[T any](v T) *T { return &v }
